package trace

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
)

// Sink persists one batch. The orchestrator's sink writes every artifact of
// the exchange in a single transaction.
type Sink func(ctx context.Context, b Batch) error

// Spool holds batches whose first write failed and retries them in the
// background until they land or run out of attempts.
type Spool interface {
	Enqueue(ctx context.Context, b Batch) error
	// Run retries batches until ctx is done.
	Run(ctx context.Context, sink Sink) error
	// Drain retries what is queued now and returns once nothing is left,
	// for processes that exit without a background Run.
	Drain(ctx context.Context, sink Sink) error
	Pending() int
}

// ErrSpoolFull is returned by Enqueue when the memory spool is at capacity.
var ErrSpoolFull = errors.New("trace spool full")

// SpoolConfig tunes retry pacing.
type SpoolConfig struct {
	Capacity      int           // memory spool buffer (default: 256)
	RetryInterval time.Duration // wait before re-attempting a failed batch (default: 2s)
	MaxAttempts   int           // attempts per batch before it is dropped (default: 5)
}

// DefaultSpoolConfig returns the defaults.
func DefaultSpoolConfig() SpoolConfig {
	return SpoolConfig{Capacity: 256, RetryInterval: 2 * time.Second, MaxAttempts: 5}
}

func (c SpoolConfig) withDefaults() SpoolConfig {
	d := DefaultSpoolConfig()
	if c.Capacity <= 0 {
		c.Capacity = d.Capacity
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}

// #region memory-spool

type spooled struct {
	batch   Batch
	attempt int
}

// MemorySpool is an in-process spool. Batches are lost on restart.
type MemorySpool struct {
	config  SpoolConfig
	queue   chan spooled
	pending atomic.Int64
	dropped atomic.Int64
	logger  *log.Logger
}

// NewMemorySpool creates a memory spool.
func NewMemorySpool(config SpoolConfig) *MemorySpool {
	config = config.withDefaults()
	return &MemorySpool{
		config: config,
		queue:  make(chan spooled, config.Capacity),
		logger: logging.New("SPOOL"),
	}
}

// Enqueue adds a batch without blocking.
func (s *MemorySpool) Enqueue(ctx context.Context, b Batch) error {
	return s.push(spooled{batch: b, attempt: 1})
}

func (s *MemorySpool) push(item spooled) error {
	select {
	case s.queue <- item:
		s.pending.Add(1)
		return nil
	default:
		return ErrSpoolFull
	}
}

// Pending returns the number of batches waiting for a retry.
func (s *MemorySpool) Pending() int { return int(s.pending.Load()) }

// Dropped returns the number of batches given up after MaxAttempts.
func (s *MemorySpool) Dropped() int { return int(s.dropped.Load()) }

// Run drains the spool until ctx is done.
func (s *MemorySpool) Run(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-s.queue:
			s.pending.Add(-1)
			s.attempt(ctx, sink, item)
		}
	}
}

// Drain processes what is queued right now, waiting between retries, and
// returns once the queue is empty or ctx ends.
func (s *MemorySpool) Drain(ctx context.Context, sink Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-s.queue:
			s.pending.Add(-1)
			s.attempt(ctx, sink, item)
		default:
			return nil
		}
	}
}

func (s *MemorySpool) attempt(ctx context.Context, sink Sink, item spooled) {
	err := sink(ctx, item.batch)
	if err == nil {
		s.logger.Info("spooled batch persisted", "exchange", item.batch.ExchangeID, "attempt", item.attempt)
		return
	}
	if item.attempt >= s.config.MaxAttempts {
		s.dropped.Add(1)
		s.logger.Error("dropping batch", "exchange", item.batch.ExchangeID, "attempts", item.attempt, "err", err)
		return
	}
	s.logger.Warn("persist retry failed", "exchange", item.batch.ExchangeID, "attempt", item.attempt, "err", err)

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.config.RetryInterval):
	}
	item.attempt++
	if err := s.push(item); err != nil {
		s.dropped.Add(1)
		s.logger.Error("dropping batch", "exchange", item.batch.ExchangeID, "err", err)
	}
}

// #endregion memory-spool
