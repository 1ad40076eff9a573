package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
)

// RedisSpoolConfig names the stream and consumer group.
type RedisSpoolConfig struct {
	Stream        string        // e.g. "cognitive_trace:spool"
	DLQStream     string        // batches that exhausted MaxAttempts
	Group         string        // consumer group
	Consumer      string        // consumer name within the group
	Block         time.Duration // XREADGROUP block time (default: 5s)
	BatchSize     int64         // messages per read (default: 16)
	RetryInterval time.Duration // wait before requeueing a failed batch
	MaxAttempts   int
}

// RedisSpool keeps failed batches in a Redis stream so they survive restarts
// and can be drained by any controller instance.
type RedisSpool struct {
	client *redis.Client
	cfg    RedisSpoolConfig
	logger *log.Logger
}

// NewRedisSpool creates the consumer group if needed.
func NewRedisSpool(ctx context.Context, client *redis.Client, cfg RedisSpoolConfig) (*RedisSpool, error) {
	if cfg.Stream == "" {
		cfg.Stream = "cognitive_trace:spool"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + ":dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "trace-recorder"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "controller"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	d := DefaultSpoolConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = d.RetryInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}

	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &RedisSpool{client: client, cfg: cfg, logger: logging.New("SPOOL")}, nil
}

// Enqueue appends the batch to the stream.
func (s *RedisSpool) Enqueue(ctx context.Context, b Batch) error {
	return s.add(ctx, s.cfg.Stream, b, 1, "")
}

func (s *RedisSpool) add(ctx context.Context, stream string, b Batch, attempt int, lastErr string) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	values := map[string]interface{}{
		"exchange_id": b.ExchangeID,
		"session_id":  b.SessionID,
		"attempt":     strconv.Itoa(attempt),
		"batch":       string(payload),
	}
	if lastErr != "" {
		values["last_error"] = lastErr
	}
	if err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd (stream=%s): %w", stream, err)
	}
	return nil
}

// Pending returns the stream length, or -1 if Redis cannot be reached.
// Handled messages are deleted, so the length is what still waits.
func (s *RedisSpool) Pending() int {
	n, err := s.client.XLen(context.Background(), s.cfg.Stream).Result()
	if err != nil {
		return -1
	}
	return int(n)
}

// Run reads the stream until ctx is done.
func (s *RedisSpool) Run(ctx context.Context, sink Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.Stream, ">"},
			Count:    s.cfg.BatchSize,
			Block:    s.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("read spool stream", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryInterval):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.handle(ctx, sink, msg)
			}
		}
	}
}

// Drain reads without blocking until the group has nothing new. Requeued
// batches are read again, so it returns once every batch has landed or
// reached the dead-letter stream.
func (s *RedisSpool) Drain(ctx context.Context, sink Sink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.Group,
			Consumer: s.cfg.Consumer,
			Streams:  []string{s.cfg.Stream, ">"},
			Count:    s.cfg.BatchSize,
			Block:    -1,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("xreadgroup (stream=%s): %w", s.cfg.Stream, err)
		}
		read := 0
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.handle(ctx, sink, msg)
				read++
			}
		}
		if read == 0 {
			return nil
		}
	}
}

func (s *RedisSpool) handle(ctx context.Context, sink Sink, msg redis.XMessage) {
	defer func() {
		if err := s.client.XAck(ctx, s.cfg.Stream, s.cfg.Group, msg.ID).Err(); err != nil {
			s.logger.Error("xack", "id", msg.ID, "err", err)
			return
		}
		if err := s.client.XDel(ctx, s.cfg.Stream, msg.ID).Err(); err != nil {
			s.logger.Error("xdel", "id", msg.ID, "err", err)
		}
	}()

	b, attempt, err := parseSpoolMessage(msg)
	if err != nil {
		s.logger.Error("unreadable spool message", "id", msg.ID, "err", err)
		return
	}

	err = sink(ctx, b)
	if err == nil {
		s.logger.Info("spooled batch persisted", "exchange", b.ExchangeID, "attempt", attempt)
		return
	}
	if attempt >= s.cfg.MaxAttempts {
		s.logger.Error("moving batch to dlq", "exchange", b.ExchangeID, "attempts", attempt, "err", err)
		if dlqErr := s.add(ctx, s.cfg.DLQStream, b, attempt, err.Error()); dlqErr != nil {
			s.logger.Error("dlq write", "exchange", b.ExchangeID, "err", dlqErr)
		}
		return
	}

	s.logger.Warn("persist retry failed", "exchange", b.ExchangeID, "attempt", attempt, "err", err)
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.RetryInterval):
	}
	if reqErr := s.add(ctx, s.cfg.Stream, b, attempt+1, err.Error()); reqErr != nil {
		s.logger.Error("requeue batch", "exchange", b.ExchangeID, "err", reqErr)
	}
}

func parseSpoolMessage(msg redis.XMessage) (Batch, int, error) {
	raw, ok := msg.Values["batch"].(string)
	if !ok {
		return Batch{}, 0, fmt.Errorf("message %s has no batch field", msg.ID)
	}
	var b Batch
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return Batch{}, 0, fmt.Errorf("unmarshal batch: %w", err)
	}
	attempt := 1
	if s, ok := msg.Values["attempt"].(string); ok {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			attempt = n
		}
	}
	return b, attempt, nil
}
