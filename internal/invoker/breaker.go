package invoker

import (
	"sync"
	"time"
)

// #region state

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed is normal operation: calls pass through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen admits exactly one probe call.
	BreakerHalfOpen
)

// String returns a human-readable state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// #endregion state

// #region config

// BreakerConfig configures the breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// opens the breaker (default: 5).
	FailureThreshold int

	// Cooldown is how long the breaker stays open before admitting a probe
	// (default: 60s).
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the documented defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
	}
}

// BreakerStats is a point-in-time snapshot.
type BreakerStats struct {
	Provider        string    `json:"provider"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	LastStateChange time.Time `json:"last_state_change"`
}

// #endregion config

// #region interface

// CircuitBreaker is the breaker contract the invoker depends on.
type CircuitBreaker interface {
	// Allow reports whether a call may proceed. In half-open only one caller
	// is admitted until it reports back. The permit goes back with the
	// outcome so only the probe's own result moves a half-open breaker.
	Allow() (Permit, bool)
	RecordSuccess(p Permit)
	RecordFailure(p Permit)
	// Release returns an admitted call without an outcome, e.g. when the
	// caller cancelled before the provider answered.
	Release(p Permit)
	State() BreakerState
	Failures() int
}

// Permit identifies an admitted call. The zero value is an ordinary call
// admitted while closed.
type Permit struct {
	probe bool
}

// Probe reports whether the call was admitted as the half-open probe.
func (p Permit) Probe() bool { return p.probe }

// #endregion interface

// #region breaker

// Breaker is a per-provider circuit breaker. Reads that decide fast-fail take
// the read lock; every state transition happens under the write lock.
//
// Thread Safety: Safe for concurrent use.
type Breaker struct {
	provider     string
	config       BreakerConfig
	clock        Clock
	onTransition func(provider string, from, to BreakerState)

	mu              sync.RWMutex
	state           BreakerState
	failures        int
	lastStateChange time.Time
	probeInFlight   bool

	totalFailures   int64
	totalRejections int64
}

// NewBreaker creates a closed breaker. onTransition may be nil.
func NewBreaker(provider string, config BreakerConfig, clock Clock, onTransition func(provider string, from, to BreakerState)) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Breaker{
		provider:        provider,
		config:          config,
		clock:           clock,
		onTransition:    onTransition,
		state:           BreakerClosed,
		lastStateChange: clock.Now(),
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Failures returns the current consecutive-failure counter.
func (b *Breaker) Failures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// Allow checks whether a call should proceed.
func (b *Breaker) Allow() (Permit, bool) {
	// Fast path: closed, or open and still cooling down.
	b.mu.RLock()
	switch {
	case b.state == BreakerClosed:
		b.mu.RUnlock()
		return Permit{}, true
	case b.state == BreakerOpen && b.clock.Now().Sub(b.lastStateChange) < b.config.Cooldown:
		b.mu.RUnlock()
		b.reject()
		return Permit{}, false
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return Permit{}, true
	case BreakerOpen:
		if b.clock.Now().Sub(b.lastStateChange) < b.config.Cooldown {
			b.totalRejections++
			return Permit{}, false
		}
		b.transitionTo(BreakerHalfOpen)
	}
	// Half-open: one probe at a time.
	if b.probeInFlight {
		b.totalRejections++
		return Permit{}, false
	}
	b.probeInFlight = true
	return Permit{probe: true}, true
}

func (b *Breaker) reject() {
	b.mu.Lock()
	b.totalRejections++
	b.mu.Unlock()
}

// RecordSuccess resets the failure counter. The probe's success closes a
// half-open breaker; a late success from a call admitted before the breaker
// opened does not.
func (b *Breaker) RecordSuccess(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !p.probe {
		if b.state == BreakerClosed {
			b.failures = 0
		}
		return
	}
	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.probeInFlight = false
		b.transitionTo(BreakerClosed)
	}
}

// RecordFailure counts a transient failure. The breaker opens once the
// counter reaches the threshold. Only the probe's failure reopens a
// half-open breaker and restarts the cool-down.
func (b *Breaker) RecordFailure(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	switch {
	case p.probe:
		if b.state == BreakerHalfOpen {
			b.failures++
			b.probeInFlight = false
			b.transitionTo(BreakerOpen)
		}
	case b.state == BreakerClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(BreakerOpen)
		}
	}
}

// Release frees the half-open probe slot without changing state. Releasing
// an ordinary call is a no-op.
func (b *Breaker) Release(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.probe && b.state == BreakerHalfOpen {
		b.probeInFlight = false
	}
}

// transitionTo changes state. Must be called with the write lock held.
func (b *Breaker) transitionTo(next BreakerState) {
	prev := b.state
	b.state = next
	b.lastStateChange = b.clock.Now()
	if next == BreakerClosed {
		b.failures = 0
	}
	if b.onTransition != nil && prev != next {
		b.onTransition(b.provider, prev, next)
	}
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BreakerStats{
		Provider:        b.provider,
		State:           b.state.String(),
		Failures:        b.failures,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastStateChange: b.lastStateChange,
	}
}

// #endregion breaker

// #region registry

// Registry holds one breaker per provider for the whole process. It is
// created once at startup and injected wherever invokers are built.
type Registry struct {
	config       BreakerConfig
	clock        Clock
	onTransition func(provider string, from, to BreakerState)

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry(config BreakerConfig, clock Clock, onTransition func(provider string, from, to BreakerState)) *Registry {
	return &Registry{
		config:       config,
		clock:        clock,
		onTransition: onTransition,
		breakers:     make(map[string]*Breaker),
	}
}

// For returns the provider's breaker, creating it on first use.
func (r *Registry) For(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = NewBreaker(provider, r.config, r.clock, r.onTransition)
		r.breakers[provider] = b
	}
	return b
}

// Stats returns a snapshot of every breaker.
func (r *Registry) Stats() []BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BreakerStats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}

// #endregion registry
