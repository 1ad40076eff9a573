package invoker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/cognitive-trace/internal/codec"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
)

// #region types

// ErrProviderUnavailable is reported (never returned) when retries are
// exhausted or the breaker is open. The caller always gets a fallback result.
var ErrProviderUnavailable = errors.New("provider unavailable")

// KindBreakerOpen marks a call rejected by the breaker without reaching the
// provider.
const KindBreakerOpen codec.ErrorKind = "breaker_open"

// GenerationResult is the outcome of one Invoke. Fallback is true whenever
// Text is a canned reply rather than model output.
type GenerationResult struct {
	Text         string          `json:"text"`
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	Role         Role            `json:"role"`
	Attempts     int             `json:"attempts"`
	Fallback     bool            `json:"fallback"`
	ErrKind      codec.ErrorKind `json:"error_kind,omitempty"`
	LatencyMs    int64           `json:"latency_ms"`
	BreakerState string          `json:"breaker_state"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
}

// Err returns ErrProviderUnavailable for fallback results, nil otherwise.
func (r GenerationResult) Err() error {
	if r.Fallback {
		return ErrProviderUnavailable
	}
	return nil
}

// Config controls deadlines, retries and client-side rate limiting.
type Config struct {
	Deadline       time.Duration // total wall-clock bound for one Invoke (default: 30s)
	AttemptTimeout time.Duration // bound for a single provider call (default: 10s)
	Retry          RetryConfig
	RatePerSec     float64 // 0 disables the limiter
	Burst          int
	MaxTokens      int
	Temperature    float64 // negative leaves the provider default
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Deadline:       30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		Retry:          DefaultRetryConfig(),
		RatePerSec:     0,
		Burst:          1,
		MaxTokens:      1024,
		Temperature:    -1,
	}
}

// #endregion types

// #region invoker

// Invoker wraps a generator with deadline, retry, rate limiting and a circuit
// breaker. The breaker is injected so one instance can be shared by every
// invoker talking to the same provider.
type Invoker struct {
	gen     codec.Generator
	breaker CircuitBreaker
	config  Config
	clock   Clock
	limiter *rate.Limiter
	logger  *log.Logger
}

// New creates an invoker. A nil breaker gets a private one with default
// settings; a nil clock uses the system clock.
func New(gen codec.Generator, breaker CircuitBreaker, config Config, clock Clock) *Invoker {
	d := DefaultConfig()
	if config.Deadline <= 0 {
		config.Deadline = d.Deadline
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = d.AttemptTimeout
	}
	config.Retry = config.Retry.withDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if breaker == nil {
		breaker = NewBreaker(gen.Name(), DefaultBreakerConfig(), clock, ObserveTransition)
	}

	inv := &Invoker{
		gen:     gen,
		breaker: breaker,
		config:  config,
		clock:   clock,
		logger:  logging.New("INVOKER"),
	}
	if config.RatePerSec > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		inv.limiter = rate.NewLimiter(rate.Limit(config.RatePerSec), burst)
	}
	return inv
}

// Provider returns the wrapped generator's provider name.
func (i *Invoker) Provider() string { return i.gen.Name() }

// ObserveTransition logs and counts a breaker transition. Pass it as the
// onTransition callback of a Breaker or Registry.
func ObserveTransition(provider string, from, to BreakerState) {
	breakerTransitions.WithLabelValues(provider, from.String(), to.String()).Inc()
	logging.New("INVOKER").Warn("breaker transition", "provider", provider, "from", from.String(), "to", to.String())
}

// Invoke generates text for prompt in the given role. deadline <= 0 selects the
// configured default. Invoke never fails: on an empty prompt, an open breaker,
// exhausted retries or an elapsed deadline it returns the role's fallback.
func (i *Invoker) Invoke(ctx context.Context, prompt string, rc RoleContext, deadline time.Duration) GenerationResult {
	if deadline <= 0 {
		deadline = i.config.Deadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	provider := i.gen.Name()
	ctx, span := tracer.Start(ctx, "invoker.Invoke",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", string(rc.Role)),
		),
	)
	defer span.End()

	start := i.clock.Now()
	result := GenerationResult{
		Provider: provider,
		Model:    i.gen.Model(),
		Role:     rc.Role,
	}

	finish := func(r GenerationResult) GenerationResult {
		elapsed := i.clock.Now().Sub(start)
		r.LatencyMs = elapsed.Milliseconds()
		r.BreakerState = i.breaker.State().String()
		outcome := "ok"
		if r.Fallback {
			outcome = "fallback"
			r.Text = FallbackText(rc.Role)
			span.SetStatus(otelcodes.Error, string(r.ErrKind))
			i.logger.Warn("fallback served", "provider", provider, "role", rc.Role,
				"kind", r.ErrKind, "attempts", r.Attempts, "err", ErrProviderUnavailable)
		}
		span.SetAttributes(
			attribute.Int("attempts", r.Attempts),
			attribute.Bool("fallback", r.Fallback),
		)
		invokeTotal.WithLabelValues(provider, string(rc.Role), outcome).Inc()
		invokeDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
		return r
	}

	if strings.TrimSpace(prompt) == "" {
		result.Fallback = true
		result.ErrKind = codec.KindClient
		return finish(result)
	}

	req := codec.Request{
		System:      rc.SystemPrompt(),
		Prompt:      prompt,
		MaxTokens:   i.config.MaxTokens,
		Temperature: i.config.Temperature,
	}

	retry := i.config.Retry
	backoff := retry.InitialBackoff
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		permit, ok := i.breaker.Allow()
		if !ok {
			result.Fallback = true
			result.ErrKind = KindBreakerOpen
			return finish(result)
		}

		if i.limiter != nil {
			if err := i.limiter.Wait(ctx); err != nil {
				i.breaker.Release(permit)
				result.Fallback = true
				result.ErrKind = codec.KindTimeout
				return finish(result)
			}
		}

		result.Attempts = attempt
		resp, err := i.attempt(ctx, req)
		kind := codec.Classify(err)
		if err == nil && strings.TrimSpace(resp.Text) == "" {
			kind = codec.KindEmpty
		}
		attemptTotal.WithLabelValues(provider, string(kind)).Inc()

		if kind == codec.KindNone {
			i.breaker.RecordSuccess(permit)
			result.Text = resp.Text
			if resp.Model != "" {
				result.Model = resp.Model
			}
			result.InputTokens = resp.InputTokens
			result.OutputTokens = resp.OutputTokens
			result.ErrKind = codec.KindNone
			return finish(result)
		}

		result.ErrKind = kind
		i.logger.Debug("attempt failed", "provider", provider, "attempt", attempt, "kind", kind, "err", err)

		switch {
		case kind == codec.KindCanceled:
			// Caller went away; no verdict on the provider.
			i.breaker.Release(permit)
			result.Fallback = true
			return finish(result)
		case !kind.Transient():
			// Provider answered; the request itself is bad.
			i.breaker.RecordSuccess(permit)
			result.Fallback = true
			return finish(result)
		}

		i.breaker.RecordFailure(permit)
		if attempt == retry.MaxAttempts || ctx.Err() != nil {
			break
		}

		wait := calculateBackoff(backoff, retry.JitterFactor, retry.MaxBackoff)
		retryTotal.WithLabelValues(provider).Inc()
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("kind", string(kind)),
			attribute.Int64("backoff_ms", wait.Milliseconds()),
		))
		select {
		case <-ctx.Done():
			result.Fallback = true
			result.ErrKind = codec.KindTimeout
			return finish(result)
		case <-i.clock.After(wait):
		}
		backoff = nextBackoff(backoff, retry.BackoffFactor, retry.MaxBackoff)
	}

	result.Fallback = true
	return finish(result)
}

type attemptOutcome struct {
	resp codec.Response
	err  error
}

// attempt runs one provider call bounded by the attempt timeout. The call runs
// in its own goroutine so an elapsed deadline abandons it instead of waiting.
func (i *Invoker) attempt(ctx context.Context, req codec.Request) (codec.Response, error) {
	actx, cancel := context.WithTimeout(ctx, i.config.AttemptTimeout)
	defer cancel()

	done := make(chan attemptOutcome, 1)
	go func() {
		resp, err := i.gen.Generate(actx, req)
		done <- attemptOutcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-actx.Done():
		return codec.Response{}, actx.Err()
	}
}

// #endregion invoker
