package invoker

import (
	"math/rand/v2"
	"time"
)

// RetryConfig configures retry behavior for transient provider failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first
	// (default: 3).
	MaxAttempts int

	// InitialBackoff is the wait after the first failure (default: 1s).
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait (default: 10s).
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry (default: 2.0).
	BackoffFactor float64

	// JitterFactor is the +/- fraction applied to each wait (default: 0.2).
	JitterFactor float64
}

// DefaultRetryConfig returns the documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = d.BackoffFactor
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		c.JitterFactor = d.JitterFactor
	}
	return c
}

// calculateBackoff applies jitter to base: base * (1 + rand(-jitter, +jitter)).
func calculateBackoff(base time.Duration, jitter float64, max time.Duration) time.Duration {
	if jitter > 0 {
		delta := (rand.Float64()*2 - 1) * jitter
		base = time.Duration(float64(base) * (1 + delta))
	}
	if base > max {
		base = max
	}
	if base < 0 {
		base = 0
	}
	return base
}

// nextBackoff grows the backoff by factor, capped at max.
func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > max {
		return max
	}
	return next
}
