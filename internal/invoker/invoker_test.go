package invoker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/cognitive-trace/internal/codec"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region helpers

// scriptedGenerator returns errs[i] on call i and then succeeds.
func scriptedGenerator(calls *int32, errs ...error) codec.Generator {
	return codec.GeneratorFunc{
		Provider: "fake",
		ModelID:  "fake-1",
		Fn: func(ctx context.Context, req codec.Request) (codec.Response, error) {
			n := atomic.AddInt32(calls, 1)
			if int(n) <= len(errs) && errs[n-1] != nil {
				return codec.Response{}, errs[n-1]
			}
			return codec.Response{Text: "What does your loop do on the last element?", Model: "fake-1"}, nil
		},
	}
}

func timeoutErr() error {
	return &codec.ProviderError{Provider: "fake", Kind: codec.KindTimeout, Err: context.DeadlineExceeded}
}

func newTestInvoker(gen codec.Generator, clock *ManualClock) (*Invoker, *Breaker) {
	b := NewBreaker(gen.Name(), DefaultBreakerConfig(), clock, nil)
	return New(gen, b, DefaultConfig(), clock), b
}

var tutor = RoleContext{Role: RoleTutor, Mode: state.ModeTutor}

// #endregion helpers

func TestInvoke_Success(t *testing.T) {
	var calls int32
	inv, b := newTestInvoker(scriptedGenerator(&calls), NewManualClock(epoch))

	res := inv.Invoke(context.Background(), "why does my loop skip the last item?", tutor, 0)

	assert.False(t, res.Fallback)
	assert.NoError(t, res.Err())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "fake", res.Provider)
	assert.Equal(t, "fake-1", res.Model)
	assert.Equal(t, codec.KindNone, res.ErrKind)
	assert.Equal(t, "closed", res.BreakerState)
	assert.Equal(t, 0, b.Failures())
}

func TestInvoke_ThreeTimeoutsFallBackWithCounterThree(t *testing.T) {
	var calls int32
	clock := NewManualClock(epoch)
	inv, b := newTestInvoker(scriptedGenerator(&calls, timeoutErr(), timeoutErr(), timeoutErr()), clock)

	res := inv.Invoke(context.Background(), "help", tutor, 0)

	require.True(t, res.Fallback)
	assert.ErrorIs(t, res.Err(), ErrProviderUnavailable)
	assert.Equal(t, FallbackText(RoleTutor), res.Text)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, codec.KindTimeout, res.ErrKind)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, 3, b.Failures())
	assert.Equal(t, BreakerClosed, b.State())

	waits := clock.Waits()
	require.Len(t, waits, 2)
	assert.InDelta(t, float64(time.Second), float64(waits[0]), float64(200*time.Millisecond))
	assert.InDelta(t, float64(2*time.Second), float64(waits[1]), float64(400*time.Millisecond))
}

func TestInvoke_RetryThenSuccess(t *testing.T) {
	var calls int32
	serverErr := &codec.ProviderError{Provider: "fake", Kind: codec.KindServer, StatusCode: 503, Err: errors.New("unavailable")}
	inv, b := newTestInvoker(scriptedGenerator(&calls, serverErr), NewManualClock(epoch))

	res := inv.Invoke(context.Background(), "help", tutor, 0)

	assert.False(t, res.Fallback)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 0, b.Failures())
}

func TestInvoke_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	badReq := &codec.ProviderError{Provider: "fake", Kind: codec.KindClient, StatusCode: 400, Err: errors.New("bad request")}
	inv, b := newTestInvoker(scriptedGenerator(&calls, badReq), NewManualClock(epoch))

	res := inv.Invoke(context.Background(), "help", tutor, 0)

	assert.True(t, res.Fallback)
	assert.Equal(t, codec.KindClient, res.ErrKind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 0, b.Failures())
}

func TestInvoke_EmptyResponseIsTransient(t *testing.T) {
	var calls int32
	gen := codec.GeneratorFunc{Provider: "fake", ModelID: "m", Fn: func(ctx context.Context, req codec.Request) (codec.Response, error) {
		atomic.AddInt32(&calls, 1)
		return codec.Response{Text: "   "}, nil
	}}
	inv, b := newTestInvoker(gen, NewManualClock(epoch))

	res := inv.Invoke(context.Background(), "help", tutor, 0)

	assert.True(t, res.Fallback)
	assert.Equal(t, codec.KindEmpty, res.ErrKind)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
	assert.Equal(t, 3, b.Failures())
}

func TestInvoke_OpenBreakerFailsFast(t *testing.T) {
	var calls int32
	clock := NewManualClock(epoch)
	inv, b := newTestInvoker(scriptedGenerator(&calls), clock)
	for i := 0; i < 5; i++ {
		b.RecordFailure(Permit{})
	}

	res := inv.Invoke(context.Background(), "help", RoleContext{Role: RoleHint, HintLevel: 2}, 0)

	assert.True(t, res.Fallback)
	assert.Equal(t, KindBreakerOpen, res.ErrKind)
	assert.Equal(t, FallbackText(RoleHint), res.Text)
	assert.Equal(t, "open", res.BreakerState)
	assert.Zero(t, res.Attempts)
	assert.Zero(t, atomic.LoadInt32(&calls))

	// After the cool-down one probe goes through and closes the breaker.
	clock.Advance(time.Minute)
	res = inv.Invoke(context.Background(), "help", tutor, 0)
	assert.False(t, res.Fallback)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestInvoke_BreakerOpensAcrossCalls(t *testing.T) {
	var calls int32
	errs := make([]error, 6)
	for i := range errs {
		errs[i] = timeoutErr()
	}
	inv, b := newTestInvoker(scriptedGenerator(&calls, errs...), NewManualClock(epoch))

	inv.Invoke(context.Background(), "first", tutor, 0)
	res := inv.Invoke(context.Background(), "second", tutor, 0)

	// Fifth failure opens the breaker and the third attempt of the second call
	// is rejected without reaching the provider.
	assert.True(t, res.Fallback)
	assert.Equal(t, BreakerOpen, b.State())
	assert.EqualValues(t, 5, atomic.LoadInt32(&calls))
}

func TestInvoke_EmptyPrompt(t *testing.T) {
	var calls int32
	inv, _ := newTestInvoker(scriptedGenerator(&calls), NewManualClock(epoch))

	res := inv.Invoke(context.Background(), "  ", tutor, 0)

	assert.True(t, res.Fallback)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestInvoke_DeadlineAbandonsHungAttempt(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gen := codec.GeneratorFunc{Provider: "slow", ModelID: "m", Fn: func(ctx context.Context, req codec.Request) (codec.Response, error) {
		<-release // ignores ctx on purpose
		return codec.Response{Text: "late"}, nil
	}}
	cfg := DefaultConfig()
	cfg.AttemptTimeout = time.Second
	inv := New(gen, nil, cfg, NewManualClock(epoch))

	started := time.Now()
	res := inv.Invoke(context.Background(), "help", tutor, 50*time.Millisecond)

	assert.True(t, res.Fallback)
	assert.Equal(t, codec.KindTimeout, res.ErrKind)
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestInvoke_CallerCancelReleasesProbe(t *testing.T) {
	clock := NewManualClock(epoch)
	gen := codec.GeneratorFunc{Provider: "fake", ModelID: "m", Fn: func(ctx context.Context, req codec.Request) (codec.Response, error) {
		<-ctx.Done()
		return codec.Response{}, ctx.Err()
	}}
	b := NewBreaker("fake", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second}, clock, nil)
	b.RecordFailure(Permit{})
	clock.Advance(time.Second)
	inv := New(gen, b, DefaultConfig(), clock)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := inv.Invoke(ctx, "help", tutor, 0)

	assert.True(t, res.Fallback)
	assert.Equal(t, codec.KindCanceled, res.ErrKind)
	assert.Equal(t, BreakerHalfOpen, b.State())
	_, ok := b.Allow()
	assert.True(t, ok, "probe slot should be free again")
}

func TestInvoke_SystemPromptCarriesRoleContext(t *testing.T) {
	var seen codec.Request
	gen := codec.GeneratorFunc{Provider: "fake", ModelID: "m", Fn: func(ctx context.Context, req codec.Request) (codec.Response, error) {
		seen = req
		return codec.Response{Text: "ok?"}, nil
	}}
	inv := New(gen, nil, DefaultConfig(), NewManualClock(epoch))

	rc := RoleContext{
		Role:      RoleHint,
		HintLevel: 2,
		Exercise:  state.ExerciseContext{Title: "Sum of digits", Constraints: []string{"no str()"}},
		Forbidden: []string{"code blocks"},
	}
	inv.Invoke(context.Background(), "I'm stuck", rc, 0)

	assert.Contains(t, seen.System, "level 2")
	assert.Contains(t, seen.System, "Sum of digits")
	assert.Contains(t, seen.System, "no str()")
	assert.Contains(t, seen.System, "code blocks")
	assert.Equal(t, "I'm stuck", seen.Prompt)
}

func TestFallbackText_Deterministic(t *testing.T) {
	for _, role := range []Role{RoleTutor, RoleHint, RoleSimulator, RoleReflection, RoleFeedback} {
		assert.NotEmpty(t, FallbackText(role))
		assert.NotContains(t, FallbackText(role), "```")
	}
	assert.Equal(t, FallbackText(RoleTutor), FallbackText(Role("unknown")))
}
