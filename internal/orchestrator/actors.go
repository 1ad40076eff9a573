package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region actor

type job struct {
	ctx   context.Context
	req   SubmitRequest
	close bool
	reply chan jobResult
}

type jobResult struct {
	result InteractionResult
	err    error
}

// actor owns one session's in-memory view. Only its goroutine touches the
// fields below inbox; pending is guarded by Orchestrator.mu.
type actor struct {
	sessionID string
	inbox     chan job
	pending   int

	loaded     bool
	session    state.Session
	history    state.History
	hintLevels map[string]int
}

// dispatch hands the job to the session's actor, starting one if needed, and
// waits for the reply.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, j job) (InteractionResult, error) {
	if sessionID == "" {
		return errorRecovery("", "A session is required."), &ValidationError{Field: "session_id", Message: "required"}
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return InteractionResult{}, ErrClosed
	}
	a, ok := o.actors[sessionID]
	if !ok {
		a = &actor{sessionID: sessionID, inbox: make(chan job, o.config.MailboxSize)}
		o.actors[sessionID] = a
		o.wg.Add(1)
		go o.run(a)
		activeSessions.Inc()
	}
	a.pending++
	o.mu.Unlock()

	j.ctx = ctx
	j.reply = make(chan jobResult, 1)
	select {
	case a.inbox <- j:
	case <-ctx.Done():
		o.mu.Lock()
		a.pending--
		o.mu.Unlock()
		return InteractionResult{}, ctx.Err()
	case <-o.done:
		return InteractionResult{}, ErrClosed
	}

	select {
	case r := <-j.reply:
		return r.result, r.err
	case <-ctx.Done():
		// the actor still finishes and persists the submission
		return InteractionResult{}, ctx.Err()
	case <-o.done:
		// processing may still be in flight; Close waits for it
		select {
		case r := <-j.reply:
			return r.result, r.err
		default:
			return InteractionResult{}, ErrClosed
		}
	}
}

// run is the actor loop. It exits after IdleTimeout with an empty mailbox, or
// when the orchestrator closes.
func (o *Orchestrator) run(a *actor) {
	defer o.wg.Done()
	defer activeSessions.Dec()

	idle := time.NewTimer(o.config.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j := <-a.inbox:
			res, err := o.handle(a, j)
			j.reply <- jobResult{result: res, err: err}
			o.mu.Lock()
			a.pending--
			o.mu.Unlock()
			idle.Reset(o.config.IdleTimeout)

		case <-idle.C:
			o.mu.Lock()
			if a.pending == 0 {
				delete(o.actors, a.sessionID)
				o.mu.Unlock()
				o.logger.Debug("session actor idle", "session", a.sessionID)
				return
			}
			o.mu.Unlock()
			idle.Reset(o.config.IdleTimeout)

		case <-o.done:
			return
		}
	}
}

func (o *Orchestrator) handle(a *actor, j job) (InteractionResult, error) {
	// a caller that gives up must not leave the session half-processed
	ctx := context.WithoutCancel(j.ctx)
	if err := o.load(ctx, a); err != nil {
		return InteractionResult{}, err
	}
	return o.process(ctx, a, j.req, j.close)
}

// load reads the session, its history and hint progress the first time the
// actor runs.
func (o *Orchestrator) load(ctx context.Context, a *actor) error {
	if a.loaded {
		return nil
	}
	sess, err := o.store.GetSession(ctx, a.sessionID)
	if errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("%s: %w", a.sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return err
	}
	history, err := o.store.LoadHistory(ctx, a.sessionID)
	if err != nil {
		return err
	}
	levels, err := o.store.LastHintLevels(ctx, a.sessionID)
	if err != nil {
		return err
	}
	a.session = sess
	a.history = history
	a.hintLevels = levels
	a.loaded = true
	return nil
}

// #endregion
