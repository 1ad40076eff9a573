package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/danielpatrickdp/cognitive-trace/internal/classifier"
	"github.com/danielpatrickdp/cognitive-trace/internal/eval"
	"github.com/danielpatrickdp/cognitive-trace/internal/gate"
	"github.com/danielpatrickdp/cognitive-trace/internal/hint"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #endregion

// #region orchestrator

// Deps are the pipeline stages. Gate, Classifier and Scorer default to their
// standard policies when nil; Spool defaults to an in-memory spool.
type Deps struct {
	Store      *state.Store
	Recorder   *trace.Recorder
	Invoker    hint.Invoker
	Gate       *gate.Gate
	Classifier *classifier.Classifier
	Scorer     *risk.Scorer
	Spool      trace.Spool
}

// Orchestrator runs submissions through the pipeline. Sessions are processed
// concurrently; submissions of one session are processed in arrival order by
// that session's actor.
type Orchestrator struct {
	store      *state.Store
	recorder   *trace.Recorder
	invoker    hint.Invoker
	gate       *gate.Gate
	classifier *classifier.Classifier
	scorer     *risk.Scorer
	hints      *hint.Engine
	spool      trace.Spool
	config     Config
	now        func() time.Time
	logger     *log.Logger

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New wires an orchestrator. Store, Recorder and Invoker are required.
func New(deps Deps, config Config) (*Orchestrator, error) {
	if deps.Store == nil || deps.Recorder == nil || deps.Invoker == nil {
		return nil, errors.New("orchestrator: store, recorder and invoker are required")
	}
	if err := logging.EnsureAuditSchema(deps.Store.DB()); err != nil {
		return nil, err
	}
	if deps.Gate == nil {
		deps.Gate = gate.NewGate(gate.DefaultPolicy())
	}
	if deps.Classifier == nil {
		deps.Classifier = classifier.New(classifier.DefaultConfig())
	}
	if deps.Scorer == nil {
		deps.Scorer = risk.NewScorer(risk.DefaultWeights(), nil)
	}
	if deps.Spool == nil {
		deps.Spool = trace.NewMemorySpool(trace.DefaultSpoolConfig())
	}
	config = config.withDefaults()

	return &Orchestrator{
		store:      deps.Store,
		recorder:   deps.Recorder,
		invoker:    deps.Invoker,
		gate:       deps.Gate,
		classifier: deps.Classifier,
		scorer:     deps.Scorer,
		hints:      hint.NewEngine(deps.Invoker, config.InvokeDeadline),
		spool:      deps.Spool,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.New("ORCH"),
		actors:     make(map[string]*actor),
		done:       make(chan struct{}),
	}, nil
}

// Spool returns the persistence retry spool; run it with Sink.
func (o *Orchestrator) Spool() trace.Spool { return o.spool }

// Close stops every session actor and waits for in-flight submissions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.done)
	o.mu.Unlock()
	o.wg.Wait()
}

// #endregion

// #region sessions

// OpenSession starts a session in the start state.
func (o *Orchestrator) OpenSession(ctx context.Context, studentID, activityID, mode string) (state.Session, error) {
	if strings.TrimSpace(studentID) == "" {
		return state.Session{}, &ValidationError{Field: "student_id", Message: "required"}
	}
	m, ok := state.ParseMode(mode)
	if !ok {
		return state.Session{}, &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", mode)}
	}
	sess, err := o.store.CreateSession(ctx, state.Session{
		StudentID:  studentID,
		ActivityID: activityID,
		Mode:       m,
		CreatedAt:  o.now(),
	})
	if err != nil {
		return state.Session{}, err
	}
	o.logger.Info("session opened", "session", sess.SessionID, "student", studentID, "mode", m)
	return sess, nil
}

// Session returns the persisted session.
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (state.Session, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, state.ErrNotFound) {
		return state.Session{}, fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound)
	}
	return sess, err
}

// Submit processes one submission. Only ValidationError, hint.LevelSkipError
// and hint.ErrInvalidLevel are returned as errors besides unknown sessions;
// provider and storage failures degrade into the result.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (InteractionResult, error) {
	return o.dispatch(ctx, req.SessionID, job{req: req})
}

// CloseSession records the closing reflection as the session's last exchange
// and marks it closed. An empty reflection is recorded as a plain close.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID, reflection string) (InteractionResult, error) {
	if strings.TrimSpace(reflection) == "" {
		reflection = "Session closed."
	}
	req := SubmitRequest{
		SessionID: sessionID,
		Kind:      string(state.KindReflection),
		Text:      reflection,
	}
	return o.dispatch(ctx, sessionID, job{req: req, close: true})
}

// #endregion

// #region queries

// RiskReport returns the latest flag per dimension and the top risks over
// the session's whole flag history.
func (o *Orchestrator) RiskReport(ctx context.Context, sessionID string) (risk.Report, error) {
	if _, err := o.Session(ctx, sessionID); err != nil {
		return risk.Report{}, err
	}
	records, err := o.store.ListFlags(ctx, sessionID)
	if err != nil {
		return risk.Report{}, err
	}
	return risk.BuildReport(sessionID, risk.FromRecords(records)), nil
}

// Trace reconstructs the session's trace on demand.
func (o *Orchestrator) Trace(ctx context.Context, sessionID string) (TraceabilityRecord, error) {
	if _, err := o.Session(ctx, sessionID); err != nil {
		return TraceabilityRecord{}, err
	}
	rec, err := o.recorder.Reconstruct(ctx, sessionID)
	if err != nil {
		return TraceabilityRecord{}, err
	}
	out := TraceabilityRecord{
		SessionID:     sessionID,
		Nodes:         rec.Nodes,
		Exchanges:     rec.Exchanges,
		Interventions: make(map[string]InterventionType, len(rec.Exchanges)),
		Warnings:      rec.Warnings,
	}
	if len(rec.Exchanges) > 0 {
		out.TraceID = rec.Exchanges[0].TraceID
	}
	for _, ex := range rec.Exchanges {
		for _, n := range ex.Nodes {
			if n.Level != trace.LevelInterpretation {
				continue
			}
			var interp trace.InterpretationPayload
			if err := n.Decode(&interp); err != nil {
				return TraceabilityRecord{}, fmt.Errorf("decode %s: %w", n.TraceID, err)
			}
			// stored discriminators may predate the current set
			out.Interventions[ex.ExchangeID] = ParseInterventionType(interp.InterventionType)
		}
	}
	return out, nil
}

// Metrics computes the rolling indices over the last window exchanges.
// window <= 0 uses the configured default.
func (o *Orchestrator) Metrics(ctx context.Context, sessionID string, window int) (eval.Snapshot, error) {
	if _, err := o.Session(ctx, sessionID); err != nil {
		return eval.Snapshot{}, err
	}
	if window <= 0 {
		window = o.config.MetricsWindow
	}
	return o.recorder.ComputeMetrics(ctx, sessionID, window)
}

// Audit returns the session's non-allow governance decisions.
func (o *Orchestrator) Audit(ctx context.Context, sessionID string) ([]logging.AuditEntry, error) {
	if _, err := o.Session(ctx, sessionID); err != nil {
		return nil, err
	}
	return logging.ListAudit(ctx, o.store.DB(), sessionID)
}

// #endregion
