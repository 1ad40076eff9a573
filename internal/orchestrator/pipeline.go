package orchestrator

// #region imports
import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/cognitive-trace/internal/classifier"
	"github.com/danielpatrickdp/cognitive-trace/internal/gate"
	"github.com/danielpatrickdp/cognitive-trace/internal/hint"
	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #endregion

// #region process

// generation is what the model stage produced for one exchange.
type generation struct {
	message      string
	intervention InterventionType
	model        trace.ModelPayload
	hint         *hint.Record
}

// process runs one submission through Gate, Classifier, Risk, Hint/Invoker
// and Recorder. It runs on the session's actor goroutine only.
func (o *Orchestrator) process(ctx context.Context, a *actor, req SubmitRequest, closing bool) (InteractionResult, error) {
	started := time.Now()
	defer func() { processDuration.Observe(time.Since(started).Seconds()) }()

	ctx, span := tracer.Start(ctx, "orchestrator.process",
		oteltrace.WithAttributes(attribute.String("session", a.sessionID)),
	)
	defer span.End()

	sub, verr := o.validate(a, req, closing)
	if verr != nil {
		rejectedTotal.WithLabelValues("validation").Inc()
		span.SetStatus(otelcodes.Error, verr.Error())
		o.logger.Info("submission rejected", "session", a.sessionID, "field", verr.Field, "reason", verr.Message)
		return errorRecovery(a.sessionID, verr.Message), verr
	}
	exchangeID := uuid.New().String()
	builder := trace.NewBuilder(a.sessionID, exchangeID)

	// N1, N2: governance
	t0 := o.now()
	decision := o.gate.Evaluate(sub.RawText)
	text := decision.Text(sub.RawText)

	// downstream stages never see the unredacted text or code
	view := sub
	view.RawText = text
	view.CodeSnapshot = o.gate.Redact(sub.CodeSnapshot)

	builder.Add(trace.LevelInput, inputPayload(sub, view), t0, 0)
	t1 := o.now()
	builder.Add(trace.LevelValidated, trace.ValidatedPayload{
		Decision:       string(decision.Action),
		NormalizedText: text,
		Indicators:     nonNil(decision.Indicators),
		Rationale:      decision.Rationale,
	}, t1, t1.Sub(t0))
	span.SetAttributes(attribute.String("gate", string(decision.Action)))

	var (
		interp   trace.InterpretationPayload
		gen      generation
		flags    []risk.Flag
		riskLvl  risk.Level
		semaforo risk.Semaforo
		st       state.CognitiveState
	)
	t2 := o.now()

	if decision.Blocked() {
		st = a.session.CognitiveState
		if st == "" {
			st = state.StateStart
		}
		if closing {
			st = state.StateReflection
		}
		riskLvl, semaforo = risk.LevelMedium, risk.SemaforoYellow
		gen = generation{
			message:      decision.Rationale,
			intervention: InterventionGovernanceBlock,
			model:        trace.ModelPayload{Skipped: true, SkipReason: string(InterventionGovernanceBlock)},
		}
		interp = trace.InterpretationPayload{
			State:            st,
			Reason:           "governance block: " + strings.Join(decision.Indicators, ", "),
			RiskLevel:        riskLvl,
			Semaforo:         semaforo,
			InterventionType: string(InterventionGovernanceBlock),
			ShortCircuit:     true,
		}
	} else {
		cls := o.classifier.Classify(view, a.history)
		if closing && cls.State != state.StateReflection {
			// closing an empty session would otherwise stop at start
			cls.State = state.StateReflection
			cls.Reason = "session closed after: " + cls.Reason
		}
		st = cls.State
		features := o.scorer.Features(view, a.history)
		flags = o.scorer.ScoreFeatures(view, decision, st, features)
		riskLvl = risk.MaxLevel(flags)
		semaforo = risk.SemaforoFor(flags)

		var err error
		gen, err = o.generate(ctx, a, view, text, cls, flags, closing)
		if err != nil {
			rejectedTotal.WithLabelValues("hint_level").Inc()
			span.SetStatus(otelcodes.Error, err.Error())
			o.logger.Info("hint rejected", "session", a.sessionID, "err", err)
			res := errorRecovery(a.sessionID, err.Error())
			res.RiskSummaryLevel = riskLvl
			return res, err
		}
		interp = trace.InterpretationPayload{
			State:            st,
			Rule:             cls.Rule.String(),
			Reason:           cls.Reason,
			Features:         features,
			Flags:            flags,
			RiskLevel:        riskLvl,
			Semaforo:         semaforo,
			InterventionType: string(gen.intervention),
		}
	}

	// N3, N4: generation and interpretation
	t3 := o.now()
	builder.Add(trace.LevelModel, gen.model, t2, t3.Sub(t2))
	builder.Add(trace.LevelInterpretation, interp, o.now(), time.Since(started))

	entry := state.HistoryEntry{
		Submission:    sub,
		Decision:      string(decision.Action),
		State:         st,
		Reply:         gen.message,
		ReplyAt:       t3,
		FallbackReply: gen.model.Fallback,
	}
	if gen.hint != nil {
		entry.HintLevel = gen.hint.Level
	}
	art := artifacts{
		Seq:   len(a.history) + 1,
		Entry: entry,
		Decision: state.DecisionRecord{
			SubmissionID: sub.SubmissionID,
			Decision:     string(decision.Action),
			RedactedText: decision.RedactedText,
			Rationale:    decision.Rationale,
			Indicators:   nonNil(decision.Indicators),
			CreatedAt:    t1,
		},
		Flags: risk.ToRecords(a.sessionID, flags),
		Close: closing,
	}
	if gen.hint != nil {
		row := gen.hint.Row()
		art.Hint = &row
	}
	if decision.Action != gate.ActionAllow {
		art.Audit = &logging.AuditEntry{
			SubmissionID: sub.SubmissionID,
			SessionID:    a.sessionID,
			Decision:     string(decision.Action),
			Indicators:   nonNil(decision.Indicators),
			Rationale:    decision.Rationale,
			RedactedText: decision.RedactedText,
			CreatedAt:    t1,
		}
	}

	persisted := false
	batch, err := builder.Artifacts(art).Batch()
	if err != nil {
		o.logger.Error("build trace batch", "session", a.sessionID, "exchange", exchangeID, "err", err)
	} else {
		persisted = o.persist(ctx, batch)
	}

	// the actor's view advances even when persistence is still pending
	a.history = append(a.history, entry)
	a.session.CognitiveState = st
	if gen.hint != nil {
		a.hintLevels[gen.hint.AttemptID] = max(a.hintLevels[gen.hint.AttemptID], gen.hint.Level)
	}
	if closing {
		closedAt := t3
		a.session.ClosedAt = &closedAt
	}

	submissionsTotal.WithLabelValues(string(gen.intervention)).Inc()
	o.logger.Info("submission processed",
		"session", a.sessionID, "exchange", exchangeID, "kind", sub.Kind,
		"gate", decision.Action, "state", st, "risk", riskLvl,
		"intervention", gen.intervention, "persisted", persisted)

	res := InteractionResult{
		Message:          gen.message,
		InterventionType: gen.intervention,
		RiskSummaryLevel: riskLvl,
		Metadata: map[string]any{
			"session_id":      a.sessionID,
			"submission_id":   sub.SubmissionID,
			"exchange_id":     exchangeID,
			"trace_id":        batch.RootTraceID(),
			"cognitive_state": string(st),
			"semaforo":        string(semaforo),
			"gate_decision":   string(decision.Action),
			"persisted":       persisted,
		},
	}
	if interp.Rule != "" {
		res.Metadata["classifier_rule"] = interp.Rule
	}
	if gen.model.Provider != "" {
		res.Metadata["provider"] = gen.model.Provider
		res.Metadata["fallback"] = gen.model.Fallback
	}
	if gen.hint != nil {
		resp := gen.hint.Response()
		res.Hint = &resp
	}
	return res, nil
}

// #endregion

// #region validate

// validate turns a request into a Submission. The submission keeps the raw
// text unmodified; redaction only affects what downstream stages see.
func (o *Orchestrator) validate(a *actor, req SubmitRequest, closing bool) (state.Submission, *ValidationError) {
	if a.session.Closed() {
		return state.Submission{}, &ValidationError{Field: "session_id", Message: "The session is already closed."}
	}
	kind, ok := state.ParseKind(req.Kind)
	if !ok {
		return state.Submission{}, &ValidationError{Field: "kind", Message: fmt.Sprintf("Unknown submission kind %q.", req.Kind)}
	}
	text := req.Text
	if kind == state.KindCode && strings.TrimSpace(text) == "" {
		text = req.Code
	}
	if strings.TrimSpace(text) == "" && !closing {
		return state.Submission{}, &ValidationError{Field: "text", Message: "Write something before sending: the message was empty."}
	}

	sub := state.Submission{
		SubmissionID:      uuid.New().String(),
		SessionID:         a.sessionID,
		Kind:              kind,
		RawText:           text,
		CodeSnapshot:      req.Code,
		Timestamp:         o.now(),
		PriorTestResults:  req.TestResults,
		ExerciseAttemptID: req.ExerciseAttemptID,
		Exercise:          req.Exercise,
	}
	if kind == state.KindHint {
		sub.HintLevel = req.HintLevel
		if sub.ExerciseAttemptID == "" {
			sub.ExerciseAttemptID = defaultAttemptID(a.sessionID, req.Exercise)
		}
	}
	return sub, nil
}

func defaultAttemptID(sessionID string, ex state.ExerciseContext) string {
	if ex.ExerciseID != "" {
		return ex.ExerciseID
	}
	return sessionID
}

// #endregion

// #region generate

// generate picks the model stage for the submission: the hint engine for
// hint requests, otherwise one invoker call in the role the session and
// submission call for.
func (o *Orchestrator) generate(ctx context.Context, a *actor, sub state.Submission, text string,
	cls classifier.Result, flags []risk.Flag, closing bool) (generation, error) {

	if sub.Kind == state.KindHint && !closing {
		attempt := hint.Attempt{ID: sub.ExerciseAttemptID, LastServed: a.hintLevels[sub.ExerciseAttemptID]}
		sig := hint.Signals{State: cls.State, CognitiveRisk: levelOf(flags, risk.DimensionCognitive)}
		rec, err := o.hints.RequestHint(ctx, a.session, attempt, sub, sig)
		if err != nil {
			return generation{}, err
		}
		return generation{
			message:      rec.Content,
			intervention: InterventionHint,
			hint:         &rec,
			model: trace.ModelPayload{
				Provider:     rec.Provider,
				Model:        rec.Usage.Model,
				Role:         string(invoker.RoleHint),
				Reply:        rec.Content,
				Attempts:     rec.Usage.Attempts,
				Fallback:     rec.Source == hint.SourceTemplate,
				ErrorKind:    rec.Usage.ErrKind,
				LatencyMs:    rec.Usage.LatencyMs,
				BreakerState: rec.Usage.BreakerState,
				HintLevel:    rec.Level,
				HintSource:   string(rec.Source),
			},
		}, nil
	}

	rc := invoker.RoleContext{
		Role:           invoker.RoleTutor,
		Mode:           a.session.Mode,
		Instructions:   instructionsFor(cls.State),
		Exercise:       sub.Exercise,
		Forbidden:      []string{"complete solutions", "runnable code for the exercise"},
		CognitiveState: cls.State,
	}
	intervention := InterventionTutorReply
	switch {
	case closing || sub.Kind == state.KindReflection:
		rc.Role = invoker.RoleReflection
		intervention = InterventionReflectionPrompt
	case a.session.Mode == state.ModeSimulator:
		rc.Role = invoker.RoleSimulator
	case sub.Kind == state.KindCode:
		rc.Role = invoker.RoleFeedback
	}

	res := o.invoker.Invoke(ctx, tutorPrompt(sub, text), rc, o.config.InvokeDeadline)
	if res.Fallback {
		intervention = InterventionFallback
	}
	return generation{
		message:      res.Text,
		intervention: intervention,
		model: trace.ModelPayload{
			Provider:     res.Provider,
			Model:        res.Model,
			Role:         string(res.Role),
			Reply:        res.Text,
			Attempts:     res.Attempts,
			Fallback:     res.Fallback,
			ErrorKind:    string(res.ErrKind),
			LatencyMs:    res.LatencyMs,
			BreakerState: res.BreakerState,
		},
	}, nil
}

func instructionsFor(st state.CognitiveState) string {
	switch st {
	case state.StateStart, state.StateExploration:
		return "Help the student understand the problem before writing code."
	case state.StateDebugging, state.StateSyntaxDebugging:
		return "Help the student locate the error by asking what they expected and what happened."
	case state.StateStrategyChange:
		return "Ask the student to explain why they changed approach."
	case state.StateValidation:
		return "Ask the student to justify why their solution is correct and what edge cases remain."
	case state.StateStagnation:
		return "The student is stuck. Offer one small, concrete next step without solving it."
	case state.StateReflection:
		return "Ask the student what they learned and what they would do differently."
	default:
		return "Guide the student with questions."
	}
}

func tutorPrompt(sub state.Submission, text string) string {
	var b strings.Builder
	b.WriteString(text)
	if sub.HasCode() && sub.CodeSnapshot != text {
		fmt.Fprintf(&b, "\n\nCurrent code:\n```\n%s\n```", sub.CodeSnapshot)
	}
	if r := sub.PriorTestResults; r != nil {
		fmt.Fprintf(&b, "\n\nTests: %d/%d passing", r.Passed, r.Total)
		if r.ErrorType != "" {
			fmt.Fprintf(&b, " (%s)", r.ErrorType)
		}
	}
	return b.String()
}

// #endregion

// #region helpers

// inputPayload builds N1 from the redacted view; only a digest and the length
// of the raw text are kept.
func inputPayload(sub, view state.Submission) trace.InputPayload {
	sum := sha256.Sum256([]byte(sub.RawText))
	return trace.InputPayload{
		SubmissionID:      sub.SubmissionID,
		Kind:              sub.Kind,
		Text:              view.RawText,
		RawSHA256:         hex.EncodeToString(sum[:]),
		RawLength:         len(sub.RawText),
		CodeSnapshot:      view.CodeSnapshot,
		TestResults:       sub.PriorTestResults,
		ExerciseAttemptID: sub.ExerciseAttemptID,
		RequestedHint:     sub.HintLevel,
	}
}

func errorRecovery(sessionID, message string) InteractionResult {
	return InteractionResult{
		Message:          message,
		InterventionType: InterventionErrorRecovery,
		RiskSummaryLevel: risk.LevelInfo,
		Metadata:         map[string]any{"session_id": sessionID},
	}
}

func levelOf(flags []risk.Flag, dim risk.Dimension) risk.Level {
	for _, f := range flags {
		if f.Dimension == dim {
			return f.Level
		}
	}
	return risk.LevelInfo
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// #endregion
