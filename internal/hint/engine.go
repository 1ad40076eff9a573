package hint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// Invoker is the generation dependency of the engine.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, rc invoker.RoleContext, deadline time.Duration) invoker.GenerationResult
}

// Engine serves hints on the four-level ladder.
type Engine struct {
	inv      Invoker
	deadline time.Duration
	logger   *log.Logger
}

// NewEngine creates an engine. deadline <= 0 uses the invoker's default.
func NewEngine(inv Invoker, deadline time.Duration) *Engine {
	return &Engine{inv: inv, deadline: deadline, logger: logging.New("HINT")}
}

// ResolveLevel decides which level to serve. requested == 0 means "next";
// a level below the last served one is raised to it, and anything beyond
// last served + 1 is a LevelSkipError. With elevated cognitive risk an
// implicit request repeats the current level instead of escalating, unless
// the student is stagnating.
func ResolveLevel(attempt Attempt, requested int, sig Signals) (int, error) {
	if requested < 0 || requested > MaxLevel {
		return 0, fmt.Errorf("%w: %d", ErrInvalidLevel, requested)
	}
	last := attempt.LastServed
	if requested > last+1 {
		return 0, &LevelSkipError{AttemptID: attempt.ID, Requested: requested, LastServed: last}
	}
	if requested > 0 {
		if requested < last {
			return last, nil
		}
		return requested, nil
	}

	next := last + 1
	if last > 0 && sig.CognitiveRisk.Severity() >= risk.LevelHigh.Severity() && sig.State != state.StateStagnation {
		next = last
	}
	if next > MaxLevel {
		next = MaxLevel
	}
	return next, nil
}

// RequestHint materializes one hint for sub. Generation is attempted once and
// regenerated once if the static check rejects it; after that the level's
// template is served.
func (e *Engine) RequestHint(ctx context.Context, sess state.Session, attempt Attempt, sub state.Submission, sig Signals) (Record, error) {
	level, err := ResolveLevel(attempt, sub.HintLevel, sig)
	if err != nil {
		return Record{}, err
	}

	rung := RungFor(level)
	rc := invoker.RoleContext{
		Role:           invoker.RoleHint,
		Mode:           sess.Mode,
		Instructions:   rung.Instructions,
		Exercise:       sub.Exercise,
		HintLevel:      level,
		Forbidden:      rung.Forbidden,
		CognitiveState: sig.State,
	}
	prompt := hintPrompt(sub)

	rec := Record{
		HintID:       uuid.New().String(),
		SessionID:    sess.SessionID,
		SubmissionID: sub.SubmissionID,
		AttemptID:    attempt.ID,
		Level:        level,
		CreatedAt:    sub.Timestamp,
	}

	text, source, violations, provider := e.generate(ctx, prompt, rc, level, &rec.Usage)
	rec.Violations = violations
	rec.Source = source
	rec.Provider = provider
	if source == SourceTemplate {
		text = Template(level, sub.Exercise)
	}
	rec.Content, rec.FollowUpQuestion = withFollowUp(level, text)

	e.logger.Info("hint served", "session", sess.SessionID, "attempt", attempt.ID,
		"level", level, "source", source, "violations", len(violations))
	return rec, nil
}

// generate returns model text that passed the check, or SourceTemplate with
// the violations collected on the way.
func (e *Engine) generate(ctx context.Context, prompt string, rc invoker.RoleContext, level int, usage *Usage) (string, Source, []string, string) {
	violations := []string{}

	res := e.inv.Invoke(ctx, prompt, rc, e.deadline)
	usage.add(res)
	if res.Fallback {
		return "", SourceTemplate, violations, res.Provider
	}
	first := Check(level, res.Text)
	if len(first) == 0 {
		return res.Text, SourceModel, violations, res.Provider
	}
	violations = append(violations, first...)

	retry := rc
	retry.Instructions = rc.Instructions + "\nYour previous answer was rejected for: " +
		strings.Join(first, ", ") + ". Follow the level rules strictly."
	res = e.inv.Invoke(ctx, prompt, retry, e.deadline)
	usage.add(res)
	if res.Fallback {
		return "", SourceTemplate, violations, res.Provider
	}
	second := Check(level, res.Text)
	if len(second) == 0 {
		return res.Text, SourceRegenerated, violations, res.Provider
	}
	violations = append(violations, second...)
	return "", SourceTemplate, violations, res.Provider
}

func hintPrompt(sub state.Submission) string {
	var b strings.Builder
	text := strings.TrimSpace(sub.RawText)
	if text == "" {
		text = "I need a hint."
	}
	b.WriteString(text)
	if sub.HasCode() {
		b.WriteString("\n\nMy current code:\n```\n")
		b.WriteString(strings.TrimSpace(sub.CodeSnapshot))
		b.WriteString("\n```")
	}
	if tr := sub.PriorTestResults; tr != nil && tr.Total > 0 {
		fmt.Fprintf(&b, "\n\nTests: %d/%d passing", tr.Passed, tr.Total)
		if tr.ErrorType != "" {
			fmt.Fprintf(&b, " (%s)", tr.ErrorType)
		}
	}
	return b.String()
}
