package orchestrator

// #region imports
import (
	"errors"
	"strings"
	"time"

	"github.com/danielpatrickdp/cognitive-trace/internal/hint"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
	"github.com/danielpatrickdp/cognitive-trace/internal/trace"
)

// #endregion

// #region intervention-type

// InterventionType is the closed set of response kinds an InteractionResult
// can carry.
type InterventionType string

const (
	InterventionTutorReply       InterventionType = "tutor_reply"
	InterventionHint             InterventionType = "hint"
	InterventionGovernanceBlock  InterventionType = "governance_block"
	InterventionErrorRecovery    InterventionType = "error_recovery"
	InterventionReflectionPrompt InterventionType = "reflection_prompt"
	InterventionFallback         InterventionType = "fallback"
)

// ParseInterventionType maps a discriminator to its intervention type.
// Anything unrecognized is a tutor reply.
func ParseInterventionType(s string) InterventionType {
	switch t := InterventionType(strings.ToLower(strings.TrimSpace(s))); t {
	case InterventionTutorReply, InterventionHint, InterventionGovernanceBlock,
		InterventionErrorRecovery, InterventionReflectionPrompt, InterventionFallback:
		return t
	default:
		return InterventionTutorReply
	}
}

// #endregion

// #region result

// InteractionResult is the per-submission response.
type InteractionResult struct {
	Message          string           `json:"message"`
	InterventionType InterventionType `json:"intervention_type"`
	RiskSummaryLevel risk.Level       `json:"risk_summary_level"`
	Metadata         map[string]any   `json:"metadata"`
	Hint             *hint.Response   `json:"hint,omitempty"`
}

// TraceabilityRecord is the reconstructed trace of a session. TraceID is the
// root of its first exchange. Interventions maps each exchange with an N4
// node to the response kind it produced.
type TraceabilityRecord struct {
	TraceID       string                      `json:"trace_id"`
	SessionID     string                      `json:"session_id"`
	Nodes         []trace.Node                `json:"nodes"`
	Exchanges     []trace.ExchangeTrace       `json:"exchanges"`
	Interventions map[string]InterventionType `json:"interventions"`
	Warnings      []trace.IntegrityWarning    `json:"warnings"`
}

// Only keeps the exchanges that produced intervention t. Warnings are kept
// whole because they describe the session.
func (r TraceabilityRecord) Only(t InterventionType) TraceabilityRecord {
	out := r
	out.Nodes = nil
	out.Exchanges = nil
	out.Interventions = make(map[string]InterventionType)
	for _, ex := range r.Exchanges {
		if r.Interventions[ex.ExchangeID] != t {
			continue
		}
		out.Exchanges = append(out.Exchanges, ex)
		out.Nodes = append(out.Nodes, ex.Nodes...)
		out.Interventions[ex.ExchangeID] = t
	}
	return out
}

// #endregion

// #region errors

// ValidationError is a malformed submission or session request. It is the
// only pipeline failure besides hint.LevelSkipError that reaches the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return "validation: " + e.Field + ": " + e.Message
}

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrClosed is returned after the orchestrator has been shut down.
var ErrClosed = errors.New("orchestrator closed")

// #endregion

// #region request

// SubmitRequest is one student input as received from a collaborator.
type SubmitRequest struct {
	SessionID         string
	Kind              string // chat | code | hint | reflection; empty means chat
	Text              string
	Code              string
	TestResults       *state.TestResults
	ExerciseAttemptID string
	HintLevel         int // hint submissions only; 0 asks for the next level
	Exercise          state.ExerciseContext
}

// #endregion

// #region config

// Config tunes the per-session actors.
type Config struct {
	MailboxSize    int           // queued submissions per session (default: 16)
	IdleTimeout    time.Duration // an idle session actor exits after this (default: 5m)
	InvokeDeadline time.Duration // total generation budget per submission (default: invoker's)
	MetricsWindow  int           // exchanges considered by Metrics when window <= 0 (default: 20)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MailboxSize:   16,
		IdleTimeout:   5 * time.Minute,
		MetricsWindow: 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = d.MetricsWindow
	}
	return c
}

// #endregion

// #region artifacts

// artifacts is everything besides the trace nodes that one exchange appends.
// It travels inside trace.Batch so a spooled retry writes the same rows.
type artifacts struct {
	Seq      int                  `json:"seq"`
	Entry    state.HistoryEntry   `json:"entry"`
	Decision state.DecisionRecord `json:"decision"`
	Flags    []state.FlagRecord   `json:"flags,omitempty"`
	Hint     *state.HintRow       `json:"hint,omitempty"`
	Audit    *logging.AuditEntry  `json:"audit,omitempty"`
	Close    bool                 `json:"close,omitempty"`
}

// #endregion
