package trace

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/signals"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region level
// Level is one of the four capture levels of an exchange.
type Level string

const (
	LevelInput          Level = "N1" // raw input
	LevelValidated      Level = "N2" // validated/normalized input
	LevelModel          Level = "N3" // model round-trip
	LevelInterpretation Level = "N4" // derived cognitive interpretation
)

// Levels lists the levels in chain order.
var Levels = []Level{LevelInput, LevelValidated, LevelModel, LevelInterpretation}

// Index returns the 0-based position of l in the chain, or -1.
func (l Level) Index() int {
	for i, lv := range Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is one of N1..N4.
func (l Level) Valid() bool { return l.Index() >= 0 }

// #endregion level

// #region node
// Node is one persisted trace node. ParentTraceID is empty only for N1.
type Node struct {
	TraceID          string          `json:"trace_id"`
	SessionID        string          `json:"session_id"`
	ExchangeID       string          `json:"exchange_id"`
	Level            Level           `json:"level"`
	ParentTraceID    string          `json:"parent_trace_id,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	CreatedAt        time.Time       `json:"created_at"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}

// Decode unmarshals the node payload into v.
func (n Node) Decode(v any) error {
	if err := json.Unmarshal(n.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of %s: %w", n.Level, n.TraceID, err)
	}
	return nil
}

// #endregion node

// #region payloads
// InputPayload is the N1 payload. Text is the gate's redacted rendition so raw
// PII never reaches the trace log; RawSHA256 identifies the original.
type InputPayload struct {
	SubmissionID      string               `json:"submission_id"`
	Kind              state.SubmissionKind `json:"kind"`
	Text              string               `json:"text"`
	RawSHA256         string               `json:"raw_sha256"`
	RawLength         int                  `json:"raw_length"`
	CodeSnapshot      string               `json:"code_snapshot,omitempty"`
	TestResults       *state.TestResults   `json:"test_results,omitempty"`
	ExerciseAttemptID string               `json:"exercise_attempt_id,omitempty"`
	RequestedHint     int                  `json:"requested_hint,omitempty"`
}

// ValidatedPayload is the N2 payload: the governance decision.
type ValidatedPayload struct {
	Decision       string   `json:"decision"`
	NormalizedText string   `json:"normalized_text"`
	Indicators     []string `json:"indicators"`
	Rationale      string   `json:"rationale,omitempty"`
}

// ModelPayload is the N3 payload. Skipped is set when the pipeline
// short-circuited before any generation.
type ModelPayload struct {
	Skipped      bool   `json:"skipped,omitempty"`
	SkipReason   string `json:"skip_reason,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	Role         string `json:"role,omitempty"`
	Reply        string `json:"reply,omitempty"`
	Attempts     int    `json:"attempts"`
	Fallback     bool   `json:"fallback"`
	ErrorKind    string `json:"error_kind,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	BreakerState string `json:"breaker_state,omitempty"`
	HintLevel    int    `json:"hint_level,omitempty"`
	HintSource   string `json:"hint_source,omitempty"`
}

// InterpretationPayload is the N4 payload: everything the pipeline derived.
type InterpretationPayload struct {
	State            state.CognitiveState `json:"state"`
	Rule             string               `json:"rule,omitempty"`
	Reason           string               `json:"reason,omitempty"`
	Features         signals.Features     `json:"features"`
	Flags            []risk.Flag          `json:"flags,omitempty"`
	RiskLevel        risk.Level           `json:"risk_level,omitempty"`
	Semaforo         risk.Semaforo        `json:"semaforo,omitempty"`
	InterventionType string               `json:"intervention_type"`
	ShortCircuit     bool                 `json:"short_circuit,omitempty"`
}

// #endregion payloads

// #region batch
// Batch is the append unit for one exchange: the N1..N4 nodes plus opaque
// artifacts the sink persists in the same transaction.
type Batch struct {
	SessionID  string          `json:"session_id"`
	ExchangeID string          `json:"exchange_id"`
	Nodes      []Node          `json:"nodes"`
	Artifacts  json.RawMessage `json:"artifacts,omitempty"`
}

// RootTraceID returns the N1 trace id of the batch.
func (b Batch) RootTraceID() string {
	if len(b.Nodes) == 0 {
		return ""
	}
	return b.Nodes[0].TraceID
}

// #endregion batch

// #region integrity
// Problem names a structural defect found during reconstruction.
type Problem string

const (
	ProblemMissingLevel   Problem = "missing_level"
	ProblemDuplicateLevel Problem = "duplicate_level"
	ProblemBrokenParent   Problem = "broken_parent"
	ProblemRootHasParent  Problem = "root_has_parent"
	ProblemUnknownLevel   Problem = "unknown_level"
)

// IntegrityWarning reports a broken parent chain. It is returned alongside
// the partial sequence, never as an error.
type IntegrityWarning struct {
	ExchangeID string  `json:"exchange_id"`
	TraceID    string  `json:"trace_id,omitempty"`
	Level      Level   `json:"level"`
	Problem    Problem `json:"problem"`
	Detail     string  `json:"detail"`
}

func (w IntegrityWarning) String() string {
	return fmt.Sprintf("exchange %s %s: %s (%s)", w.ExchangeID, w.Level, w.Problem, w.Detail)
}

// ExchangeTrace is the chain of one exchange; TraceID is its N1 id.
type ExchangeTrace struct {
	TraceID    string `json:"trace_id"`
	ExchangeID string `json:"exchange_id"`
	Nodes      []Node `json:"nodes"`
	Complete   bool   `json:"complete"`
}

// Reconstruction is the ordered node sequence of a session.
type Reconstruction struct {
	SessionID string             `json:"session_id"`
	Nodes     []Node             `json:"nodes"`
	Exchanges []ExchangeTrace    `json:"exchanges"`
	Warnings  []IntegrityWarning `json:"warnings"`
}

// Intact reports whether no warnings were raised.
func (r Reconstruction) Intact() bool { return len(r.Warnings) == 0 }

// #endregion integrity

// #region errors
// PersistenceError wraps a failed trace write. It is logged and retried
// through the spool, never surfaced to the student.
type PersistenceError struct {
	Op         string
	ExchangeID string
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("trace %s for exchange %s: %v", e.Op, e.ExchangeID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// #endregion errors
