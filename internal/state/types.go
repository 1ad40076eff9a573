package state

import (
	"strings"
	"time"
)

// #region cognitive-state
// CognitiveState is the inferred working state of a student within a session.
type CognitiveState string

const (
	StateStart           CognitiveState = "start"
	StateExploration     CognitiveState = "exploration"
	StateImplementation  CognitiveState = "implementation"
	StateDebugging       CognitiveState = "debugging"
	StateSyntaxDebugging CognitiveState = "syntax_debugging"
	StateStrategyChange  CognitiveState = "strategy_change"
	StateValidation      CognitiveState = "validation"
	StateStagnation      CognitiveState = "stagnation"
	StateReflection      CognitiveState = "reflection"
)

// AllStates lists every cognitive state in declaration order.
var AllStates = []CognitiveState{
	StateStart, StateExploration, StateImplementation, StateDebugging,
	StateSyntaxDebugging, StateStrategyChange, StateValidation,
	StateStagnation, StateReflection,
}

// Valid reports whether s is one of the declared states.
func (s CognitiveState) Valid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// #endregion cognitive-state

// #region mode
// Mode is the interaction mode a session was opened in.
type Mode string

const (
	ModeTutor     Mode = "tutor"
	ModeSimulator Mode = "simulator"
	ModePractice  Mode = "practice"
)

// ParseMode returns the mode for s, or false when s is not a known mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTutor:
		return ModeTutor, true
	case ModeSimulator:
		return ModeSimulator, true
	case ModePractice:
		return ModePractice, true
	}
	return "", false
}

// #endregion mode

// #region session
// Session identifies a student + activity + mode context.
type Session struct {
	SessionID      string
	StudentID      string
	ActivityID     string
	Mode           Mode
	CreatedAt      time.Time
	ClosedAt       *time.Time
	CognitiveState CognitiveState
}

// Closed reports whether the session has been closed.
func (s Session) Closed() bool {
	return s.ClosedAt != nil
}

// #endregion session

// #region submission
// SubmissionKind distinguishes the three student input channels plus reflections.
type SubmissionKind string

const (
	KindChat       SubmissionKind = "chat"
	KindCode       SubmissionKind = "code"
	KindHint       SubmissionKind = "hint"
	KindReflection SubmissionKind = "reflection"
)

// ParseKind maps s to a submission kind. Empty input defaults to chat.
func ParseKind(s string) (SubmissionKind, bool) {
	switch SubmissionKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindChat:
		return KindChat, true
	case KindCode:
		return KindCode, true
	case KindHint:
		return KindHint, true
	case KindReflection:
		return KindReflection, true
	}
	return "", false
}

// TestResults is the outcome of the latest execution of the student's code.
type TestResults struct {
	Passed    int    `json:"passed"`
	Total     int    `json:"total"`
	ErrorType string `json:"error_type,omitempty"` // e.g. "SyntaxError", "AssertionError"
	Syntax    bool   `json:"syntax,omitempty"`     // runner reported a parse/syntax failure
}

// AllPass reports whether every test passed and at least one ran.
func (r *TestResults) AllPass() bool {
	return r != nil && r.Total > 0 && r.Passed >= r.Total
}

// Ratio returns the pass ratio in [0,1]; 0 when no tests ran.
func (r *TestResults) Ratio() float64 {
	if r == nil || r.Total <= 0 {
		return 0
	}
	ratio := float64(r.Passed) / float64(r.Total)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// IsSyntaxError reports whether the failure is a parse/syntax class error.
func (r *TestResults) IsSyntaxError() bool {
	if r == nil {
		return false
	}
	if r.Syntax {
		return true
	}
	lower := strings.ToLower(r.ErrorType)
	return strings.Contains(lower, "syntax") ||
		strings.Contains(lower, "parse") ||
		strings.Contains(lower, "indentation") ||
		strings.Contains(lower, "unexpected token")
}

// ExerciseContext is opaque activity metadata forwarded to the model.
type ExerciseContext struct {
	ExerciseID       string   `json:"exercise_id,omitempty" yaml:"exercise_id,omitempty"`
	Title            string   `json:"title,omitempty" yaml:"title,omitempty"`
	Constraints      []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	ExpectedConcepts []string `json:"expected_concepts,omitempty" yaml:"expected_concepts,omitempty"`
	Persona          string   `json:"persona,omitempty" yaml:"persona,omitempty"` // simulator persona template
}

// Submission is one immutable student input event.
type Submission struct {
	SubmissionID      string
	SessionID         string
	Kind              SubmissionKind
	RawText           string
	CodeSnapshot      string
	Timestamp         time.Time
	PriorTestResults  *TestResults
	ExerciseAttemptID string
	HintLevel         int // requested hint level; 0 means "next level"
	Exercise          ExerciseContext
}

// HasCode reports whether a code snapshot accompanies the submission.
func (s Submission) HasCode() bool {
	return strings.TrimSpace(s.CodeSnapshot) != ""
}

// #endregion submission

// #region history
// HistoryEntry is one processed submission as seen by later classifications.
type HistoryEntry struct {
	Submission    Submission
	Decision      string // governance decision: allow | block | sanitize
	State         CognitiveState
	Reply         string // tutor/model output shown to the student
	ReplyAt       time.Time
	HintLevel     int // hint level served, 0 when none
	FallbackReply bool
}

// History is the ordered list of prior entries for a session, oldest first.
type History []HistoryEntry

// Last returns the most recent entry, or nil when the history is empty.
func (h History) Last() *HistoryEntry {
	if len(h) == 0 {
		return nil
	}
	return &h[len(h)-1]
}

// Tail returns up to n most recent entries, oldest first.
func (h History) Tail(n int) History {
	if n <= 0 || len(h) == 0 {
		return nil
	}
	if n >= len(h) {
		return h
	}
	return h[len(h)-n:]
}

// LastTestResults returns the most recent non-nil test results before now.
func (h History) LastTestResults() *TestResults {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Submission.PriorTestResults != nil {
			return h[i].Submission.PriorTestResults
		}
	}
	return nil
}

// LastCode returns the most recent non-empty code snapshot.
func (h History) LastCode() string {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Submission.HasCode() {
			return h[i].Submission.CodeSnapshot
		}
	}
	return ""
}

// #endregion history

// #region governance-record
// DecisionRecord is the persisted form of a governance decision.
type DecisionRecord struct {
	SubmissionID string
	Decision     string
	RedactedText string
	Rationale    string
	Indicators   []string
	CreatedAt    time.Time
}

// #endregion governance-record
