package hint

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/cognitive-trace/internal/invoker"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// MaxLevel is the top of the hint ladder.
const MaxLevel = 4

// #region errors

// LevelSkipError rejects a request for a level beyond last served + 1 within
// one exercise attempt. It is a caller protocol violation and never retried.
type LevelSkipError struct {
	AttemptID  string
	Requested  int
	LastServed int
}

func (e *LevelSkipError) Error() string {
	return fmt.Sprintf("hint level %d requested for attempt %q but only level %d was served",
		e.Requested, e.AttemptID, e.LastServed)
}

// ErrInvalidLevel is returned for a requested level outside 0..MaxLevel.
var ErrInvalidLevel = errors.New("hint level out of range")

// #endregion errors

// #region ladder

// Rung describes what one hint level may and may not contain.
type Rung struct {
	Level        int
	Name         string
	Instructions string
	Forbidden    []string
}

// Ladder holds the four rungs, index = level - 1.
var Ladder = [MaxLevel]Rung{
	{
		Level: 1,
		Name:  "socratic",
		Instructions: "Answer only with guiding questions that help the student reason about the problem. " +
			"Do not mention specific functions, data structures or steps.",
		Forbidden: []string{"code", "pseudocode", "structural hints", "solution steps"},
	},
	{
		Level: 2,
		Name:  "concepts",
		Instructions: "Name the concepts the student needs and explain each in one or two sentences, " +
			"without describing how to implement them in this exercise.",
		Forbidden: []string{"code", "pseudocode", "implementation details"},
	},
	{
		Level: 3,
		Name:  "decomposition",
		Instructions: "Break the problem into steps and give short pseudocode for at most the first part " +
			"of the logic. Leave the remaining steps for the student.",
		Forbidden: []string{"runnable code", "the complete algorithm"},
	},
	{
		Level: 4,
		Name:  "strategy",
		Instructions: "Describe a detailed strategy with pseudocode. Leave gaps the student must fill; " +
			"never provide a complete solution that runs as is.",
		Forbidden: []string{"complete runnable solution", "copy-paste ready code"},
	},
}

// RungFor returns the rung for level, clamped to 1..MaxLevel.
func RungFor(level int) Rung {
	if level < 1 {
		level = 1
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return Ladder[level-1]
}

// #endregion ladder

// #region record

// Source tells where the hint text came from.
type Source string

const (
	SourceModel       Source = "model"
	SourceRegenerated Source = "regenerated"
	SourceTemplate    Source = "template"
)

// Attempt identifies the exercise attempt a hint belongs to and the highest
// level already served for it.
type Attempt struct {
	ID         string
	LastServed int
}

// Signals are the classifier and risk outputs that steer escalation.
type Signals struct {
	State         state.CognitiveState
	CognitiveRisk risk.Level
}

// Record is one served hint. Content always ends with FollowUpQuestion.
type Record struct {
	HintID           string
	SessionID        string
	SubmissionID     string
	AttemptID        string
	Level            int
	Content          string
	FollowUpQuestion string
	Violations       []string
	Source           Source
	Provider         string
	Usage            Usage
	CreatedAt        time.Time
}

// Usage sums the invoker calls behind one hint; a rejected draft and its
// regeneration count as two calls.
type Usage struct {
	Model        string
	Calls        int
	Attempts     int
	LatencyMs    int64
	BreakerState string
	ErrKind      string
}

func (u *Usage) add(res invoker.GenerationResult) {
	u.Calls++
	u.Attempts += res.Attempts
	u.LatencyMs += res.LatencyMs
	u.BreakerState = res.BreakerState
	u.ErrKind = string(res.ErrKind)
	if res.Model != "" {
		u.Model = res.Model
	}
}

// Response is the student-facing view of a hint.
type Response struct {
	Level            int    `json:"level"`
	Content          string `json:"content"`
	FollowUpQuestion string `json:"follow_up_question"`
}

// Response returns the student-facing view.
func (r Record) Response() Response {
	return Response{Level: r.Level, Content: r.Content, FollowUpQuestion: r.FollowUpQuestion}
}

// Row converts the record to its persisted form.
func (r Record) Row() state.HintRow {
	violations := r.Violations
	if violations == nil {
		violations = []string{}
	}
	return state.HintRow{
		HintID:       r.HintID,
		SessionID:    r.SessionID,
		SubmissionID: r.SubmissionID,
		AttemptID:    r.AttemptID,
		Level:        r.Level,
		Content:      r.Content,
		FollowUp:     r.FollowUpQuestion,
		Violations:   violations,
		CreatedAt:    r.CreatedAt,
	}
}

// #endregion record
