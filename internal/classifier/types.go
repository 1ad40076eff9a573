package classifier

import "github.com/danielpatrickdp/cognitive-trace/internal/state"

// #region rule-id

// RuleID identifies the decision-table row that produced a classification.
// Rows are evaluated in ascending order; the first match wins.
type RuleID int

const (
	RuleFirstSubmission RuleID = iota + 1
	RuleStagnation
	RuleNewError
	RuleStrategyChange
	RuleTestsNewlyPass
	RuleReflection
	RuleImplementation
	RuleDefault
)

var ruleNames = map[RuleID]string{
	RuleFirstSubmission: "first_submission",
	RuleStagnation:      "max_hint_still_failing",
	RuleNewError:        "new_error_type",
	RuleStrategyChange:  "structural_divergence",
	RuleTestsNewlyPass:  "tests_newly_pass",
	RuleReflection:      "reflection_submission",
	RuleImplementation:  "code_growing",
	RuleDefault:         "default",
}

// String returns the rule's stable name.
func (r RuleID) String() string {
	if name, ok := ruleNames[r]; ok {
		return name
	}
	return "unknown"
}

// #endregion

// #region result

// Result is the classifier output for one submission.
type Result struct {
	State  state.CognitiveState
	Rule   RuleID
	Reason string
}

// #endregion

// #region config

// MaxHintLevel is the top of the hint ladder.
const MaxHintLevel = 4

// Config holds the tunable windows of the decision table.
type Config struct {
	NewErrorLookback int // how many prior submissions an error type must be absent from
	StagnationStreak int // consecutive submissions without pass-ratio improvement
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		NewErrorLookback: 2,
		StagnationStreak: 2,
	}
}

// #endregion
