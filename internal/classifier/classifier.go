package classifier

// #region imports
import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #endregion

// #region classifier

// Classifier infers the session's cognitive state from a submission and the
// history that precedes it. It is a fixed, ordered decision table: no model
// call, no I/O, and the same inputs always produce the same state.
type Classifier struct {
	config Config
}

// New creates a classifier with the given windows.
func New(config Config) *Classifier {
	if config.NewErrorLookback <= 0 {
		config.NewErrorLookback = DefaultConfig().NewErrorLookback
	}
	if config.StagnationStreak < 2 {
		config.StagnationStreak = DefaultConfig().StagnationStreak
	}
	return &Classifier{config: config}
}

// #endregion

// #region classify

// Classify evaluates the decision table top to bottom. history holds only the
// submissions processed before sub, oldest first.
func (c *Classifier) Classify(sub state.Submission, history state.History) Result {
	// 1. First submission in the session
	if len(history) == 0 {
		return Result{State: state.StateStart, Rule: RuleFirstSubmission, Reason: "first submission in session"}
	}

	current := sub.PriorTestResults
	failing := c.stillFailing(sub, history)

	// 2. Max-level hint requested while tests still fail, after a streak of
	// submissions without improvement
	if sub.Kind == state.KindHint && failing && EffectiveHintLevel(sub, history) >= MaxHintLevel {
		if streak := NoImprovementStreak(sub, history); streak >= c.config.StagnationStreak {
			return Result{
				State:  state.StateStagnation,
				Rule:   RuleStagnation,
				Reason: fmt.Sprintf("max hint level requested after %d submissions without improvement", streak),
			}
		}
	}

	// 3. New error type in the latest execution
	if current != nil && !current.AllPass() && current.ErrorType != "" &&
		!c.errorSeenRecently(current.ErrorType, history) {
		if current.IsSyntaxError() {
			return Result{State: state.StateSyntaxDebugging, Rule: RuleNewError, Reason: "new syntax error: " + current.ErrorType}
		}
		return Result{State: state.StateDebugging, Rule: RuleNewError, Reason: "new error type: " + current.ErrorType}
	}

	// 4. Structural divergence while tests still fail
	if sub.HasCode() && failing {
		prev := history.LastCode()
		if prev != "" {
			before, after := PrimaryConstruct(prev), PrimaryConstruct(sub.CodeSnapshot)
			if before != ConstructNone && after != ConstructNone && before != after {
				return Result{
					State:  state.StateStrategyChange,
					Rule:   RuleStrategyChange,
					Reason: fmt.Sprintf("primary construct changed %s -> %s", before, after),
				}
			}
		}
	}

	// 5. Tests newly pass
	if current.AllPass() && !history.LastTestResults().AllPass() {
		return Result{State: state.StateValidation, Rule: RuleTestsNewlyPass, Reason: "tests pass for the first time"}
	}

	// 6. Explicit reflection
	if sub.Kind == state.KindReflection {
		return Result{State: state.StateReflection, Rule: RuleReflection, Reason: "reflection submission"}
	}

	// 7. Code present and growing
	if sub.HasCode() && codeSize(sub.CodeSnapshot) > codeSize(history.LastCode()) {
		return Result{State: state.StateImplementation, Rule: RuleImplementation, Reason: "code snapshot grew"}
	}

	// 8. Default
	return Result{State: state.StateExploration, Rule: RuleDefault, Reason: "no rule matched"}
}

// #endregion

// #region predicates

// stillFailing reports whether the freshest known test results fail.
func (c *Classifier) stillFailing(sub state.Submission, history state.History) bool {
	results := sub.PriorTestResults
	if results == nil {
		results = history.LastTestResults()
	}
	return results != nil && results.Total > 0 && !results.AllPass()
}

// errorSeenRecently checks the error types of the last N prior submissions.
func (c *Classifier) errorSeenRecently(errorType string, history state.History) bool {
	for _, e := range history.Tail(c.config.NewErrorLookback) {
		r := e.Submission.PriorTestResults
		if r != nil && strings.EqualFold(r.ErrorType, errorType) {
			return true
		}
	}
	return false
}

// EffectiveHintLevel resolves the level a hint submission asks for: the
// explicit level, or one past the last level served for the same attempt.
func EffectiveHintLevel(sub state.Submission, history state.History) int {
	if sub.HintLevel > 0 {
		return sub.HintLevel
	}
	last := 0
	for _, e := range history {
		if e.Submission.ExerciseAttemptID == sub.ExerciseAttemptID && e.HintLevel > last {
			last = e.HintLevel
		}
	}
	if last >= MaxHintLevel {
		return MaxHintLevel
	}
	return last + 1
}

// NoImprovementStreak counts the trailing submissions, sub included, whose
// test pass ratio did not improve on the best ratio known before them.
func NoImprovementStreak(sub state.Submission, history state.History) int {
	subs := make([]state.Submission, 0, len(history)+1)
	for _, e := range history {
		subs = append(subs, e.Submission)
	}
	subs = append(subs, sub)

	improved := make([]bool, len(subs))
	best := -1.0
	for i, s := range subs {
		if s.PriorTestResults != nil && s.PriorTestResults.Total > 0 {
			ratio := s.PriorTestResults.Ratio()
			if ratio > best {
				improved[i] = best >= 0 || ratio > 0
				best = ratio
			}
		}
	}

	streak := 0
	for i := len(improved) - 1; i >= 0; i-- {
		if improved[i] {
			break
		}
		streak++
	}
	return streak
}

// codeSize measures code by its non-blank content so whitespace edits do not
// count as growth.
func codeSize(code string) int {
	n := 0
	for _, line := range strings.Split(code, "\n") {
		n += len(strings.TrimSpace(line))
	}
	return n
}

// #endregion
