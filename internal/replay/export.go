package replay

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region export

// FixtureFromHistory builds a fixture from a recorded session so it can be
// replayed later. The recorded gate decision, state and served hint level of
// each entry become its expectations.
func FixtureFromHistory(description string, history state.History) (*Fixture, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("history is empty")
	}
	first := history[0].Submission
	f := &Fixture{
		Description:  description,
		Start:        first.Timestamp,
		Exercise:     first.Exercise,
		Interactions: make([]FixtureInteraction, 0, len(history)),
		Expected:     make([]Expectation, 0, len(history)),
	}

	prev := first.Timestamp
	for _, e := range history {
		sub := e.Submission
		fi := FixtureInteraction{
			ID:        sub.SubmissionID,
			Kind:      string(sub.Kind),
			Text:      sub.RawText,
			Code:      sub.CodeSnapshot,
			After:     sub.Timestamp.Sub(prev),
			AttemptID: sub.ExerciseAttemptID,
			HintLevel: sub.HintLevel,
			Reply:     e.Reply,
		}
		// code text defaults to the snapshot on replay
		if sub.Kind == state.KindCode && fi.Text == fi.Code {
			fi.Text = ""
		}
		if t := sub.PriorTestResults; t != nil {
			fi.Tests = &FixtureTests{Passed: t.Passed, Total: t.Total, ErrorType: t.ErrorType, Syntax: t.Syntax}
		}
		prev = sub.Timestamp
		f.Interactions = append(f.Interactions, fi)

		exp := Expectation{
			ID:        sub.SubmissionID,
			Decision:  e.Decision,
			State:     string(e.State),
			HintLevel: e.HintLevel,
		}
		if e.Decision == "block" {
			exp.Action = string(ActionBlocked)
		} else {
			exp.Action = string(ActionScored)
		}
		f.Expected = append(f.Expected, exp)
	}
	return f, nil
}

// Marshal renders the fixture as YAML.
func (f *Fixture) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

// #endregion export
