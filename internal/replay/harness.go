package replay

import (
	"fmt"

	"github.com/danielpatrickdp/cognitive-trace/internal/classifier"
	"github.com/danielpatrickdp/cognitive-trace/internal/gate"
	"github.com/danielpatrickdp/cognitive-trace/internal/hint"
	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/signals"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region types
// Action is the outcome of replaying one submission.
type Action string

const (
	ActionScored   Action = "scored"   // passed the gate and was classified and scored
	ActionBlocked  Action = "blocked"  // governance block, classification skipped
	ActionRejected Action = "rejected" // hint level protocol violation, nothing recorded
)

// ReplayConfig bundles the classifier, feature and scoring configs.
type ReplayConfig struct {
	Classifier classifier.Config
	Producer   signals.ProducerConfig
	Weights    risk.Weights
}

// DefaultReplayConfig returns the defaults of every stage.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Classifier: classifier.DefaultConfig(),
		Producer:   signals.DefaultProducerConfig(),
		Weights:    risk.DefaultWeights(),
	}
}

// ReplayResult captures one submission's pass through Gate, Classifier and
// Risk.
type ReplayResult struct {
	SubmissionID string
	Action       Action
	Decision     gate.Action
	Indicators   []string
	State        state.CognitiveState
	Rule         string
	Reason       string
	Flags        []risk.Flag
	MaxRisk      risk.Level
	Semaforo     risk.Semaforo
	HintLevel    int
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	Total      int
	Scored     int
	Blocked    int
	Sanitized  int
	Rejected   int
	States     map[state.CognitiveState]int
	MaxRisk    risk.Level
	FinalState state.CognitiveState
}

// #endregion types

// #region replay
// Replay runs submissions in order through the deterministic stages of the
// pipeline. No model is called: each submission's recorded reply stands in for
// the generation so later features see it. Operates entirely in-memory.
func Replay(interactions []Interaction, config ReplayConfig) []ReplayResult {
	g := gate.NewGate(gate.DefaultPolicy())
	cls := classifier.New(config.Classifier)
	scorer := risk.NewScorer(config.Weights, signals.NewProducer(config.Producer))

	var history state.History
	current := state.StateStart
	served := make(map[string]int)
	results := make([]ReplayResult, 0, len(interactions))

	for _, inter := range interactions {
		sub := inter.Submission()
		decision := g.Evaluate(sub.RawText)
		view := sub
		view.RawText = decision.Text(sub.RawText)

		r := ReplayResult{
			SubmissionID: sub.SubmissionID,
			Decision:     decision.Action,
			Indicators:   decision.Indicators,
		}

		if decision.Blocked() {
			r.Action = ActionBlocked
			r.State = current
			r.Reason = decision.Rationale
			r.MaxRisk, r.Semaforo = risk.LevelMedium, risk.SemaforoYellow
		} else {
			c := cls.Classify(view, history)
			f := scorer.Features(view, history)
			r.Action = ActionScored
			r.State = c.State
			r.Rule = c.Rule.String()
			r.Reason = c.Reason
			r.Flags = scorer.ScoreFeatures(view, decision, c.State, f)
			r.MaxRisk = risk.MaxLevel(r.Flags)
			r.Semaforo = risk.SemaforoFor(r.Flags)

			if sub.Kind == state.KindHint {
				attempt := hint.Attempt{ID: sub.ExerciseAttemptID, LastServed: served[sub.ExerciseAttemptID]}
				sig := hint.Signals{State: c.State, CognitiveRisk: cognitiveLevel(r.Flags)}
				level, err := hint.ResolveLevel(attempt, sub.HintLevel, sig)
				if err != nil {
					results = append(results, ReplayResult{
						SubmissionID: sub.SubmissionID,
						Action:       ActionRejected,
						Decision:     decision.Action,
						State:        current,
						Reason:       err.Error(),
					})
					continue
				}
				r.HintLevel = level
				served[sub.ExerciseAttemptID] = max(served[sub.ExerciseAttemptID], level)
			}
		}

		history = append(history, state.HistoryEntry{
			Submission: sub,
			Decision:   string(decision.Action),
			State:      r.State,
			Reply:      inter.Reply,
			ReplyAt:    inter.ReplyAt(),
			HintLevel:  r.HintLevel,
		})
		current = r.State
		results = append(results, r)
	}
	return results
}

func cognitiveLevel(flags []risk.Flag) risk.Level {
	for _, f := range flags {
		if f.Dimension == risk.DimensionCognitive {
			return f.Level
		}
	}
	return risk.LevelInfo
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult) ReplaySummary {
	s := ReplaySummary{
		Total:      len(results),
		States:     make(map[state.CognitiveState]int),
		MaxRisk:    risk.LevelInfo,
		FinalState: state.StateStart,
	}
	for _, r := range results {
		switch r.Action {
		case ActionScored:
			s.Scored++
		case ActionBlocked:
			s.Blocked++
		case ActionRejected:
			s.Rejected++
			continue
		}
		if r.Decision == gate.ActionSanitize {
			s.Sanitized++
		}
		s.States[r.State]++
		s.FinalState = r.State
		if r.MaxRisk.Severity() > s.MaxRisk.Severity() {
			s.MaxRisk = r.MaxRisk
		}
	}
	return s
}

// #endregion replay

// #region compare
// Mismatch is one difference between a replay and its expectations.
type Mismatch struct {
	SubmissionID string
	Field        string
	Expected     string
	Actual       string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: %s expected %q, got %q", m.SubmissionID, m.Field, m.Expected, m.Actual)
}

// Compare checks results against expectations by position. Empty expected
// fields are not checked.
func Compare(results []ReplayResult, expected []Expectation) []Mismatch {
	var out []Mismatch
	if len(results) != len(expected) {
		out = append(out, Mismatch{
			Field:    "count",
			Expected: fmt.Sprint(len(expected)),
			Actual:   fmt.Sprint(len(results)),
		})
	}
	for i := 0; i < len(results) && i < len(expected); i++ {
		r, e := results[i], expected[i]
		check := func(field, want, got string) {
			if want != "" && want != got {
				out = append(out, Mismatch{SubmissionID: e.ID, Field: field, Expected: want, Actual: got})
			}
		}
		check("id", e.ID, r.SubmissionID)
		check("action", e.Action, string(r.Action))
		check("decision", e.Decision, string(r.Decision))
		check("state", e.State, string(r.State))
		check("rule", e.Rule, r.Rule)
		check("max_risk", e.MaxRisk, string(r.MaxRisk))
		check("semaforo", e.Semaforo, string(r.Semaforo))
		if e.HintLevel > 0 {
			check("hint_level", fmt.Sprint(e.HintLevel), fmt.Sprint(r.HintLevel))
		}
	}
	return out
}

// #endregion compare
