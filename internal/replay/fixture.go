package replay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/cognitive-trace/internal/risk"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region fixture-types

// Fixture is the top-level YAML structure for a replay fixture.
type Fixture struct {
	Description  string                `yaml:"description,omitempty"`
	Start        time.Time             `yaml:"start,omitempty"`
	Config       FixtureConfig         `yaml:"config,omitempty"`
	Exercise     state.ExerciseContext `yaml:"exercise,omitempty"`
	Interactions []FixtureInteraction  `yaml:"submissions"`
	Expected     []Expectation         `yaml:"expected,omitempty"`
}

// FixtureTests mirrors state.TestResults with YAML tags.
type FixtureTests struct {
	Passed    int    `yaml:"passed,omitempty"`
	Total     int    `yaml:"total,omitempty"`
	ErrorType string `yaml:"error_type,omitempty"`
	Syntax    bool   `yaml:"syntax,omitempty"`
}

// FixtureInteraction is one recorded submission. After is the delay since
// the previous submission; Reply is the tutor output that followed it.
type FixtureInteraction struct {
	ID        string        `yaml:"id"`
	Kind      string        `yaml:"kind,omitempty"`
	Text      string        `yaml:"text,omitempty"`
	Code      string        `yaml:"code,omitempty"`
	After     time.Duration `yaml:"after,omitempty"`
	Tests     *FixtureTests `yaml:"tests,omitempty"`
	AttemptID string        `yaml:"attempt_id,omitempty"`
	HintLevel int           `yaml:"hint_level,omitempty"`
	Reply     string        `yaml:"reply,omitempty"`
}

// Expectation is the expected outcome per submission. Empty fields are not
// checked.
type Expectation struct {
	ID        string `yaml:"id"`
	Action    string `yaml:"action,omitempty"`
	Decision  string `yaml:"decision,omitempty"`
	State     string `yaml:"state,omitempty"`
	Rule      string `yaml:"rule,omitempty"`
	MaxRisk   string `yaml:"max_risk,omitempty"`
	Semaforo  string `yaml:"semaforo,omitempty"`
	HintLevel int    `yaml:"hint_level,omitempty"`
}

// FixtureConfig overrides stage defaults; zero fields keep the default.
type FixtureConfig struct {
	NewErrorLookback int           `yaml:"new_error_lookback,omitempty"`
	StagnationStreak int           `yaml:"stagnation_streak,omitempty"`
	Window           int           `yaml:"window,omitempty"`
	AcceptWindow     time.Duration `yaml:"accept_window,omitempty"`
	Weights          *risk.Weights `yaml:"weights,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a YAML fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.Interactions) == 0 {
		return nil, fmt.Errorf("fixture %s has no submissions", path)
	}
	if f.Start.IsZero() {
		f.Start = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	}
	return &f, nil
}

// ToReplayConfig applies the fixture's overrides to the defaults.
func (fc FixtureConfig) ToReplayConfig() ReplayConfig {
	c := DefaultReplayConfig()
	if fc.NewErrorLookback > 0 {
		c.Classifier.NewErrorLookback = fc.NewErrorLookback
	}
	if fc.StagnationStreak > 0 {
		c.Classifier.StagnationStreak = fc.StagnationStreak
	}
	if fc.Window > 0 {
		c.Producer.Window = fc.Window
	}
	if fc.AcceptWindow > 0 {
		c.Producer.AcceptWindow = fc.AcceptWindow
	}
	if fc.Weights != nil {
		c.Weights = *fc.Weights
	}
	return c
}

// Interactions converts the recorded submissions to timestamped interactions.
func (f *Fixture) ToInteractions(sessionID string) []Interaction {
	out := make([]Interaction, 0, len(f.Interactions))
	at := f.Start
	for i, fi := range f.Interactions {
		at = at.Add(fi.After)
		id := fi.ID
		if id == "" {
			id = fmt.Sprintf("sub-%d", i+1)
		}
		inter := Interaction{
			ID:        id,
			SessionID: sessionID,
			Kind:      fi.Kind,
			Text:      fi.Text,
			Code:      fi.Code,
			At:        at,
			AttemptID: fi.AttemptID,
			HintLevel: fi.HintLevel,
			Reply:     fi.Reply,
			Exercise:  f.Exercise,
		}
		if fi.Tests != nil {
			inter.Tests = &state.TestResults{
				Passed:    fi.Tests.Passed,
				Total:     fi.Tests.Total,
				ErrorType: fi.Tests.ErrorType,
				Syntax:    fi.Tests.Syntax,
			}
		}
		out = append(out, inter)
	}
	return out
}

// #endregion fixture-loader

// #region interaction

// Interaction is one submission ready for replay.
type Interaction struct {
	ID        string
	SessionID string
	Kind      string
	Text      string
	Code      string
	At        time.Time
	Tests     *state.TestResults
	AttemptID string
	HintLevel int
	Reply     string
	Exercise  state.ExerciseContext
}

// Submission builds the submission as the pipeline would receive it. Code
// submissions without text use the code as their text.
func (i Interaction) Submission() state.Submission {
	kind, ok := state.ParseKind(i.Kind)
	if !ok {
		kind = state.KindChat
	}
	text := i.Text
	if kind == state.KindCode && text == "" {
		text = i.Code
	}
	attempt := i.AttemptID
	if kind == state.KindHint && attempt == "" {
		attempt = i.Exercise.ExerciseID
		if attempt == "" {
			attempt = i.SessionID
		}
	}
	return state.Submission{
		SubmissionID:      i.ID,
		SessionID:         i.SessionID,
		Kind:              kind,
		RawText:           text,
		CodeSnapshot:      i.Code,
		Timestamp:         i.At,
		PriorTestResults:  i.Tests,
		ExerciseAttemptID: attempt,
		HintLevel:         i.HintLevel,
		Exercise:          i.Exercise,
	}
}

// ReplyAt places the recorded reply one second after the submission.
func (i Interaction) ReplyAt() time.Time {
	if i.Reply == "" {
		return time.Time{}
	}
	return i.At.Add(time.Second)
}

// #endregion interaction
