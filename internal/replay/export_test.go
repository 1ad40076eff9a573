package replay

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

func TestFixtureFromHistoryRoundTrip(t *testing.T) {
	f, err := LoadFixture("testdata/debugging_session.yaml")
	if err != nil {
		t.Fatal(err)
	}
	inters := f.ToInteractions("sess-1")
	results := Replay(inters, f.Config.ToReplayConfig())

	// rebuild the history the live pipeline would have stored
	var history state.History
	for i, r := range results {
		if r.Action == ActionRejected {
			continue
		}
		history = append(history, state.HistoryEntry{
			Submission: inters[i].Submission(),
			Decision:   string(r.Decision),
			State:      r.State,
			Reply:      inters[i].Reply,
			HintLevel:  r.HintLevel,
		})
	}

	exported, err := FixtureFromHistory("exported", history)
	if err != nil {
		t.Fatal(err)
	}
	data, err := exported.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var loaded Fixture
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal exported fixture: %v\n%s", err, data)
	}
	if len(loaded.Interactions) != len(history) {
		t.Fatalf("interactions = %d, want %d", len(loaded.Interactions), len(history))
	}
	if !loaded.Start.Equal(f.Start) {
		t.Errorf("start = %v, want %v", loaded.Start, f.Start)
	}
	if loaded.Interactions[1].After != 3*time.Minute {
		t.Errorf("after = %v, want 3m", loaded.Interactions[1].After)
	}

	replayed := Replay(loaded.ToInteractions("sess-1"), loaded.Config.ToReplayConfig())
	if ms := Compare(replayed, loaded.Expected); len(ms) != 0 {
		t.Errorf("exported fixture does not replay cleanly: %v", ms)
	}
}

func TestFixtureFromHistoryEmpty(t *testing.T) {
	if _, err := FixtureFromHistory("", nil); err == nil {
		t.Fatal("expected an error for an empty history")
	}
}
