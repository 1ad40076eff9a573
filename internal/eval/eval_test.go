package eval

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeEmptyHistory(t *testing.T) {
	snap := Compute("s", nil, 10, DefaultWeights())

	if snap.Exchanges != 0 {
		t.Fatalf("expected 0 exchanges, got %d", snap.Exchanges)
	}
	if snap.IAR != 1 || snap.IPC != 0 || snap.IAI != 0 || snap.IRE != 0 {
		t.Errorf("unexpected empty snapshot %+v", snap)
	}
}

func TestComputeIARFromDirectAccepts(t *testing.T) {
	exchanges := []Exchange{
		{AcceptedWithoutEdit: true},
		{},
		{},
		{AcceptedWithoutEdit: true},
	}
	snap := Compute("s", exchanges, 0, DefaultWeights())

	if !approx(snap.IAR, 0.5) {
		t.Errorf("expected IAR 0.5, got %f", snap.IAR)
	}
}

func TestComputeIAIAuditedOutputs(t *testing.T) {
	exchanges := []Exchange{
		{AIOutput: true},
		{AIOutput: true, EditedAIOutput: true}, // audits #0
		{AIOutput: true},                       // #1 not audited
		{AIOutput: true, Challenged: true},     // audits #2; own output pending
	}
	snap := Compute("s", exchanges, 0, DefaultWeights())

	// outputs with a follow-up: #0, #1, #2 -> audited #0, #2
	if !approx(snap.IAI, 2.0/3.0) {
		t.Errorf("expected IAI 2/3, got %f", snap.IAI)
	}
}

func TestComputeFallbackRepliesAreNotAIOutputs(t *testing.T) {
	exchanges := []Exchange{
		{AIOutput: false},
		{EditedAIOutput: true},
	}
	snap := Compute("s", exchanges, 0, DefaultWeights())
	if snap.IAI != 0 {
		t.Errorf("expected IAI 0 without model outputs, got %f", snap.IAI)
	}
}

func TestComputeIPCComponents(t *testing.T) {
	w := Weights{IPCJustification: 1, ReasoningWordsCap: 10}
	exchanges := []Exchange{
		{Justified: true, ReasoningWords: 50},
		{Justified: false},
	}
	snap := Compute("s", exchanges, 0, w)
	if !approx(snap.IPC, 0.5) {
		t.Errorf("expected IPC 0.5 from justification only, got %f", snap.IPC)
	}

	w = Weights{IPCReasoning: 1, ReasoningWordsCap: 10}
	snap = Compute("s", exchanges, 0, w)
	if !approx(snap.IPC, 0.5) {
		t.Errorf("expected saturated reasoning depth 0.5, got %f", snap.IPC)
	}

	w = Weights{IPCProductive: 1}
	snap = Compute("s", []Exchange{{State: state.StateDebugging}, {State: state.StateExploration}}, 0, w)
	if !approx(snap.IPC, 0.5) {
		t.Errorf("expected productive share 0.5, got %f", snap.IPC)
	}
}

func TestComputeIRE(t *testing.T) {
	w := Weights{IREContradiction: 1, IREEpistemicScore: 1}
	exchanges := []Exchange{
		{Contradictions: 2, EpistemicScore: 40},
		{EpistemicScore: 0},
	}
	snap := Compute("s", exchanges, 0, w)
	// contradiction rate 0.5, mean epistemic 0.2 -> (0.5+0.2)/2
	if !approx(snap.IRE, 0.35) {
		t.Errorf("expected IRE 0.35, got %f", snap.IRE)
	}
}

func TestComputeWindowUsesMostRecent(t *testing.T) {
	exchanges := []Exchange{
		{AcceptedWithoutEdit: true},
		{AcceptedWithoutEdit: true},
		{},
		{},
	}
	snap := Compute("s", exchanges, 2, DefaultWeights())
	if snap.Exchanges != 2 || snap.IAR != 1 {
		t.Errorf("expected window of 2 clean exchanges, got %+v", snap)
	}
}

func TestComputeDeterministicAndBounded(t *testing.T) {
	exchanges := []Exchange{
		{State: state.StateValidation, Justified: true, Challenged: true, ReasoningWords: 500, AIOutput: true},
		{AcceptedWithoutEdit: true, Contradictions: 3, Misconceptions: 2, EpistemicScore: 250, AIOutput: true},
		{EditedAIOutput: true, EpistemicScore: -10},
	}
	a := Compute("s", exchanges, 0, DefaultWeights())
	b := Compute("s", exchanges, 0, DefaultWeights())
	if a != b {
		t.Fatalf("expected identical snapshots, got %+v and %+v", a, b)
	}
	for name, v := range map[string]float64{"IPC": a.IPC, "IAR": a.IAR, "IAI": a.IAI, "IRE": a.IRE} {
		if v < 0 || v > 1 {
			t.Errorf("%s out of [0,1]: %f", name, v)
		}
	}
}

func TestComputeZeroWeights(t *testing.T) {
	snap := Compute("s", []Exchange{{Justified: true}}, 0, Weights{})
	if snap.IPC != 0 || snap.IRE != 0 {
		t.Errorf("expected zero indices with empty weight table, got %+v", snap)
	}
}
