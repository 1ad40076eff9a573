package eval

import (
	"math"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region compute
// Compute derives the rolling indices from the most recent window exchanges
// (oldest first). It is pure: the same exchanges always give the same
// snapshot. window <= 0 uses every exchange.
func Compute(sessionID string, exchanges []Exchange, window int, w Weights) Snapshot {
	if window > 0 && len(exchanges) > window {
		exchanges = exchanges[len(exchanges)-window:]
	}
	snap := Snapshot{SessionID: sessionID, Window: window, Exchanges: len(exchanges)}
	if len(exchanges) == 0 {
		// No evidence: full authenticity, nothing else observed.
		snap.IAR = 1
		return snap
	}

	n := float64(len(exchanges))
	var justified, challenged, productive, accepted float64
	var reasoning, contradictions, misconceptions, epistemic float64
	var outputs, audited float64

	wordsCap := w.ReasoningWordsCap
	if wordsCap <= 0 {
		wordsCap = DefaultWeights().ReasoningWordsCap
	}

	for i, ex := range exchanges {
		if ex.Justified {
			justified++
		}
		if ex.Challenged {
			challenged++
		}
		if productiveState(ex.State) {
			productive++
		}
		if ex.AcceptedWithoutEdit {
			accepted++
		}
		reasoning += math.Min(float64(ex.ReasoningWords)/float64(wordsCap), 1)
		if ex.Contradictions > 0 {
			contradictions++
		}
		if ex.Misconceptions > 0 {
			misconceptions++
		}
		epistemic += clamp01(float64(ex.EpistemicScore) / 100)

		// An AI output is audited when the student's next exchange edits or
		// challenges it. The latest output has no next exchange yet.
		if ex.AIOutput && i+1 < len(exchanges) {
			outputs++
			next := exchanges[i+1]
			if next.EditedAIOutput || next.Challenged {
				audited++
			}
		}
	}

	snap.IPC = weightedMean(
		[]float64{justified / n, reasoning / n, challenged / n, productive / n},
		[]float64{w.IPCJustification, w.IPCReasoning, w.IPCChallenge, w.IPCProductive},
	)
	snap.IAR = clamp01(1 - accepted/n)
	if outputs > 0 {
		snap.IAI = clamp01(audited / outputs)
	}
	snap.IRE = weightedMean(
		[]float64{contradictions / n, misconceptions / n, accepted / n, epistemic / n},
		[]float64{w.IREContradiction, w.IREMisconception, w.IREUncriticalAccept, w.IREEpistemicScore},
	)
	return snap
}

// #endregion compute

// #region helpers
func productiveState(s state.CognitiveState) bool {
	switch s {
	case state.StateDebugging, state.StateSyntaxDebugging, state.StateStrategyChange,
		state.StateValidation, state.StateReflection:
		return true
	}
	return false
}

// weightedMean ignores non-positive weights; all-zero weights give 0.
func weightedMean(values, weights []float64) float64 {
	var sum, total float64
	for i, v := range values {
		if weights[i] <= 0 {
			continue
		}
		sum += v * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return 0
	}
	return clamp01(sum / total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
