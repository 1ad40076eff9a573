package eval

import "github.com/danielpatrickdp/cognitive-trace/internal/state"

// #region weights
// Weights is the policy table for the rolling indices. Each index is a
// weighted mean of its components, so only the ratios between weights of the
// same index matter.
type Weights struct {
	// IPC: depth of reasoning
	IPCJustification  float64 `yaml:"ipc_justification"`
	IPCReasoning      float64 `yaml:"ipc_reasoning"`
	IPCChallenge      float64 `yaml:"ipc_challenge"`
	IPCProductive     float64 `yaml:"ipc_productive_state"`
	ReasoningWordsCap int     `yaml:"reasoning_words_cap"` // words at which reasoning depth saturates

	// IRE: epistemic risk
	IREContradiction    float64 `yaml:"ire_contradiction"`
	IREMisconception    float64 `yaml:"ire_misconception"`
	IREUncriticalAccept float64 `yaml:"ire_uncritical_accept"`
	IREEpistemicScore   float64 `yaml:"ire_epistemic_score"`
}

// DefaultWeights returns the default policy table.
func DefaultWeights() Weights {
	return Weights{
		IPCJustification:  0.35,
		IPCReasoning:      0.25,
		IPCChallenge:      0.20,
		IPCProductive:     0.20,
		ReasoningWordsCap: 40,

		IREContradiction:    0.30,
		IREMisconception:    0.25,
		IREUncriticalAccept: 0.25,
		IREEpistemicScore:   0.20,
	}
}

// #endregion weights

// #region exchange
// Exchange is the metric-relevant view of one reconstructed exchange.
type Exchange struct {
	State               state.CognitiveState
	Decision            string // allow | block | sanitize
	AIOutput            bool   // N3 carried model text (not a fallback)
	DirectAnswerRequest bool
	AcceptedWithoutEdit bool
	EditedAIOutput      bool
	Challenged          bool
	Justified           bool
	ReasoningWords      int
	Contradictions      int
	Misconceptions      int
	EpistemicScore      int // 0..100
}

// #endregion exchange

// #region snapshot
// Snapshot holds the four rolling indices, each in [0,1].
type Snapshot struct {
	SessionID string  `json:"session_id"`
	Window    int     `json:"window"`
	Exchanges int     `json:"exchanges"`
	IPC       float64 `json:"ipc"`
	IAR       float64 `json:"iar"`
	IAI       float64 `json:"iai"`
	IRE       float64 `json:"ire"`
}

// #endregion snapshot
