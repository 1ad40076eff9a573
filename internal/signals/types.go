package signals

import "time"

// #region config

// ProducerConfig holds tuning knobs for feature extraction.
type ProducerConfig struct {
	Window           int           // prior submissions considered for rolling features
	AcceptWindow     time.Duration // max delay for an unedited paste to count as uncritical acceptance
	LowPassThreshold float64       // pass ratio below which a submission counts as low-pass
	MinJustification int           // minimum words for an explanation to count as justification
}

// DefaultProducerConfig returns sensible defaults.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Window:           10,
		AcceptWindow:     2 * time.Minute,
		LowPassThreshold: 0.5,
		MinJustification: 6,
	}
}

// #endregion config

// #region features

// Features are the observable facts about one submission in its session
// context. Counts cover the rolling window plus the current submission.
type Features struct {
	DirectAnswerRequest  bool `json:"direct_answer_request"`
	DirectAnswerRequests int  `json:"direct_answer_requests"`
	FullCodeRequest      bool `json:"full_code_request"`
	FullCodeRequests     int  `json:"full_code_requests"`

	AcceptedWithoutEdit bool    `json:"accepted_without_edit"`
	UncriticalAccepts   int     `json:"uncritical_accepts"`
	EditedAIOutput      bool    `json:"edited_ai_output"`
	Challenged          bool    `json:"challenged"`
	Justified           bool    `json:"justified"`
	UnjustifiedAccepts  int     `json:"unjustified_accepts"`
	CodeSubmissions     int     `json:"code_submissions"`
	AutonomousRate      float64 `json:"autonomous_rate"`
	ReasoningWords      int     `json:"reasoning_words"`

	Contradictions   []string `json:"contradictions,omitempty"`
	Misconceptions   []string `json:"misconceptions,omitempty"`
	InsecurePatterns []string `json:"insecure_patterns,omitempty"`

	PassRatio      float64 `json:"pass_ratio"`
	HasTestResults bool    `json:"has_test_results"`
	MeanPassRatio  float64 `json:"mean_pass_ratio"`
	LowPassStreak  int     `json:"low_pass_streak"`

	PriorBlocks    int `json:"prior_blocks"`
	PriorSanitizes int `json:"prior_sanitizes"`
}

// #endregion features
