package risk

import "time"

// #region dimension
// Dimension is one of the five independent risk axes.
type Dimension string

const (
	DimensionCognitive  Dimension = "cognitive"
	DimensionEthical    Dimension = "ethical"
	DimensionEpistemic  Dimension = "epistemic"
	DimensionTechnical  Dimension = "technical"
	DimensionGovernance Dimension = "governance"
)

// AllDimensions lists the dimensions in scoring order.
var AllDimensions = []Dimension{
	DimensionCognitive, DimensionEthical, DimensionEpistemic, DimensionTechnical, DimensionGovernance,
}

// #endregion dimension

// #region level
// Level is the coarse severity bucket of a score.
type Level string

const (
	LevelInfo     Level = "info"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// LevelFor maps a score in [0,100] to its level: <20 info, <40 low,
// <60 medium, <80 high, otherwise critical.
func LevelFor(score int) Level {
	switch {
	case score < 20:
		return LevelInfo
	case score < 40:
		return LevelLow
	case score < 60:
		return LevelMedium
	case score < 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Severity orders levels from info (0) to critical (4).
func (l Level) Severity() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// #endregion level

// #region flag
// Flag is one dimension's assessment of one submission.
type Flag struct {
	SubmissionID string    `json:"submission_id,omitempty"`
	Dimension    Dimension `json:"dimension"`
	Score        int       `json:"score"`
	Level        Level     `json:"level"`
	Indicators   []string  `json:"indicators"`
	Mitigation   string    `json:"mitigation,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// #endregion flag

// #region semaforo
// Semaforo is the traffic-light summary of a submission's flags.
type Semaforo string

const (
	SemaforoGreen  Semaforo = "green"
	SemaforoYellow Semaforo = "yellow"
	SemaforoRed    Semaforo = "red"
)

// #endregion semaforo

// #region config
// Weights are the per-signal point contributions of each sub-scorer.
// Every contribution is capped so a single signal cannot saturate a dimension.
type Weights struct {
	DirectAnswerRequest int `yaml:"direct_answer_request"`
	DirectAnswerCap     int `yaml:"direct_answer_cap"`
	LowAutonomy         int `yaml:"low_autonomy"`
	UnjustifiedAccept   int `yaml:"unjustified_accept"`
	UnjustifiedCap      int `yaml:"unjustified_cap"`
	Stagnation          int `yaml:"stagnation"`

	Block           int `yaml:"block"`
	Sanitize        int `yaml:"sanitize"`
	PriorBlock      int `yaml:"prior_block"`
	PriorBlockCap   int `yaml:"prior_block_cap"`
	FullCodeRequest int `yaml:"full_code_request"`
	FullCodeCap     int `yaml:"full_code_cap"`

	Contradiction     int `yaml:"contradiction"`
	ContradictionCap  int `yaml:"contradiction_cap"`
	Misconception     int `yaml:"misconception"`
	MisconceptionCap  int `yaml:"misconception_cap"`
	UncriticalAccept  int `yaml:"uncritical_accept"`
	UncriticalCap     int `yaml:"uncritical_cap"`
	ChallengeDiscount int `yaml:"challenge_discount"`

	InsecurePattern int `yaml:"insecure_pattern"`
	InsecureCap     int `yaml:"insecure_cap"`
	LowPassStep     int `yaml:"low_pass_step"`
	LowPassCap      int `yaml:"low_pass_cap"`
	LowMeanPass     int `yaml:"low_mean_pass"`

	Violation   int `yaml:"violation"`
	PIIIncident int `yaml:"pii_incident"`
}

// DefaultWeights returns the default point table.
func DefaultWeights() Weights {
	return Weights{
		DirectAnswerRequest: 15,
		DirectAnswerCap:     45,
		LowAutonomy:         30,
		UnjustifiedAccept:   12,
		UnjustifiedCap:      25,
		Stagnation:          10,

		Block:           40,
		Sanitize:        20,
		PriorBlock:      10,
		PriorBlockCap:   20,
		FullCodeRequest: 15,
		FullCodeCap:     30,

		Contradiction:     20,
		ContradictionCap:  40,
		Misconception:     15,
		MisconceptionCap:  30,
		UncriticalAccept:  15,
		UncriticalCap:     30,
		ChallengeDiscount: 10,

		InsecurePattern: 25,
		InsecureCap:     60,
		LowPassStep:     10,
		LowPassCap:      30,
		LowMeanPass:     10,

		Violation:   25,
		PIIIncident: 10,
	}
}

// #endregion config
