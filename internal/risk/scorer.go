package risk

// #region imports
import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/cognitive-trace/internal/gate"
	"github.com/danielpatrickdp/cognitive-trace/internal/signals"
	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #endregion

// #region mitigations

var mitigations = map[Dimension]string{
	DimensionCognitive:  "Ask the student to explain the accepted solution in their own words before continuing.",
	DimensionEthical:    "Remind the student of the academic integrity policy and redirect to guided hints.",
	DimensionEpistemic:  "Prompt the student to verify the model's claim against a test or a reference.",
	DimensionTechnical:  "Review the flagged code constructs and the failing tests with the student.",
	DimensionGovernance: "Escalate the session to the instructor for review.",
}

// #endregion

// #region scorer

// Scorer runs the five sub-scorers over one submission.
type Scorer struct {
	weights  Weights
	producer *signals.Producer
}

// NewScorer creates a scorer. A nil producer uses the default feature windows.
func NewScorer(weights Weights, producer *signals.Producer) *Scorer {
	if producer == nil {
		producer = signals.NewProducer(signals.DefaultProducerConfig())
	}
	return &Scorer{weights: weights, producer: producer}
}

// Score extracts features from sub and history and returns exactly one flag
// per dimension, in AllDimensions order.
func (s *Scorer) Score(sub state.Submission, decision gate.Decision, st state.CognitiveState, history state.History) []Flag {
	return s.ScoreFeatures(sub, decision, st, s.producer.Produce(sub, history))
}

// Features exposes the producer so callers can reuse the same features the
// flags were computed from.
func (s *Scorer) Features(sub state.Submission, history state.History) signals.Features {
	return s.producer.Produce(sub, history)
}

// ScoreFeatures scores precomputed features. Every sub-scorer runs
// unconditionally, so a clean submission still yields five info flags.
func (s *Scorer) ScoreFeatures(sub state.Submission, decision gate.Decision, st state.CognitiveState, f signals.Features) []Flag {
	tallies := map[Dimension]tally{
		DimensionCognitive:  s.cognitive(st, f),
		DimensionEthical:    s.ethical(decision, f),
		DimensionEpistemic:  s.epistemic(f),
		DimensionTechnical:  s.technical(f),
		DimensionGovernance: s.governance(decision, f),
	}

	flags := make([]Flag, 0, len(AllDimensions))
	for _, dim := range AllDimensions {
		t := tallies[dim]
		score := clampScore(t.score)
		flag := Flag{
			SubmissionID: sub.SubmissionID,
			Dimension:    dim,
			Score:        score,
			Level:        LevelFor(score),
			Indicators:   t.indicators,
			CreatedAt:    sub.Timestamp,
		}
		if flag.Indicators == nil {
			flag.Indicators = []string{}
		}
		if flag.Level.Severity() >= LevelMedium.Severity() {
			flag.Mitigation = mitigations[dim]
		}
		flags = append(flags, flag)
	}
	return flags
}

// #endregion scorer

// #region sub-scorers

func (s *Scorer) cognitive(st state.CognitiveState, f signals.Features) tally {
	var t tally
	w := s.weights
	if n := f.DirectAnswerRequests; n > 0 {
		t.add(capped(n, w.DirectAnswerRequest, w.DirectAnswerCap), fmt.Sprintf("direct_answer_requests=%d", n))
	}
	if f.CodeSubmissions > 0 && f.AutonomousRate < 1 {
		points := int(math.Round((1 - f.AutonomousRate) * float64(w.LowAutonomy)))
		t.add(points, fmt.Sprintf("autonomous_rate=%.2f", f.AutonomousRate))
	}
	if n := f.UnjustifiedAccepts; n > 0 {
		t.add(capped(n, w.UnjustifiedAccept, w.UnjustifiedCap), fmt.Sprintf("unjustified_accepts=%d", n))
	}
	if st == state.StateStagnation {
		t.add(w.Stagnation, "state=stagnation")
	}
	return t
}

func (s *Scorer) ethical(decision gate.Decision, f signals.Features) tally {
	var t tally
	w := s.weights
	switch decision.Action {
	case gate.ActionBlock:
		t.add(w.Block, "governance=block")
	case gate.ActionSanitize:
		t.add(w.Sanitize, "governance=sanitize")
	}
	if n := f.PriorBlocks; n > 0 {
		t.add(capped(n, w.PriorBlock, w.PriorBlockCap), fmt.Sprintf("prior_blocks=%d", n))
	}
	if n := f.FullCodeRequests; n > 0 {
		t.add(capped(n, w.FullCodeRequest, w.FullCodeCap), fmt.Sprintf("full_code_requests=%d", n))
	}
	return t
}

func (s *Scorer) epistemic(f signals.Features) tally {
	var t tally
	w := s.weights
	for _, c := range f.Contradictions {
		t.indicators = append(t.indicators, "contradiction:"+c)
	}
	t.score += capped(len(f.Contradictions), w.Contradiction, w.ContradictionCap)
	for _, m := range f.Misconceptions {
		t.indicators = append(t.indicators, "misconception:"+m)
	}
	t.score += capped(len(f.Misconceptions), w.Misconception, w.MisconceptionCap)
	if n := f.UncriticalAccepts; n > 0 {
		t.add(capped(n, w.UncriticalAccept, w.UncriticalCap), fmt.Sprintf("uncritical_accepts=%d", n))
	}
	if f.Challenged && t.score > 0 {
		t.score -= w.ChallengeDiscount
		t.indicators = append(t.indicators, "challenged_output")
	}
	return t
}

func (s *Scorer) technical(f signals.Features) tally {
	var t tally
	w := s.weights
	for _, p := range f.InsecurePatterns {
		t.indicators = append(t.indicators, "insecure:"+p)
	}
	t.score += capped(len(f.InsecurePatterns), w.InsecurePattern, w.InsecureCap)
	if n := f.LowPassStreak; n > 0 {
		t.add(capped(n, w.LowPassStep, w.LowPassCap), fmt.Sprintf("low_pass_streak=%d", n))
		if f.MeanPassRatio < 0.5 {
			t.add(w.LowMeanPass, fmt.Sprintf("mean_pass_ratio=%.2f", f.MeanPassRatio))
		}
	}
	return t
}

func (s *Scorer) governance(decision gate.Decision, f signals.Features) tally {
	var t tally
	w := s.weights
	if n := gate.CountViolations(decision) + f.PriorBlocks; n > 0 {
		t.add(n*w.Violation, fmt.Sprintf("policy_violations=%d", n))
	}
	pii := f.PriorSanitizes
	if gate.HasIndicator(decision, string(gate.VetoPII)) {
		pii++
	}
	if pii > 0 {
		t.add(pii*w.PIIIncident, fmt.Sprintf("pii_incidents=%d", pii))
	}
	return t
}

// #endregion sub-scorers

// #region helpers

type tally struct {
	score      int
	indicators []string
}

func (t *tally) add(points int, indicator string) {
	if points <= 0 {
		return
	}
	t.score += points
	t.indicators = append(t.indicators, indicator)
}

// capped returns n*per limited to limit.
func capped(n, per, limit int) int {
	v := n * per
	if v > limit {
		return limit
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// #endregion helpers
