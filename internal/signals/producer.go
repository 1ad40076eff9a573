package signals

import (
	"regexp"
	"sort"
	"strings"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// #region producer

// Producer derives Features from a submission and its session history.
// It is pure: no I/O, no clock reads.
type Producer struct {
	config ProducerConfig
}

// NewProducer creates a Producer. Zero-valued knobs fall back to defaults.
func NewProducer(config ProducerConfig) *Producer {
	def := DefaultProducerConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.AcceptWindow <= 0 {
		config.AcceptWindow = def.AcceptWindow
	}
	if config.LowPassThreshold <= 0 {
		config.LowPassThreshold = def.LowPassThreshold
	}
	if config.MinJustification <= 0 {
		config.MinJustification = def.MinJustification
	}
	return &Producer{config: config}
}

// #endregion producer

// #region produce

// Produce computes all features for sub. history holds the submissions
// processed before sub, oldest first.
func (p *Producer) Produce(sub state.Submission, history state.History) Features {
	text := sub.RawText
	start := len(history) - p.config.Window
	if start < 0 {
		start = 0
	}
	window := history[start:]

	f := Features{
		DirectAnswerRequest: matchAny(directAnswerPatterns, text),
		FullCodeRequest:     matchAny(fullCodePatterns, text),
		Challenged:          challengePattern.MatchString(text),
		Justified:           p.justified(text),
		Misconceptions:      Misconceptions(text),
		InsecurePatterns:    InsecurePatterns(sub.CodeSnapshot),
	}
	if f.Justified {
		f.ReasoningWords = len(strings.Fields(text))
	}

	prev := history.Last()
	f.AcceptedWithoutEdit = p.acceptedWithoutEdit(sub, prev)
	f.EditedAIOutput = !f.AcceptedWithoutEdit && editedAIOutput(sub, prev)

	// --- Rolling counts over window + current ---
	accepts, unjustified, code := 0, 0, 0
	for i, e := range window {
		var before *state.HistoryEntry
		if idx := start + i - 1; idx >= 0 {
			before = &history[idx]
		}
		s := e.Submission
		if matchAny(directAnswerPatterns, s.RawText) {
			f.DirectAnswerRequests++
		}
		if matchAny(fullCodePatterns, s.RawText) {
			f.FullCodeRequests++
		}
		if s.HasCode() {
			code++
		}
		if p.acceptedWithoutEdit(s, before) {
			accepts++
			if !p.justified(s.RawText) {
				unjustified++
			}
		}
	}
	if f.DirectAnswerRequest {
		f.DirectAnswerRequests++
	}
	if f.FullCodeRequest {
		f.FullCodeRequests++
	}
	if sub.HasCode() {
		code++
	}
	if f.AcceptedWithoutEdit {
		accepts++
		if !f.Justified {
			unjustified++
		}
	}
	f.UncriticalAccepts = accepts
	f.UnjustifiedAccepts = unjustified
	f.CodeSubmissions = code
	f.AutonomousRate = 1
	if code > 0 {
		f.AutonomousRate = float64(code-accepts) / float64(code)
		if f.AutonomousRate < 0 {
			f.AutonomousRate = 0
		}
	}

	// --- Contradictions against earlier claims in the window ---
	var earlier []string
	for _, e := range window {
		earlier = append(earlier, e.Submission.RawText)
	}
	f.Contradictions = Contradictions(text, earlier)

	// --- Test results ---
	if r := sub.PriorTestResults; r != nil && r.Total > 0 {
		f.HasTestResults = true
		f.PassRatio = r.Ratio()
	}
	f.MeanPassRatio, f.LowPassStreak = p.passStats(sub, window)

	// --- Session-wide governance history ---
	for _, e := range history {
		switch e.Decision {
		case "block":
			f.PriorBlocks++
		case "sanitize":
			f.PriorSanitizes++
		}
	}
	return f
}

// #endregion produce

// #region acceptance

// acceptedWithoutEdit reports whether sub pastes a code block from the
// previous reply verbatim within the accept window.
func (p *Producer) acceptedWithoutEdit(sub state.Submission, prev *state.HistoryEntry) bool {
	if prev == nil || !sub.HasCode() || prev.Reply == "" {
		return false
	}
	if !sub.Timestamp.IsZero() && !prev.ReplyAt.IsZero() &&
		sub.Timestamp.Sub(prev.ReplyAt) > p.config.AcceptWindow {
		return false
	}
	code := normalizeCode(sub.CodeSnapshot)
	for _, block := range CodeBlocks(prev.Reply) {
		if nb := normalizeCode(block); nb != "" && strings.Contains(code, nb) {
			return true
		}
	}
	return false
}

// editedAIOutput reports whether sub reuses part of a replied code block
// after changing it.
func editedAIOutput(sub state.Submission, prev *state.HistoryEntry) bool {
	if prev == nil || !sub.HasCode() || prev.Reply == "" {
		return false
	}
	lines := make(map[string]bool)
	for _, line := range strings.Split(normalizeCode(sub.CodeSnapshot), "\n") {
		lines[line] = true
	}
	for _, block := range CodeBlocks(prev.Reply) {
		for _, line := range strings.Split(normalizeCode(block), "\n") {
			if len(line) >= 8 && lines[line] {
				return true
			}
		}
	}
	return false
}

// #endregion acceptance

// #region pass-stats

// passStats returns the mean pass ratio over results-bearing submissions and
// the trailing count of those below the low-pass threshold.
func (p *Producer) passStats(sub state.Submission, window state.History) (float64, int) {
	var ratios []float64
	for _, e := range window {
		if r := e.Submission.PriorTestResults; r != nil && r.Total > 0 {
			ratios = append(ratios, r.Ratio())
		}
	}
	if r := sub.PriorTestResults; r != nil && r.Total > 0 {
		ratios = append(ratios, r.Ratio())
	}
	if len(ratios) == 0 {
		return 0, 0
	}

	sum := 0.0
	for _, r := range ratios {
		sum += r
	}
	streak := 0
	for i := len(ratios) - 1; i >= 0; i-- {
		if ratios[i] >= p.config.LowPassThreshold {
			break
		}
		streak++
	}
	return sum / float64(len(ratios)), streak
}

// #endregion pass-stats

// #region text-features

func (p *Producer) justified(text string) bool {
	return justificationPattern.MatchString(text) && len(strings.Fields(text)) >= p.config.MinJustification
}

// Contradictions returns "subject:object" keys where text asserts the
// opposite polarity of a claim made in one of the earlier texts.
func Contradictions(text string, earlier []string) []string {
	current := claims(text)
	if len(current) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	for _, prior := range earlier {
		for key, negated := range claims(prior) {
			if cur, ok := current[key]; ok && cur != negated {
				seen[key] = true
			}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// claims maps "subject:object" to whether the statement was negated.
func claims(text string) map[string]bool {
	out := make(map[string]bool)
	collect := func(subject, neg, object string) {
		subject, object = strings.ToLower(subject), strings.ToLower(object)
		if claimStopwords[subject] || claimStopwords[object] {
			return
		}
		out[subject+":"+object] = strings.TrimSpace(neg) != ""
	}
	for _, m := range claimPatternEN.FindAllStringSubmatch(text, -1) {
		collect(m[1], m[2], m[3])
	}
	for _, m := range claimPatternES.FindAllStringSubmatch(text, -1) {
		collect(m[1], m[2], m[3])
	}
	return out
}

// Misconceptions returns the names of known conceptual-error markers in text.
func Misconceptions(text string) []string {
	var out []string
	for _, m := range misconceptionMarkers {
		if m.pattern.MatchString(text) {
			out = append(out, m.name)
		}
	}
	return out
}

// InsecurePatterns returns the names of insecure constructs found in code.
func InsecurePatterns(code string) []string {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	var out []string
	for _, ip := range insecurePatterns {
		if ip.pattern.MatchString(code) {
			out = append(out, ip.name)
		}
	}
	return out
}

// #endregion text-features

// #region helpers

// CodeBlocks returns the bodies of fenced code blocks in text.
func CodeBlocks(text string) []string {
	matches := fencedBlockPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// HasFencedCode reports whether text contains a fenced code block.
func HasFencedCode(text string) bool {
	return strings.Contains(text, "```")
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// normalizeCode trims each line and drops blank lines so indentation and
// spacing changes do not hide a verbatim paste.
func normalizeCode(code string) string {
	var kept []string
	for _, line := range strings.Split(code, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, "\n")
}

// #endregion helpers
