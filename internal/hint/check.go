package hint

import (
	"regexp"
	"strings"

	"github.com/danielpatrickdp/cognitive-trace/internal/signals"
)

// Level 3 output limits.
const (
	level3MaxChars     = 1200
	level3MaxCodeLines = 12
)

// Violation tags returned by Check.
const (
	ViolationCodeBlock        = "code_block_below_level_3"
	ViolationInlineCode       = "inline_code_at_level_1"
	ViolationTooDetailed      = "too_detailed_for_level_3"
	ViolationCompleteSolution = "complete_solution"
	ViolationEmpty            = "empty_output"
)

var (
	inlineCallPattern  = regexp.MustCompile("`[^`\\n]*\\w\\([^`\\n]*\\)[^`\\n]*`")
	taggedFencePattern = regexp.MustCompile("(?s)```(python|py|javascript|js|typescript|ts|java|go|c|cpp|csharp|rust|ruby|php)\\n(.*?)```")
	definitionPattern  = regexp.MustCompile(`(?m)^\s*(def|func|function|public|private|static|class)\b`)
	placeholderPattern = regexp.MustCompile(`(?im)(\.\.\.|TODO|your code|complete this|fill in|pass\s*$)`)
)

// Check runs the static pedagogical check for level and returns the violated
// rules. An empty result means the text may be served.
func Check(level int, text string) []string {
	var out []string
	if strings.TrimSpace(text) == "" {
		return []string{ViolationEmpty}
	}

	fenced := signals.HasFencedCode(text)
	if level < 3 && fenced {
		out = append(out, ViolationCodeBlock)
	}
	if level == 1 && inlineCallPattern.MatchString(text) {
		out = append(out, ViolationInlineCode)
	}
	if level == 3 {
		codeLines := 0
		for _, block := range signals.CodeBlocks(text) {
			codeLines += countNonBlank(block)
		}
		if len(text) > level3MaxChars || codeLines > level3MaxCodeLines {
			out = append(out, ViolationTooDetailed)
		}
	}
	if level >= 3 && hasCompleteSolution(text) {
		out = append(out, ViolationCompleteSolution)
	}
	return out
}

// hasCompleteSolution reports a language-tagged block that defines something
// and leaves no placeholder for the student.
func hasCompleteSolution(text string) bool {
	for _, m := range taggedFencePattern.FindAllStringSubmatch(text, -1) {
		body := m[2]
		if definitionPattern.MatchString(body) && strings.Contains(body, "return") && !placeholderPattern.MatchString(body) {
			return true
		}
	}
	return false
}

func countNonBlank(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}
