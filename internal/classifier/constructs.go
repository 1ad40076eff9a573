package classifier

import (
	"regexp"
	"strings"
)

// #region constructs

// Construct is the dominant control structure of a code snapshot.
type Construct string

const (
	ConstructNone          Construct = ""
	ConstructRecursion     Construct = "recursion"
	ConstructComprehension Construct = "comprehension"
	ConstructHigherOrder   Construct = "higher_order"
	ConstructWhileLoop     Construct = "while_loop"
	ConstructForLoop       Construct = "for_loop"
	ConstructConditional   Construct = "conditional"
)

// constructPatterns is evaluated in priority order; ties go to the earlier row.
var constructPatterns = []struct {
	construct Construct
	pattern   *regexp.Regexp
}{
	{ConstructComprehension, regexp.MustCompile(`\[[^\[\]\n]+\bfor\b[^\[\]\n]+\bin\b[^\[\]\n]+\]`)},
	{ConstructHigherOrder, regexp.MustCompile(`\b(map|filter|reduce|forEach)\s*\(|\.(map|filter|reduce|forEach)\s*\(`)},
	{ConstructWhileLoop, regexp.MustCompile(`\bwhile\b`)},
	{ConstructForLoop, regexp.MustCompile(`\bfor\b`)},
	{ConstructConditional, regexp.MustCompile(`\b(if|elif|switch|case)\b`)},
}

var funcDefPattern = regexp.MustCompile(`\b(?:def|func|function)\s+([A-Za-z_]\w*)\s*\(`)

// #endregion

// #region primary-construct

// PrimaryConstruct picks the construct a snapshot is built around. A function
// that calls itself counts as recursion regardless of its loops.
func PrimaryConstruct(code string) Construct {
	if strings.TrimSpace(code) == "" {
		return ConstructNone
	}
	if isRecursive(code) {
		return ConstructRecursion
	}

	best, bestCount := ConstructNone, 0
	for _, cp := range constructPatterns {
		n := len(cp.pattern.FindAllStringIndex(code, -1))
		// comprehensions also contain "for"; count them once
		if cp.construct == ConstructForLoop {
			n -= len(constructPatterns[0].pattern.FindAllStringIndex(code, -1))
		}
		if n > bestCount {
			best, bestCount = cp.construct, n
		}
	}
	return best
}

// isRecursive reports whether any declared function is called inside its own body.
func isRecursive(code string) bool {
	defs := funcDefPattern.FindAllStringSubmatchIndex(code, -1)
	for i, def := range defs {
		name := code[def[2]:def[3]]
		bodyEnd := len(code)
		if i+1 < len(defs) {
			bodyEnd = defs[i+1][0]
		}
		body := code[def[1]:bodyEnd]
		call := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)
		if call.MatchString(body) {
			return true
		}
	}
	return false
}

// #endregion
