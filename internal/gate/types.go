package gate

import "regexp"

// #region action
// Action is the outcome of a governance evaluation.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionBlock    Action = "block"
	ActionSanitize Action = "sanitize"
)

// #endregion action

// #region veto-type
// VetoType enumerates the policy categories a rule belongs to.
type VetoType string

const (
	VetoPII             VetoType = "pii"
	VetoSolutionRequest VetoType = "solution_request"
	VetoPromptInjection VetoType = "prompt_injection"
	VetoAcademicFraud   VetoType = "academic_fraud"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents one matched policy rule.
type VetoSignal struct {
	Type   VetoType
	Rule   string
	Reason string
	Count  int
}

// #endregion veto-signal

// #region rule
// Rule is one row of the static policy table.
type Rule struct {
	Name        string
	Type        VetoType
	Pattern     *regexp.Regexp
	Placeholder string // replacement for PII rules, empty for disallowed rules
	Rationale   string // end-user explanation for disallowed rules
}

// Redacts reports whether matches of this rule are replaced rather than blocked.
func (r Rule) Redacts() bool {
	return r.Placeholder != ""
}

// Policy is the ordered rule table the gate evaluates.
type Policy struct {
	Rules []Rule
}

// #endregion rule

// #region gate-decision
// Decision is the output of the gate evaluation. It never contains the
// original PII; RedactedText carries the placeholder version when any PII
// rule matched.
type Decision struct {
	Action       Action
	RedactedText string
	Rationale    string
	Indicators   []string
	Vetoes       []VetoSignal
}

// Blocked reports whether the pipeline must short-circuit.
func (d Decision) Blocked() bool {
	return d.Action == ActionBlock
}

// Text returns the text downstream stages should see.
func (d Decision) Text(raw string) string {
	if d.RedactedText != "" {
		return d.RedactedText
	}
	return raw
}

// #endregion gate-decision
