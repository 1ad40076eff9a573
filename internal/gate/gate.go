package gate

import (
	"fmt"
	"regexp"
	"strings"
)

// #region default-policy
// DefaultPolicy returns the institutional policy table. PII rules come
// first so redaction happens before disallowed-request matching.
func DefaultPolicy() Policy {
	return Policy{Rules: []Rule{
		{
			Name:        "email",
			Type:        VetoPII,
			Pattern:     regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`),
			Placeholder: "[EMAIL]",
		},
		{
			Name:        "us_ssn",
			Type:        VetoPII,
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Placeholder: "[NATIONAL_ID]",
		},
		{
			Name:        "es_dni",
			Type:        VetoPII,
			Pattern:     regexp.MustCompile(`(?i)\b\d{8}-?[a-z]\b`),
			Placeholder: "[NATIONAL_ID]",
		},
		{
			Name:        "es_nie",
			Type:        VetoPII,
			Pattern:     regexp.MustCompile(`(?i)\b[xyz]-?\d{7}-?[a-z]\b`),
			Placeholder: "[NATIONAL_ID]",
		},
		{
			Name:        "phone",
			Type:        VetoPII,
			Pattern:     regexp.MustCompile(`\+\d{1,3}[ \-]?\d{3}[ \-]?\d{3}[ \-]?\d{3,4}\b`),
			Placeholder: "[PHONE]",
		},
		{
			Name:      "full_solution_en",
			Type:      VetoSolutionRequest,
			Pattern:   regexp.MustCompile(`(?i)\b(give|send|show|write)\s+me\s+(the\s+)?(full|complete|whole|entire|final)\s+(solution|code|answer|program)`),
			Rationale: "Complete solutions are not provided. Ask about the step you are stuck on and we will work through it together.",
		},
		{
			Name:      "solve_for_me_en",
			Type:      VetoSolutionRequest,
			Pattern:   regexp.MustCompile(`(?i)\b(solve|do|finish|complete)\s+(it|this|the\s+exercise|my\s+(homework|assignment))\s+for\s+me\b`),
			Rationale: "The tutor will not solve the exercise for you. Describe what you have tried so far.",
		},
		{
			Name:      "full_solution_es",
			Type:      VetoSolutionRequest,
			Pattern:   regexp.MustCompile(`(?i)\b(dame|pásame|pasame|escríbeme|escribeme)\s+(el|la)\s+(código|codigo|solución|solucion|respuesta)\s+(completo|completa|entero|entera|final)`),
			Rationale: "No se entregan soluciones completas. Cuéntame en qué paso estás atascado.",
		},
		{
			Name:      "solve_for_me_es",
			Type:      VetoSolutionRequest,
			Pattern:   regexp.MustCompile(`(?i)\b(resuélvelo|resuelvelo|hazlo\s+por\s+mí|hazlo\s+por\s+mi|hazme\s+la\s+tarea)`),
			Rationale: "El tutor no resuelve el ejercicio por ti. Explica qué has intentado.",
		},
		{
			Name:      "prompt_injection",
			Type:      VetoPromptInjection,
			Pattern:   regexp.MustCompile(`(?i)\b(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|your)\s+(instructions|rules|prompt)`),
			Rationale: "Requests to override the tutor's rules are not allowed.",
		},
		{
			Name:      "exam_answers",
			Type:      VetoAcademicFraud,
			Pattern:   regexp.MustCompile(`(?i)\b(answers?|respuestas)\s+(to|for|del|de\s+la)\s+(the\s+)?(exam|test|quiz|examen|prueba)\b`),
			Rationale: "Assessment answers cannot be shared.",
		},
	}}
}

// #endregion default-policy

// #region gate
// Gate validates and redacts raw submissions against a static policy.
// It performs no I/O and is safe for concurrent use.
type Gate struct {
	policy Policy
}

// NewGate creates a gate over the given policy.
func NewGate(policy Policy) *Gate {
	return &Gate{policy: policy}
}

// Evaluate runs every rule against raw. PII matches are redacted and yield
// sanitize; a disallowed request cannot be redacted and yields block, which
// takes precedence. The result is a pure function of raw and the policy.
func (g *Gate) Evaluate(raw string) Decision {
	var vetoes []VetoSignal
	redacted := raw
	piiFound := false

	// --- Redaction pass ---
	for _, rule := range g.policy.Rules {
		if !rule.Redacts() {
			continue
		}
		matches := rule.Pattern.FindAllStringIndex(redacted, -1)
		if len(matches) == 0 {
			continue
		}
		piiFound = true
		redacted = rule.Pattern.ReplaceAllLiteralString(redacted, rule.Placeholder)
		vetoes = append(vetoes, VetoSignal{
			Type:   rule.Type,
			Rule:   rule.Name,
			Reason: fmt.Sprintf("%d %s match(es) redacted", len(matches), rule.Name),
			Count:  len(matches),
		})
	}

	// --- Disallowed-request pass (on redacted text) ---
	var blocking *Rule
	for i, rule := range g.policy.Rules {
		if rule.Redacts() {
			continue
		}
		matches := rule.Pattern.FindAllStringIndex(redacted, -1)
		if len(matches) == 0 {
			continue
		}
		vetoes = append(vetoes, VetoSignal{
			Type:   rule.Type,
			Rule:   rule.Name,
			Reason: "disallowed request pattern",
			Count:  len(matches),
		})
		if blocking == nil {
			blocking = &g.policy.Rules[i]
		}
	}

	decision := Decision{
		Action:     ActionAllow,
		Indicators: indicators(vetoes),
		Vetoes:     vetoes,
	}
	if piiFound {
		decision.RedactedText = redacted
	}

	switch {
	case blocking != nil:
		decision.Action = ActionBlock
		decision.Rationale = blocking.Rationale
	case piiFound:
		decision.Action = ActionSanitize
		decision.Rationale = "personal data was removed before processing"
	}
	return decision
}

// Redact applies only the PII rules to s and returns the placeholder version.
// It is used for submission fields the gate does not decide on, such as the
// code snapshot.
func (g *Gate) Redact(s string) string {
	for _, rule := range g.policy.Rules {
		if rule.Redacts() {
			s = rule.Pattern.ReplaceAllLiteralString(s, rule.Placeholder)
		}
	}
	return s
}

// #endregion gate

// #region helpers
// indicators flattens veto signals into "type:rule" strings for auditing.
func indicators(vetoes []VetoSignal) []string {
	if len(vetoes) == 0 {
		return nil
	}
	out := make([]string, 0, len(vetoes))
	for _, v := range vetoes {
		out = append(out, string(v.Type)+":"+v.Rule)
	}
	return out
}

// CountViolations returns how many disallowed (non-PII) vetoes a decision carries.
func CountViolations(d Decision) int {
	n := 0
	for _, v := range d.Vetoes {
		if v.Type != VetoPII {
			n++
		}
	}
	return n
}

// HasIndicator reports whether the decision carries an indicator with the prefix.
func HasIndicator(d Decision, prefix string) bool {
	for _, ind := range d.Indicators {
		if strings.HasPrefix(ind, prefix) {
			return true
		}
	}
	return false
}

// #endregion helpers
