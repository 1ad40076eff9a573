package signals

import "regexp"

// #region request-patterns

var directAnswerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(give|tell|show)\s+me\s+the\s+(answer|solution|result)`),
	regexp.MustCompile(`(?i)\bwhat('s|\s+is)\s+the\s+(answer|solution)\b`),
	regexp.MustCompile(`(?i)\bjust\s+(tell|give|show)\s+me\b`),
	regexp.MustCompile(`(?i)\b(write|fix|solve)\s+(the|my|this)\s+(code|function|exercise|program)\s+for\s+me`),
	regexp.MustCompile(`(?i)\b(dame|dime|pásame|pasame)\s+(la\s+)?(respuesta|solución|solucion)`),
	regexp.MustCompile(`(?i)\b(escribe|arregla|resuelve)(me)?\s+(el|este|mi)\s+(código|codigo|ejercicio|programa)`),
}

var fullCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(full|complete|whole|entire|working)\s+(code|program|solution|implementation)`),
	regexp.MustCompile(`(?i)\b(código|codigo|programa|solución|solucion)\s+(completo|completa|entero|entera)`),
}

// #endregion

// #region reasoning-patterns

var justificationPattern = regexp.MustCompile(`(?i)\b(because|since|so\s+that|therefore|i\s+think|my\s+reasoning|the\s+reason|porque|ya\s+que|debido\s+a|por\s+lo\s+tanto|creo\s+que|mi\s+razonamiento)\b`)

var challengePattern = regexp.MustCompile(`(?i)(\bare\s+you\s+sure\b|\bis\s+that\s+(right|correct)\b|\bthat('s|\s+is)\s+(wrong|incorrect)\b|\bi\s+disagree\b|\bwhy\s+(does|do|is|would|should)\b|\bpor\s+qué|\bestás\s+seguro\b|\bestas\s+seguro\b|\bno\s+estoy\s+de\s+acuerdo\b|\beso\s+(está|esta)\s+mal\b)`)

// claimPatterns capture "<subject> is [not] <object>" statements in English
// and Spanish so contradicting claims across submissions can be detected.
var claimPatternEN = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\s+(?:is|are)\s+(not\s+)?(?:a\s+|an\s+)?([a-z_][a-z0-9_]*)`)
var claimPatternES = regexp.MustCompile(`(?i)\b([a-záéíóúñ_][a-z0-9áéíóúñ_]*)\s+(no\s+)?(?:es|son)\s+(?:un\s+|una\s+)?([a-záéíóúñ_][a-z0-9áéíóúñ_]*)`)

// claimStopwords are subjects too generic to carry a claim.
var claimStopwords = map[string]bool{
	"it": true, "this": true, "that": true, "there": true, "what": true, "which": true,
	"here": true, "who": true, "esto": true, "eso": true, "que": true, "qué": true,
	"lo": true, "la": true, "el": true, "not": true, "no": true,
}

// misconceptionMarkers are known conceptual errors in introductory programming.
var misconceptionMarkers = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"immutable_lists", regexp.MustCompile(`(?i)\blists?\s+(are|is)\s+immutable\b|\blas\s+listas\s+son\s+inmutables\b`)},
	{"mutable_strings", regexp.MustCompile(`(?i)\bstrings?\s+(are|is)\s+mutable\b|\blos\s+strings\s+son\s+mutables\b`)},
	{"mutable_tuples", regexp.MustCompile(`(?i)\btuples?\s+(are|is)\s+mutable\b|\blas\s+tuplas\s+son\s+mutables\b`)},
	{"index_starts_at_one", regexp.MustCompile(`(?i)\b(index(es)?|indices)\s+(start|begin)s?\s+at\s+1\b|índices\s+empiezan\s+en\s+1\b`)},
	{"assignment_is_equality", regexp.MustCompile(`(?i)(^|\s)=\s+(compares|checks|tests)\b`)},
	{"return_prints", regexp.MustCompile(`(?i)\breturn\s+(prints|shows|displays)\b|\breturn\s+imprime\b`)},
}

// #endregion

// #region insecure-code

// insecurePatterns flag code constructs with known security problems.
var insecurePatterns = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"eval", regexp.MustCompile(`\beval\s*\(`)},
	{"exec", regexp.MustCompile(`\bexec\s*\(`)},
	{"os_system", regexp.MustCompile(`\bos\.system\s*\(`)},
	{"shell_true", regexp.MustCompile(`shell\s*=\s*True`)},
	{"pickle_loads", regexp.MustCompile(`\bpickle\.loads?\s*\(`)},
	{"yaml_unsafe_load", regexp.MustCompile(`\byaml\.load\s*\(\s*[A-Za-z_][\w.]*\s*\)`)},
	{"sql_concatenation", regexp.MustCompile(`(?i)(select|insert|update|delete)\s[^"'\n]*["']\s*(\+|%|\.format\()`)},
	{"sql_fstring", regexp.MustCompile(`(?i)f["'](select|insert|update|delete)\s[^"'\n]*\{`)},
	{"hardcoded_secret", regexp.MustCompile(`(?i)\b(password|passwd|secret|api_key|token)\s*=\s*["'][^"']+["']`)},
	{"weak_hash", regexp.MustCompile(`\b(md5|sha1)\s*\(`)},
}

// #endregion

// #region code-blocks

var fencedBlockPattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\n(.*?)```")

// #endregion
