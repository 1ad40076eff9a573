package hint

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// Canned follow-up questions, appended when generated text does not end in one.
var followUps = [MaxLevel]string{
	"What do you already know about the input, and what must be true of the output?",
	"Which of these concepts do you think applies first, and why?",
	"Which of these steps can you write on your own right now?",
	"Which part of this strategy would you test first, and with what input?",
}

// FollowUpFor returns the canned follow-up question for level.
func FollowUpFor(level int) string {
	return followUps[RungFor(level).Level-1]
}

// Template renders the deterministic hint served when generation fails or
// keeps violating the level rules.
func Template(level int, ex state.ExerciseContext) string {
	subject := "this exercise"
	if ex.Title != "" {
		subject = fmt.Sprintf("%q", ex.Title)
	}
	concepts := "the concepts from this unit"
	if len(ex.ExpectedConcepts) > 0 {
		concepts = strings.Join(ex.ExpectedConcepts, ", ")
	}

	var body string
	switch RungFor(level).Level {
	case 1:
		body = fmt.Sprintf("Read %s again slowly. What is being asked? "+
			"Can you solve a tiny example by hand before writing any code?", subject)
	case 2:
		body = fmt.Sprintf("For %s, review these concepts: %s. "+
			"Think about what each one contributes to a solution.", subject, concepts)
	case 3:
		body = fmt.Sprintf("Split %s into steps: 1) understand and validate the input, "+
			"2) process it using %s, 3) build and return the result. "+
			"Start with step 1 in pseudocode and check it on a small case.", subject, concepts)
	default:
		body = fmt.Sprintf("Strategy for %s: handle the simplest cases first, "+
			"then describe in pseudocode how %s carry you from one case to the next, "+
			"and finally decide how the result is assembled. Fill in each part yourself "+
			"and test it before moving on.", subject, concepts)
	}
	return body + "\n\n" + FollowUpFor(level)
}

// withFollowUp splits text into content and follow-up question. When the text
// does not end in a question the level's canned follow-up is appended.
func withFollowUp(level int, text string) (content, followUp string) {
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "?") {
		return text, lastQuestion(text)
	}
	followUp = FollowUpFor(level)
	return text + "\n\n" + followUp, followUp
}

// lastQuestion returns the trailing sentence of text, which ends with "?".
func lastQuestion(text string) string {
	body := strings.TrimSuffix(text, "?")
	cut := strings.LastIndexAny(body, ".!?\n")
	return strings.TrimSpace(text[cut+1:])
}
