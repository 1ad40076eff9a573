package invoker

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/cognitive-trace/internal/state"
)

// Role names the persona a generation is made for.
type Role string

const (
	RoleTutor      Role = "tutor"
	RoleHint       Role = "hint"
	RoleSimulator  Role = "simulator"
	RoleReflection Role = "reflection"
	RoleFeedback   Role = "feedback"
)

// RoleContext is everything the model needs besides the prompt: persona,
// exercise metadata and the content it must not produce. The pipeline treats
// exercise metadata as opaque and only forwards it here.
type RoleContext struct {
	Role           Role
	Mode           state.Mode
	Instructions   string
	Exercise       state.ExerciseContext
	HintLevel      int
	Forbidden      []string
	CognitiveState state.CognitiveState
}

// SystemPrompt renders the role context as a system message.
func (rc RoleContext) SystemPrompt() string {
	var b strings.Builder

	switch rc.Role {
	case RoleHint:
		fmt.Fprintf(&b, "You are a programming tutor giving a level %d hint on a 1-4 scale.\n", rc.HintLevel)
	case RoleSimulator:
		persona := rc.Exercise.Persona
		if persona == "" {
			persona = "a colleague in a professional scenario"
		}
		fmt.Fprintf(&b, "You are role-playing %s. Stay in character.\n", persona)
	case RoleReflection:
		b.WriteString("You are a tutor guiding the student to reflect on how they worked.\n")
	case RoleFeedback:
		b.WriteString("You are a tutor giving formative feedback on submitted work.\n")
	default:
		b.WriteString("You are a Socratic programming tutor. Guide with questions; never hand over solutions.\n")
	}

	if rc.Exercise.Title != "" {
		fmt.Fprintf(&b, "Exercise: %s\n", rc.Exercise.Title)
	}
	if len(rc.Exercise.Constraints) > 0 {
		fmt.Fprintf(&b, "Constraints: %s\n", strings.Join(rc.Exercise.Constraints, "; "))
	}
	if len(rc.Exercise.ExpectedConcepts) > 0 {
		fmt.Fprintf(&b, "Expected concepts: %s\n", strings.Join(rc.Exercise.ExpectedConcepts, ", "))
	}
	if rc.CognitiveState != "" {
		fmt.Fprintf(&b, "The student appears to be in the %s phase.\n", rc.CognitiveState)
	}
	if len(rc.Forbidden) > 0 {
		fmt.Fprintf(&b, "Never include: %s.\n", strings.Join(rc.Forbidden, ", "))
	}
	if rc.Instructions != "" {
		b.WriteString(rc.Instructions)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
