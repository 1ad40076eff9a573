package invoker

// Canned replies returned when no provider answer is available. They are
// deterministic per role and never contain code.
var fallbackReplies = map[Role]string{
	RoleTutor: "I can't reach the tutoring model right now. While it comes back, " +
		"try describing in your own words what your code should do step by step. " +
		"Which step are you least sure about?",
	RoleHint: "Let's slow down and look at the problem again. " +
		"What is the input, what is the expected output, and which part of the " +
		"transformation between them is still unclear to you?",
	RoleSimulator: "Sorry, I need a moment before I can continue this conversation. " +
		"Meanwhile, what would you ask me next and why?",
	RoleReflection: "Take a minute to look back at this session. " +
		"What was the hardest decision you made, and what would you do differently next time?",
	RoleFeedback: "Automatic feedback is unavailable right now. " +
		"Check your solution against each stated constraint. Which one are you least confident about?",
}

// FallbackText returns the canned reply for role. Unknown roles get the tutor
// reply.
func FallbackText(role Role) string {
	if text, ok := fallbackReplies[role]; ok {
		return text
	}
	return fallbackReplies[RoleTutor]
}
