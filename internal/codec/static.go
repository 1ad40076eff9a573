package codec

import (
	"context"
	"fmt"
	"strings"
)

// #region static
// StaticGenerator answers locally with a Socratic template. It backs offline
// runs and the `submit` command when no provider is configured.
type StaticGenerator struct{}

// NewStaticGenerator creates a StaticGenerator.
func NewStaticGenerator() *StaticGenerator { return &StaticGenerator{} }

// Generate echoes the first line of the prompt back as a guiding question.
func (g *StaticGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, wrapError(g.Name(), err)
	}
	topic := strings.TrimSpace(strings.SplitN(req.Prompt, "\n", 2)[0])
	if len(topic) > 80 {
		topic = topic[:80] + "..."
	}
	text := fmt.Sprintf("Let's reason about it step by step. You wrote: %q. "+
		"What do you expect the program to do for the smallest possible input?", topic)
	return Response{Text: text, Model: g.Model(), FinishReason: "stop"}, nil
}

// Name returns the provider name.
func (g *StaticGenerator) Name() string { return "static" }

// Model returns the model id.
func (g *StaticGenerator) Model() string { return "static-socratic" }

// #endregion static
