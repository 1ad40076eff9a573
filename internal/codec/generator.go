package codec

import (
	"context"
	"fmt"
	"strings"
)

// #region types
// Request is one provider-neutral generation call.
type Request struct {
	System      string  // role context: tutor persona, level semantics, forbidden content
	Prompt      string  // the (redacted) student-facing prompt
	MaxTokens   int     // 0 selects the generator's default
	Temperature float64 // negative leaves the provider default
}

// Response is the provider-neutral generation result.
type Response struct {
	Text         string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Generator is the uniform request/response contract every provider satisfies.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
	Model() string
}

// #endregion types

// #region generator-func
// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc struct {
	Provider string
	ModelID  string
	Fn       func(ctx context.Context, req Request) (Response, error)
}

// Generate calls Fn.
func (g GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return g.Fn(ctx, req)
}

// Name returns the provider name.
func (g GeneratorFunc) Name() string { return g.Provider }

// Model returns the model id.
func (g GeneratorFunc) Model() string { return g.ModelID }

// #endregion generator-func

// #region config
// Config selects and configures a provider.
type Config struct {
	Kind      string // openai | anthropic | grpc | static
	Model     string
	APIKey    string
	BaseURL   string
	GRPCAddr  string
	MaxTokens int
}

// New builds the generator named by cfg.Kind.
func New(cfg Config) (Generator, error) {
	switch strings.ToLower(cfg.Kind) {
	case "openai":
		return NewOpenAIGenerator(cfg)
	case "anthropic":
		return NewAnthropicGenerator(cfg)
	case "grpc":
		return NewCodecClient(cfg.GRPCAddr, cfg.Model)
	case "", "static":
		return NewStaticGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// #endregion config
