package codec

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// #region openai
// OpenAIGenerator generates through the Chat Completions API. BaseURL lets it
// target any OpenAI-compatible endpoint.
type OpenAIGenerator struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAIGenerator creates a generator from cfg.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries belong to the invoker
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &OpenAIGenerator{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Generate sends the system role context and prompt as one chat turn.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.maxTokens
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               g.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature >= 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, wrapError(g.Name(), err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Response{}, &ProviderError{Provider: g.Name(), Kind: KindEmpty, Err: errors.New("no content in response")}
	}

	choice := resp.Choices[0]
	return Response{
		Text:         choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// Name returns the provider name.
func (g *OpenAIGenerator) Name() string { return "openai" }

// Model returns the configured model id.
func (g *OpenAIGenerator) Model() string { return g.model }

// #endregion openai
