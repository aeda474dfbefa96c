package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint,
// including OpenRouter.
type OpenAIProvider struct {
	client openai.Client
	id     string
	model  string
}

// NewOpenAIProvider creates a provider for api.openai.com.
func NewOpenAIProvider(apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(timeout),
		),
		id:    "openai",
		model: model,
	}
}

// NewOpenRouterProvider creates a provider for OpenRouter. baseURL may be empty.
func NewOpenRouterProvider(apiKey, baseURL, model string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithRequestTimeout(timeout),
			option.WithHeader("X-Title", "ouro"),
		),
		id:    "openrouter",
		model: model,
	}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return p.id
}

// Complete sends one chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	system, turns := splitSystem(req.System, req.Messages)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, m := range turns {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		if p.id == "openrouter" {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		} else {
			params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &Error{Provider: p.id, Err: err}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &Error{Provider: p.id, Err: fmt.Errorf("model %s: %w", model, ErrEmptyResponse)}
	}

	return &Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: Usage{
			TokensIn:  int(resp.Usage.PromptTokens),
			TokensOut: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
