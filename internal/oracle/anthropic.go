package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 4096

// AnthropicProvider implements the Anthropic Messages API
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, model string, timeout time.Duration) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithRequestTimeout(timeout),
		),
		model: model,
	}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Complete sends one Messages request.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	system, turns := splitSystem(req.System, req.Messages)
	turns = mergeAdjacent(turns)
	// The API requires the conversation to open with a user turn.
	if len(turns) > 0 && turns[0].Role != "user" {
		turns = append([]Message{{Role: "user", Content: "(conversation resumed)"}}, turns...)
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &Error{Provider: "anthropic", Err: err}
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, &Error{Provider: "anthropic", Err: fmt.Errorf("model %s: %w", model, ErrEmptyResponse)}
	}

	return &Response{
		Content: b.String(),
		Model:   model,
		Usage: Usage{
			TokensIn:  int(msg.Usage.InputTokens),
			TokensOut: int(msg.Usage.OutputTokens),
		},
	}, nil
}
