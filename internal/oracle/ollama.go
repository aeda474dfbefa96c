package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider runs against a local Ollama server.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates a provider for the Ollama server at baseURL.
func NewOllamaProvider(baseURL, model string, timeout time.Duration) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	return &OllamaProvider{
		client: api.NewClient(parsedURL, &http.Client{Timeout: timeout}),
		model:  model,
	}, nil
}

// ID returns the provider identifier
func (p *OllamaProvider) ID() string {
	return "ollama"
}

// Complete sends one non-streaming chat request.
func (p *OllamaProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	system, turns := splitSystem(req.System, req.Messages)
	messages := make([]api.Message, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}
	for _, m := range turns {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
	}
	if req.MaxTokens > 0 {
		chatReq.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var (
		content strings.Builder
		usage   Usage
	)
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			usage.TokensIn = resp.PromptEvalCount
			usage.TokensOut = resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, &Error{Provider: "ollama", Err: err}
	}
	if content.Len() == 0 {
		return nil, &Error{Provider: "ollama", Err: fmt.Errorf("model %s: %w", model, ErrEmptyResponse)}
	}

	return &Response{Content: content.String(), Model: model, Usage: usage}, nil
}
