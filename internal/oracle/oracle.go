// Package oracle calls the language model that produces directives.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Message is one conversation turn sent to the model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is one round-trip.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
	// Purpose tags usage accounting ("turn", "summary", "pipe").
	Purpose string
}

// Usage reports what a call consumed.
type Usage struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	Cost      float64 `json:"cost"`
}

// Response is the model's reply.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Oracle produces a reply for a conversation.
type Oracle interface {
	ID() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Error wraps a provider failure. All oracle failures surface as *Error.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response")

// splitSystem moves system turns out of msgs and joins them after system.
func splitSystem(system string, msgs []Message) (string, []Message) {
	parts := []string{}
	if system != "" {
		parts = append(parts, system)
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			parts = append(parts, m.Content)
			continue
		}
		out = append(out, m)
	}
	return strings.Join(parts, "\n\n"), out
}

// mergeAdjacent joins consecutive turns with the same role. Some providers
// require strictly alternating roles; the engine appends several user turns
// in a row (heard messages, then action results).
func mergeAdjacent(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
