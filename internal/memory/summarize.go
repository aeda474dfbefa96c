package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neboloop/ouro/internal/oracle"
)

const summaryPrompt = `Summarize this conversation segment concisely. Focus on:
- Key decisions made
- Important information learned
- Tasks completed or in progress
- Any context that would be important for continuing the conversation

Conversation:
%s

Provide a concise summary (2-3 paragraphs max):`

var errNoSummarizer = errors.New("no summarizer configured")

// Summarizer condenses a batch of messages into one paragraph of text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []Message) (string, error)
}

// OracleSummarizer asks a (usually cheaper) model for the summary.
type OracleSummarizer struct {
	Oracle    oracle.Oracle
	Model     string
	MaxTokens int
}

// Summarize implements Summarizer.
func (s *OracleSummarizer) Summarize(ctx context.Context, msgs []Message) (string, error) {
	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	resp, err := s.Oracle.Complete(ctx, &oracle.Request{
		Model:     s.Model,
		Messages:  []oracle.Message{{Role: RoleUser, Content: SummaryRequest(msgs)}},
		MaxTokens: maxTokens,
		Purpose:   "summary",
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// SummaryRequest renders the summarization prompt. Each message is cut to
// 500 characters.
func SummaryRequest(msgs []Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := m.Content
		if len(content) > 500 {
			content = strings.ToValidUTF8(content[:500], "")
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(m.Role), content))
	}
	return fmt.Sprintf(summaryPrompt, strings.Join(parts, "\n\n"))
}

func summaryMessage(n int, text string) string {
	return fmt.Sprintf("%s%d previous messages compressed]:\n%s", SummaryPrefix, n, text)
}

func failedSummary(n int, err error) string {
	return fmt.Sprintf("[Previous %d messages - summarization failed: %v]", n, err)
}
