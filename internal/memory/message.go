// Package memory keeps the working conversation bounded. Messages that leave
// the working history are archived, mined for salient lines, and replaced by
// a summary.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/fsutil"
	"github.com/neboloop/ouro/internal/oracle"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SummaryPrefix opens every compaction summary message.
const SummaryPrefix = "[CONVERSATION SUMMARY - "

// Message is one entry of the conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// IsSummary reports whether m was produced by compaction.
func (m Message) IsSummary() bool {
	return m.Role == RoleUser && strings.HasPrefix(m.Content, SummaryPrefix)
}

// NonSystem counts the messages that are not system prompts.
func NonSystem(history []Message) int {
	n := 0
	for _, m := range history {
		if m.Role != RoleSystem {
			n++
		}
	}
	return n
}

// ToOracle converts history into oracle turns.
func ToOracle(history []Message) []oracle.Message {
	out := make([]oracle.Message, len(history))
	for i, m := range history {
		out[i] = oracle.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// conversationFile is the on-disk shape of the working history.
type conversationFile struct {
	Messages []Message `json:"messages"`
	SavedAt  time.Time `json:"saved_at"`
}

// LoadConversation reads the persisted history. A missing file yields nil.
func LoadConversation(path string) ([]Message, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var f conversationFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f.Messages, nil
}

// writeConversation persists history with at most hardCap non-system
// messages. The newest messages win; a leading summary survives the cut.
func writeConversation(path string, history []Message, hardCap int, now time.Time) error {
	data, err := json.MarshalIndent(conversationFile{
		Messages: capHistory(history, hardCap),
		SavedAt:  now,
	}, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0644)
}

func capHistory(history []Message, hardCap int) []Message {
	if hardCap <= 0 || NonSystem(history) <= hardCap {
		return history
	}

	var system, rest []Message
	for _, m := range history {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	out := append([]Message(nil), system...)
	if rest[0].IsSummary() && hardCap > 1 {
		out = append(out, rest[0])
		return append(out, rest[len(rest)-(hardCap-1):]...)
	}
	return append(out, rest[len(rest)-hardCap:]...)
}
