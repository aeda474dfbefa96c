package memory

import (
	"context"
	"time"

	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/metrics"
)

// Options configures a Manager.
type Options struct {
	Threshold        int // compaction triggers above this many non-system messages
	Batch            int // oldest messages folded into one summary per compaction
	HardCap          int // non-system messages kept in the conversation file
	ConversationFile string
	Archive          *Archive
	Store            *Store // nil disables salience extraction
	Summarizer       Summarizer
	Extract          bool
}

// Manager persists and compacts the conversation history. It is used only
// from the engine goroutine.
type Manager struct {
	opts Options
	now  func() time.Time
}

// NewManager returns a Manager. Zero sizes fall back to 200/50/150.
func NewManager(opts Options) *Manager {
	if opts.Threshold <= 0 {
		opts.Threshold = 200
	}
	if opts.Batch <= 0 || opts.Batch >= opts.Threshold {
		opts.Batch = min(50, opts.Threshold-1)
	}
	// A batch of one would replace one message with one summary forever.
	opts.Batch = max(opts.Batch, 2)
	if opts.HardCap <= 0 {
		opts.HardCap = 150
	}
	return &Manager{opts: opts, now: time.Now}
}

// Load reads the persisted history and makes system the first message,
// replacing any stored system prompt.
func (m *Manager) Load(system string) ([]Message, error) {
	stored, err := LoadConversation(m.opts.ConversationFile)
	if err != nil {
		return []Message{{Role: RoleSystem, Content: system}}, err
	}
	history := []Message{{Role: RoleSystem, Content: system}}
	for _, msg := range stored {
		if msg.Role != RoleSystem {
			history = append(history, msg)
		}
	}
	return history, nil
}

// Save persists history, compacting it first when it holds more than the
// threshold of non-system messages. Below the threshold history is returned
// unchanged.
func (m *Manager) Save(ctx context.Context, history []Message) []Message {
	for NonSystem(history) > m.opts.Threshold {
		history = m.compact(ctx, history)
	}
	if err := writeConversation(m.opts.ConversationFile, history, m.opts.HardCap, m.now()); err != nil {
		logging.For("memory").Error("failed to persist conversation", "error", err)
	}
	return history
}

// Reset persists a history holding only its system prompt.
func (m *Manager) Reset(history []Message) []Message {
	var out []Message
	if len(history) > 0 && history[0].Role == RoleSystem {
		out = append(out, history[0])
	}
	if err := writeConversation(m.opts.ConversationFile, out, m.opts.HardCap, m.now()); err != nil {
		logging.For("memory").Error("failed to persist conversation", "error", err)
	}
	return out
}

// compact folds the oldest batch of non-system messages into one summary:
// [system] + [summary] + [messages after the batch].
func (m *Manager) compact(ctx context.Context, history []Message) []Message {
	log := logging.For("memory")

	var head []Message
	body := history
	if len(history) > 0 && history[0].Role == RoleSystem {
		head, body = history[:1], history[1:]
	}
	n := min(m.opts.Batch, len(body))
	batch, kept := body[:n], body[n:]

	if m.opts.Archive != nil {
		if _, err := m.opts.Archive.Append(batch, m.now()); err != nil {
			log.Warn("archive append failed", "error", err)
		}
	}

	if m.opts.Extract && m.opts.Store != nil {
		if saved := SaveExtracts(ctx, m.opts.Store, ExtractSalient(batch)); saved > 0 {
			log.Debug("saved extracts", "count", saved)
		}
	}

	var text string
	if m.opts.Summarizer == nil {
		text = failedSummary(n, errNoSummarizer)
	} else if s, err := m.opts.Summarizer.Summarize(ctx, batch); err != nil {
		log.Warn("summarization failed", "error", err, "messages", n)
		text = failedSummary(n, err)
	} else {
		text = s
	}

	out := make([]Message, 0, len(head)+1+len(kept))
	out = append(out, head...)
	out = append(out, Message{Role: RoleUser, Content: summaryMessage(n, text), Timestamp: m.now()})
	out = append(out, kept...)

	metrics.Compactions.Inc()
	log.Info("compacted history", "archived", n, "kept", len(kept))
	return out
}
