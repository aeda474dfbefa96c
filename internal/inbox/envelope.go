// Package inbox holds the normalized inbound events every channel produces
// and the single FIFO the engine consumes them from.
package inbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Address identifies where a reply goes: the channel and a channel-specific target
// (a chat id, a websocket client, "" for the console).
type Address struct {
	Channel string `json:"channel"`
	Target  string `json:"target,omitempty"`
}

func (a Address) String() string {
	if a.Target == "" {
		return a.Channel
	}
	return a.Channel + ":" + a.Target
}

// IsZero reports whether the address points nowhere.
func (a Address) IsZero() bool {
	return a.Channel == ""
}

// Envelope is an inbound event. It is immutable once created and consumed once.
type Envelope struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Text       string    `json:"text"`
	ReplyTo    Address   `json:"reply_to"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewEnvelope stamps a new envelope from source.
func NewEnvelope(source, text string, replyTo Address) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Source:     source,
		Text:       text,
		ReplyTo:    replyTo,
		EnqueuedAt: time.Now(),
	}
}

// Age is how long ago the envelope was enqueued, relative to now.
func (e Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}

// Humanize renders a duration the way the agent reads it: "just now", "5m ago".
func Humanize(d time.Duration) string {
	switch {
	case d < 10*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
