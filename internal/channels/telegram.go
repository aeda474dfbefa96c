package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
)

const (
	TelegramName         = "telegram"
	DefaultTelegramURL   = "https://api.telegram.org"
	DefaultTelegramPoll  = 10 * time.Second
	TelegramMessageLimit = 4000
)

// TelegramOptions configures the bot adapter.
type TelegramOptions struct {
	Token string
	// AllowedChats lists the chat or user ids the bot answers. Empty allows all.
	AllowedChats []int64
	PollTimeout  time.Duration
	BaseURL      string
	Client       *http.Client
}

// Telegram long-polls the Bot API getUpdates method. The cursor is the next
// update offset.
type Telegram struct {
	opts TelegramOptions
}

// NewTelegram returns a Telegram adapter.
func NewTelegram(opts TelegramOptions) *Telegram {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultTelegramPoll
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultTelegramURL
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.PollTimeout + 5*time.Second}
	}
	return &Telegram{opts: opts}
}

func (t *Telegram) Name() string { return TelegramName }

type tgResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	Text string `json:"text"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	} `json:"from"`
}

func (t *Telegram) endpoint(method string) string {
	return t.opts.BaseURL + "/bot" + t.opts.Token + "/" + method
}

func (t *Telegram) call(req *http.Request, out any) error {
	resp, err := t.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var r tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("decode %s: %w", resp.Status, err)
	}
	if !r.OK {
		return fmt.Errorf("telegram: %s (%s)", r.Description, resp.Status)
	}
	if out != nil {
		return json.Unmarshal(r.Result, out)
	}
	return nil
}

// Poll fetches updates after cursor. Messages from chats outside the
// whitelist are acknowledged and dropped.
func (t *Telegram) Poll(ctx context.Context, cursor string) ([]inbox.Envelope, string, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(int(t.opts.PollTimeout.Seconds())))
	if cursor != "" {
		q.Set("offset", cursor)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, cursor, err
	}
	var updates []tgUpdate
	if err := t.call(req, &updates); err != nil {
		return nil, cursor, err
	}

	var envs []inbox.Envelope
	next := cursor
	for _, u := range updates {
		next = strconv.FormatInt(u.UpdateID+1, 10)
		m := u.Message
		if m == nil || m.Text == "" {
			continue
		}
		if !t.allowed(m.Chat.ID, m.From.ID) {
			logging.For("channels").Warn("telegram message from unlisted chat", "chat", m.Chat.ID, "user", m.From.ID)
			continue
		}
		name := m.From.Username
		if name == "" {
			name = m.From.FirstName
		}
		if name == "" {
			name = strconv.FormatInt(m.From.ID, 10)
		}
		envs = append(envs, inbox.NewEnvelope(
			TelegramName,
			fmt.Sprintf("[Telegram from @%s]: %s", name, m.Text),
			inbox.Address{Channel: TelegramName, Target: strconv.FormatInt(m.Chat.ID, 10)},
		))
	}
	return envs, next, nil
}

func (t *Telegram) allowed(chat, user int64) bool {
	if len(t.opts.AllowedChats) == 0 {
		return true
	}
	return slices.Contains(t.opts.AllowedChats, chat) || slices.Contains(t.opts.AllowedChats, user)
}

// Send posts text to the chat in to.Target, split into messages of at most
// TelegramMessageLimit runes.
func (t *Telegram) Send(ctx context.Context, to inbox.Address, text string) error {
	chatID, err := strconv.ParseInt(to.Target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", to.Target, err)
	}
	for _, part := range chunk(text, TelegramMessageLimit) {
		body, err := json.Marshal(map[string]any{"chat_id": chatID, "text": part})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := t.call(req, nil); err != nil {
			return err
		}
	}
	return nil
}

// chunk splits s into pieces of at most n runes. An empty s yields one empty
// piece.
func chunk(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var parts []string
	for len(r) > 0 {
		k := min(n, len(r))
		parts = append(parts, string(r[:k]))
		r = r[k:]
	}
	return parts
}
