package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/inbox"
)

const (
	MentionsName            = "twitter"
	DefaultMentionsInterval = 60 * time.Second
)

// MentionsOptions configures the social-feed adapter. The endpoints follow
// the Twitter v2 shapes: a mentions timeline with since_id paging and a tweet
// create call for replies.
type MentionsOptions struct {
	URL      string
	ReplyURL string
	Token    string
	// IgnoreAuthors are recorded as seen but never queued.
	IgnoreAuthors []string
	Client        *http.Client
}

// Mentions polls a mentions timeline. The cursor is the newest mention id
// seen; the first poll only records what is there so old mentions are not
// replayed.
type Mentions struct {
	opts   MentionsOptions
	seen   map[string]bool
	primed bool
}

// NewMentions returns a mentions adapter.
func NewMentions(opts MentionsOptions) *Mentions {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Mentions{opts: opts, seen: make(map[string]bool)}
}

func (m *Mentions) Name() string { return MentionsName }

type mentionsPage struct {
	Data []struct {
		ID       string `json:"id"`
		Text     string `json:"text"`
		AuthorID string `json:"author_id"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID string `json:"newest_id"`
	} `json:"meta"`
}

func (m *Mentions) do(req *http.Request, out any) error {
	if m.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	resp, err := m.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mentions: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Poll fetches mentions newer than cursor, oldest first.
func (m *Mentions) Poll(ctx context.Context, cursor string) ([]inbox.Envelope, string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return nil, cursor, err
	}
	q := u.Query()
	q.Set("expansions", "author_id")
	if cursor != "" {
		q.Set("since_id", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, cursor, err
	}
	var page mentionsPage
	if err := m.do(req, &page); err != nil {
		return nil, cursor, err
	}

	next := cursor
	if page.Meta.NewestID != "" {
		next = page.Meta.NewestID
	}
	users := make(map[string]string, len(page.Includes.Users))
	for _, usr := range page.Includes.Users {
		users[usr.ID] = usr.Username
	}

	priming := !m.primed && cursor == ""
	m.primed = true
	var envs []inbox.Envelope
	// The timeline is newest first.
	for i := len(page.Data) - 1; i >= 0; i-- {
		d := page.Data[i]
		if d.ID == "" || m.seen[d.ID] {
			continue
		}
		m.seen[d.ID] = true
		if priming {
			continue
		}
		author := users[d.AuthorID]
		if author == "" {
			author = "unknown"
		}
		if m.ignored(author) {
			continue
		}
		envs = append(envs, inbox.NewEnvelope(
			MentionsName,
			fmt.Sprintf("[Twitter mention from @%s]: %s", author, d.Text),
			inbox.Address{Channel: MentionsName, Target: d.ID},
		))
	}
	return envs, next, nil
}

func (m *Mentions) ignored(author string) bool {
	for _, a := range m.opts.IgnoreAuthors {
		if strings.EqualFold(a, author) {
			return true
		}
	}
	return false
}

// Send replies to the mention whose id is to.Target.
func (m *Mentions) Send(ctx context.Context, to inbox.Address, text string) error {
	if m.opts.ReplyURL == "" {
		return fmt.Errorf("mentions: no reply url configured")
	}
	payload := map[string]any{"text": text}
	if to.Target != "" {
		payload["reply"] = map[string]string{"in_reply_to_tweet_id": to.Target}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.ReplyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return m.do(req, nil)
}
