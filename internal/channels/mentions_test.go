package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/ouro/internal/inbox"
)

func TestMentionsPollAndReply(t *testing.T) {
	var sinceIDs []string
	var reply map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/mentions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		since := r.URL.Query().Get("since_id")
		sinceIDs = append(sinceIDs, since)
		if since == "" {
			fmt.Fprint(w, `{"data":[{"id":"10","text":"old","author_id":"u1"}],
				"includes":{"users":[{"id":"u1","username":"bob"}]},"meta":{"newest_id":"10"}}`)
			return
		}
		fmt.Fprint(w, `{"data":[
				{"id":"13","text":"newest","author_id":"u1"},
				{"id":"12","text":"from owner","author_id":"u2"},
				{"id":"11","text":"first","author_id":"u3"}],
			"includes":{"users":[{"id":"u1","username":"bob"},{"id":"u2","username":"Owner"}]},
			"meta":{"newest_id":"13"}}`)
	})
	mux.HandleFunc("/tweets", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reply))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"id":"99"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	m := NewMentions(MentionsOptions{
		URL:           srv.URL + "/mentions",
		ReplyURL:      srv.URL + "/tweets",
		Token:         "secret",
		IgnoreAuthors: []string{"owner"},
		Client:        srv.Client(),
	})
	ctx := context.Background()

	envs, cursor, err := m.Poll(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, envs, "first poll only primes")
	assert.Equal(t, "10", cursor)

	envs, cursor, err = m.Poll(ctx, cursor)
	require.NoError(t, err)
	assert.Equal(t, "13", cursor)
	require.Len(t, envs, 2)
	assert.Equal(t, "[Twitter mention from @unknown]: first", envs[0].Text)
	assert.Equal(t, "[Twitter mention from @bob]: newest", envs[1].Text)
	assert.Equal(t, inbox.Address{Channel: MentionsName, Target: "13"}, envs[1].ReplyTo)
	assert.Equal(t, MentionsName, envs[1].Source)

	// Already seen ids are not repeated.
	envs, _, err = m.Poll(ctx, cursor)
	require.NoError(t, err)
	assert.Empty(t, envs)
	assert.Equal(t, []string{"", "10", "13"}, sinceIDs)

	require.NoError(t, m.Send(ctx, inbox.Address{Channel: MentionsName, Target: "13"}, "thanks!"))
	assert.Equal(t, "thanks!", reply["text"])
	assert.Equal(t, map[string]any{"in_reply_to_tweet_id": "13"}, reply["reply"])
}

func TestMentionsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := NewMentions(MentionsOptions{URL: srv.URL, Client: srv.Client()})
	_, _, err := m.Poll(context.Background(), "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}
