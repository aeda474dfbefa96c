package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSummarizer struct {
	calls int
	got   []Message
	err   error
}

func (f *fakeSummarizer) Summarize(_ context.Context, msgs []Message) (string, error) {
	f.calls++
	f.got = msgs
	if f.err != nil {
		return "", f.err
	}
	return "they talked about things", nil
}

func buildHistory(n int) []Message {
	h := []Message{{Role: RoleSystem, Content: "system prompt"}}
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		h = append(h, Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}
	return h
}

func newTestManager(t *testing.T, s Summarizer) (*Manager, *Archive, string) {
	t.Helper()
	dir := t.TempDir()
	archive := NewArchive(filepath.Join(dir, "message_archive.jsonl"))
	conv := filepath.Join(dir, "conversation.json")
	m := NewManager(Options{
		Threshold:        200,
		Batch:            50,
		HardCap:          150,
		ConversationFile: conv,
		Archive:          archive,
		Summarizer:       s,
	})
	return m, archive, conv
}

func TestSaveCompactsOldestBatch(t *testing.T) {
	sum := &fakeSummarizer{}
	m, archive, _ := newTestManager(t, sum)

	before := buildHistory(210)
	after := m.Save(context.Background(), before)

	assert.Equal(t, 161, NonSystem(after))
	assert.Equal(t, RoleSystem, after[0].Role)
	assert.True(t, after[1].IsSummary())
	assert.Contains(t, after[1].Content, "[CONVERSATION SUMMARY - 50 previous messages compressed]:\n")
	assert.Contains(t, after[1].Content, "they talked about things")
	assert.Equal(t, "message 50", after[2].Content)
	assert.Equal(t, "message 209", after[len(after)-1].Content)

	archived, err := archive.Count()
	require.NoError(t, err)
	assert.Equal(t, 50, archived)

	kept := len(after) - 2
	assert.Equal(t, len(before), archived+kept+1)

	require.Len(t, sum.got, 50)
	assert.Equal(t, "message 0", sum.got[0].Content)
}

func TestSaveBelowThresholdIsNoop(t *testing.T) {
	sum := &fakeSummarizer{}
	m, archive, conv := newTestManager(t, sum)

	before := buildHistory(200)
	after := m.Save(context.Background(), before)

	assert.Equal(t, before, after)
	assert.Zero(t, sum.calls)
	n, err := archive.Count()
	require.NoError(t, err)
	assert.Zero(t, n)

	// The file is capped even though the working history is not.
	stored, err := LoadConversation(conv)
	require.NoError(t, err)
	assert.Equal(t, 150, NonSystem(stored))
	assert.Equal(t, "message 199", stored[len(stored)-1].Content)
}

func TestSaveSummarizationFailureStillBounds(t *testing.T) {
	sum := &fakeSummarizer{err: errors.New("rate limited")}
	m, archive, _ := newTestManager(t, sum)

	after := m.Save(context.Background(), buildHistory(230))

	assert.Equal(t, 181, NonSystem(after))
	assert.Contains(t, after[1].Content, "[Previous 50 messages - summarization failed: rate limited]")
	n, err := archive.Count()
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestSaveRepeatsUntilUnderThreshold(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSummarizer{})

	after := m.Save(context.Background(), buildHistory(300))

	assert.LessOrEqual(t, NonSystem(after), 200)
	assert.True(t, after[1].IsSummary())
}

func TestPersistedFileKeepsSummary(t *testing.T) {
	m, _, conv := newTestManager(t, &fakeSummarizer{})
	m.Save(context.Background(), buildHistory(210))

	stored, err := LoadConversation(conv)
	require.NoError(t, err)
	assert.Equal(t, 150, NonSystem(stored))
	assert.True(t, stored[1].IsSummary())
	assert.Equal(t, "message 209", stored[len(stored)-1].Content)

	loaded, err := m.Load("fresh prompt")
	require.NoError(t, err)
	assert.Equal(t, "fresh prompt", loaded[0].Content)
	assert.Equal(t, 150, NonSystem(loaded))
}

func TestLoadMissingFile(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeSummarizer{})
	h, err := m.Load("sys")
	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: RoleSystem, Content: "sys"}}, h)
}

func TestReset(t *testing.T) {
	m, _, conv := newTestManager(t, &fakeSummarizer{})
	h := m.Reset(buildHistory(10))
	require.Len(t, h, 1)

	stored, err := LoadConversation(conv)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSummaryRequestTruncates(t *testing.T) {
	long := strings.Repeat("x", 800)
	req := SummaryRequest([]Message{{Role: RoleUser, Content: long}, {Role: RoleAssistant, Content: "ok"}})

	assert.Contains(t, req, "USER: "+strings.Repeat("x", 500)+"\n\nASSISTANT: ok")
	assert.NotContains(t, req, strings.Repeat("x", 501))
	assert.True(t, strings.HasPrefix(req, "Summarize this conversation segment concisely."))
}
