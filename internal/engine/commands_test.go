package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/ouro/internal/db"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/memory"
	"github.com/neboloop/ouro/internal/state"
)

func TestCommandDetection(t *testing.T) {
	tests := []struct {
		env  inbox.Envelope
		want string
		ok   bool
	}{
		{inbox.NewEnvelope("console", "  /status ", console), "/status", true},
		{inbox.NewEnvelope("telegram", "[Telegram from @ann]: /wake", inbox.Address{Channel: "telegram"}), "/wake", true},
		{inbox.NewEnvelope("webhook", "[Webhook from ci]: /stats", inbox.Address{Channel: "webhook"}), "/stats", true},
		{inbox.NewEnvelope("reminder", "[Reminder due]: /quit (ID: r1)", inbox.Address{}), "", false},
		{inbox.NewEnvelope("console", "/", console), "", false},
		{inbox.NewEnvelope("console", "use /tmp please", console), "", false},
	}
	for _, tt := range tests {
		got, ok := command(tt.env)
		assert.Equal(t, tt.ok, ok, tt.env.Text)
		assert.Equal(t, tt.want, got, tt.env.Text)
	}
}

func TestSlashCommands(t *testing.T) {
	f := newFixture(t, "unused")
	ctx := context.Background()

	steps := []struct {
		text string
		want string
	}{
		{"/tick 30", "Tick interval: 30s"},
		{"/tick soon", "Usage: /tick <seconds> (current: 30s)"},
		{"/mode focused", "Mode: focused"},
		{"/mode dreaming", "Unknown mode: dreaming (listening, focused, sleeping, autonomous)"},
		{"/task write the docs", "Task: write the docs"},
		{"/mode", "Mode: focused | Task: write the docs"},
		{"/status", "Mode: focused | Tick: 30s | Sleep cycle: 30m | Task: write the docs"},
		{"/sleepcycle 0", "Usage: /sleepcycle <minutes> (minimum 1)"},
		{"/sleepcycle 5", "Sleep cycle: 5 minutes"},
		{"/sleep", "Sleeping 5 minutes (use /sleepcycle to change)"},
		{"/wake", "Awake!"},
		{"/backups", "no guarded file configured"},
		{"/bogus", "Unknown command: /bogus (try /help)"},
		{"/help", helpText},
	}
	for _, s := range steps {
		f.out.sent = nil
		require.NoError(t, f.engine.handle(ctx, inbox.NewEnvelope("console", s.text, console)), s.text)
		assert.Equal(t, []string{"console " + s.want}, f.out.sent, s.text)
	}
	assert.Empty(t, f.oracle.reqs, "commands never reach the oracle")

	st := f.engine.State()
	assert.Equal(t, state.Listening, st.Mode)
	assert.Nil(t, st.SleepUntil)
	assert.Equal(t, 30, st.TickInterval)
	assert.Equal(t, 5, st.SleepCycleMinutes)

	persisted, err := f.engine.opts.State.Load()
	require.NoError(t, err)
	assert.Equal(t, st, persisted)

	f.out.sent = nil
	tg := inbox.Address{Channel: "telegram", Target: "7"}
	err = f.engine.handle(ctx, inbox.NewEnvelope("telegram", "[Telegram from @ann]: /quit", tg))
	assert.ErrorIs(t, err, errQuit)
	assert.Equal(t, []string{"telegram:7 Goodbye."}, f.out.sent)
}

func TestSleepCommandSetsDeadline(t *testing.T) {
	f := newFixture(t, "unused")
	require.NoError(t, f.engine.handle(context.Background(), inbox.NewEnvelope("console", "/sleep 2", console)))

	st := f.engine.State()
	assert.Equal(t, state.Sleeping, st.Mode)
	require.NotNil(t, st.SleepUntil)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), *st.SleepUntil, 10*time.Second)
	assert.True(t, strings.Contains(f.engine.status(), "Sleeping until"))
}

func TestClearResetsConversation(t *testing.T) {
	f := newFixture(t, "TALK_TO_USER\nhello")
	path := filepath.Join(t.TempDir(), "conversation.json")
	f.engine.opts.Memory = memory.NewManager(memory.Options{ConversationFile: path})
	ctx := context.Background()

	require.NoError(t, f.engine.handle(ctx, inbox.NewEnvelope("console", "hi", console)))
	require.Len(t, f.engine.History(), 3)

	require.NoError(t, f.engine.handle(ctx, inbox.NewEnvelope("console", "/clear", console)))
	assert.Len(t, f.engine.History(), 1)
	stored, err := memory.LoadConversation(path)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestStartConsumesStartupIntent(t *testing.T) {
	f := newFixture(t, "TALK_TO_USER\nchecking the logs")
	dir := t.TempDir()
	conn, err := db.Open(filepath.Join(dir, "ouro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := memory.NewStore(conn)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, startupIntentKey, "check the logs"))

	f.engine.opts.Store = store
	f.engine.opts.UsageDB = conn
	f.engine.opts.Memory = memory.NewManager(memory.Options{ConversationFile: filepath.Join(dir, "conversation.json")})
	f.engine.opts.HeartbeatFile = filepath.Join(dir, "run", "heartbeat")
	f.engine.opts.Autonomous = true

	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, state.Autonomous, f.engine.State().Mode)
	f.queue.Push(inbox.NewEnvelope("console", "/quit", console))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Serve(ctx))

	require.Len(t, f.oracle.reqs, 1)
	assert.Equal(t, "[STARTUP INTENT]: check the logs", f.oracle.lastPrompt(0).Content)
	assert.Equal(t, []string{" checking the logs", "console Goodbye."}, f.out.sent)

	_, err = store.Get(ctx, startupIntentKey)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = os.Stat(f.engine.opts.HeartbeatFile)
	assert.NoError(t, err)

	stored, err := memory.LoadConversation(filepath.Join(dir, "conversation.json"))
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	assert.Contains(t, f.engine.stats(ctx), "memories")
	assert.Contains(t, f.engine.Status(ctx), "| Mode | **autonomous** |")
}
