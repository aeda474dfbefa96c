package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/ouro/internal/actions"
	"github.com/neboloop/ouro/internal/directive"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/oracle"
	"github.com/neboloop/ouro/internal/state"
)

// scriptedOracle replays replies in order and repeats the last one.
type scriptedOracle struct {
	mu      sync.Mutex
	replies []string
	err     error
	reqs    []oracle.Request
}

func (o *scriptedOracle) ID() string { return "scripted" }

func (o *scriptedOracle) Complete(_ context.Context, req *oracle.Request) (*oracle.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := *req
	r.Messages = append([]oracle.Message(nil), req.Messages...)
	o.reqs = append(o.reqs, r)
	if o.err != nil {
		return nil, &oracle.Error{Provider: "scripted", Err: o.err}
	}
	reply := o.replies[0]
	if len(o.replies) > 1 {
		o.replies = o.replies[1:]
	}
	return &oracle.Response{Content: reply}, nil
}

func (o *scriptedOracle) lastPrompt(call int) oracle.Message {
	msgs := o.reqs[call].Messages
	return msgs[len(msgs)-1]
}

type sink struct {
	mu   sync.Mutex
	sent []string
}

func (s *sink) Reply(_ context.Context, to inbox.Address, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to.String()+" "+text)
	return nil
}

type fixture struct {
	engine *Engine
	oracle *scriptedOracle
	table  *actions.Table
	out    *sink
	queue  *inbox.Queue
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	f := &fixture{
		oracle: &scriptedOracle{replies: replies},
		out:    &sink{},
		queue:  inbox.NewQueue(),
	}
	tracker := TrackReplies(f.out)
	f.table = actions.New(actions.Deps{Workdir: t.TempDir(), Replier: tracker})
	e, err := New(Options{
		Oracle:       f.oracle,
		Actions:      f.table,
		Queue:        f.queue,
		Replies:      tracker,
		State:        state.NewStore(filepath.Join(t.TempDir(), "state.json")),
		SystemPrompt: "You are ouro.",
		IdleWait:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) register(t *testing.T, kind directive.Kind, h actions.Handler) {
	t.Helper()
	require.NoError(t, f.table.Register(kind, h))
}

var console = inbox.Address{Channel: "console"}

func TestRunFeedsResultsBack(t *testing.T) {
	f := newFixture(t,
		"RATIONALE\nlook first\nRUN_SHELL_COMMAND\nls\nTHINK\nhmm",
		"TALK_TO_USER\nall done",
	)
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		return "a.txt", nil
	})

	ec := &actions.ExecContext{ReplyTo: console}
	require.NoError(t, f.engine.Run(context.Background(), ec))

	require.Len(t, f.oracle.reqs, 2)
	assert.Equal(t, oracle.Message{Role: "user", Content: "[RUN_SHELL_COMMAND]: a.txt\n[THINK]: NEXT_ACTION"}, f.oracle.lastPrompt(1))
	assert.Equal(t, "system", f.oracle.reqs[0].Messages[0].Role)
	assert.Equal(t, []string{"console all done"}, f.out.sent)
	assert.Equal(t, 1, ec.Depth)
	assert.Len(t, f.engine.History(), 4)
}

func TestRunHaltsAtDepthCeiling(t *testing.T) {
	f := newFixture(t, "THINK\nagain")
	f.engine.opts.MaxDepth = 5

	ec := &actions.ExecContext{ReplyTo: console}
	err := f.engine.Run(context.Background(), ec)
	require.ErrorIs(t, err, ErrDepthExceeded)
	assert.Len(t, f.oracle.reqs, 5)
	assert.Equal(t, 5, ec.Depth)
}

func TestRunKeepsHeartbeatFresh(t *testing.T) {
	f := newFixture(t,
		"RUN_SHELL_COMMAND\nstep 1",
		"RUN_SHELL_COMMAND\nstep 2",
		"RUN_SHELL_COMMAND\nstep 3",
		"TALK_TO_USER\ndone",
	)
	hb := filepath.Join(t.TempDir(), "heartbeat")
	require.NoError(t, os.WriteFile(hb, nil, 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(hb, old, old))
	f.engine.opts.HeartbeatFile = hb

	var ages []time.Duration
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		info, err := os.Stat(hb)
		if err != nil {
			return "", err
		}
		ages = append(ages, time.Since(info.ModTime()))
		// Age it again so the next step has to refresh it.
		require.NoError(t, os.Chtimes(hb, old, old))
		return "ok", nil
	})

	require.NoError(t, f.engine.Run(context.Background(), &actions.ExecContext{ReplyTo: console}))
	require.Len(t, ages, 3)
	for _, age := range ages {
		assert.Less(t, age, time.Minute)
	}
}

func TestRunContainsHandlerPanics(t *testing.T) {
	f := newFixture(t, "RUN_SHELL_COMMAND\nrm -rf /tmp/x\nTHINK\nstill here", "TALK_TO_USER\nrecovered")
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		panic("boom")
	})

	require.NoError(t, f.engine.Run(context.Background(), &actions.ExecContext{ReplyTo: console}))
	require.Len(t, f.oracle.reqs, 2)
	assert.Equal(t,
		"[RUN_SHELL_COMMAND]: ACTION FAILED: RUN_SHELL_COMMAND raised panic: boom\n[THINK]: NEXT_ACTION",
		f.oracle.lastPrompt(1).Content)
	assert.Equal(t, []string{"console recovered"}, f.out.sent)
}

func TestRunOracleFailureLeavesHistory(t *testing.T) {
	f := newFixture(t)
	f.oracle.err = errors.New("503 upstream")
	before := len(f.engine.History())

	err := f.engine.Run(context.Background(), &actions.ExecContext{ReplyTo: console})
	var oerr *oracle.Error
	require.ErrorAs(t, err, &oerr)
	assert.Len(t, f.engine.History(), before)
	assert.Empty(t, f.out.sent)
}

func TestSleepPreemptsBatch(t *testing.T) {
	f := newFixture(t, "SLEEP\n600\nRUN_SHELL_COMMAND\nls")
	ran := false
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		ran = true
		return "x", nil
	})

	ec := &actions.ExecContext{ReplyTo: console, Mode: state.Listening}
	require.NoError(t, f.engine.Run(context.Background(), ec))
	assert.False(t, ran)
	assert.Len(t, f.oracle.reqs, 1)
	assert.Equal(t, state.Sleeping, ec.Mode)
	require.NotNil(t, ec.SleepUntil)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), *ec.SleepUntil, time.Minute)
}

func TestRestartStopsBatch(t *testing.T) {
	f := newFixture(t, "RESTART_SELF\napplying fix\nRUN_SHELL_COMMAND\nls")
	ran := false
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		ran = true
		return "x", nil
	})

	ec := &actions.ExecContext{ReplyTo: console}
	require.ErrorIs(t, f.engine.Run(context.Background(), ec), ErrRestart)
	assert.True(t, ec.Restart)
	assert.False(t, ran)
}

func TestRunFallsBackToDirectReply(t *testing.T) {
	f := newFixture(t, "Just chatting, no markers.")
	to := inbox.Address{Channel: "telegram", Target: "7"}

	require.NoError(t, f.engine.Run(context.Background(), &actions.ExecContext{ReplyTo: to}))
	assert.Equal(t, []string{"telegram:7 Just chatting, no markers."}, f.out.sent)
}

func TestRunHearsQueuedMessages(t *testing.T) {
	f := newFixture(t, "RUN_SHELL_COMMAND\nls", "TALK_TO_USER\nok")
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		f.queue.Push(inbox.NewEnvelope("telegram", "[Telegram from @ann]: still there?", inbox.Address{Channel: "telegram", Target: "7"}))
		f.queue.Push(inbox.NewEnvelope("console", "/status", console))
		f.queue.Push(inbox.NewEnvelope("console", "after the command", console))
		return "done", nil
	})

	require.NoError(t, f.engine.Run(context.Background(), &actions.ExecContext{ReplyTo: console}))

	msgs := f.oracle.reqs[1].Messages
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, "[heard just now via telegram]: [Telegram from @ann]: still there?", msgs[len(msgs)-2].Content)
	assert.Equal(t, "[RUN_SHELL_COMMAND]: done", msgs[len(msgs)-1].Content)

	require.Equal(t, 2, f.queue.Len())
	next, _ := f.queue.TryPop()
	assert.Equal(t, "/status", next.Text)
}

func TestHeardMessagesMarkedOlderThanReply(t *testing.T) {
	f := newFixture(t, "TALK_TO_USER\non it\nRUN_SHELL_COMMAND\nls", "THINK\nok")
	early := inbox.NewEnvelope("console", "one more thing", console)
	early.EnqueuedAt = time.Now().Add(-time.Minute)
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		f.queue.Push(early)
		return "done", nil
	})
	f.engine.opts.MaxDepth = 2

	err := f.engine.Run(context.Background(), &actions.ExecContext{ReplyTo: console})
	require.ErrorIs(t, err, ErrDepthExceeded)
	msgs := f.oracle.reqs[1].Messages
	assert.Equal(t, "[heard 1m ago via console (sent BEFORE your last response)]: one more thing", msgs[len(msgs)-2].Content)
}

func TestHandleBatchesConversationalEnvelopes(t *testing.T) {
	f := newFixture(t, "Noted both.")
	tg := inbox.Address{Channel: "telegram", Target: "7"}
	f.queue.Push(inbox.NewEnvelope("console", "first", console))
	f.queue.Push(inbox.NewEnvelope("telegram", "[Telegram from @ann]: second", tg))
	f.queue.Push(inbox.NewEnvelope("console", "/status", console))

	env, ok := f.queue.TryPop()
	require.True(t, ok)
	require.NoError(t, f.engine.handle(context.Background(), env))

	require.Len(t, f.oracle.reqs, 1)
	msgs := f.oracle.reqs[0].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "[Telegram from @ann]: second", msgs[2].Content)
	assert.Equal(t, []string{"telegram:7 Noted both."}, f.out.sent)
	assert.Equal(t, 1, f.queue.Len())
}

func TestSleepingEngineWakesOnEnvelope(t *testing.T) {
	f := newFixture(t, "TALK_TO_USER\nI'm up")
	f.engine.st.SleepFor(time.Hour, time.Now())

	f.queue.Push(inbox.NewEnvelope("telegram", "[Telegram from @ann]: wake up", inbox.Address{Channel: "telegram", Target: "7"}))
	f.queue.Push(inbox.NewEnvelope("console", "/quit", console))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.engine.Serve(ctx))

	st := f.engine.State()
	assert.Nil(t, st.SleepUntil)
	assert.Equal(t, state.Listening, st.Mode)
	assert.Len(t, f.oracle.reqs, 1)
	assert.Equal(t, []string{"telegram:7 I'm up", "console Goodbye."}, f.out.sent)

	persisted, err := f.engine.opts.State.Load()
	require.NoError(t, err)
	assert.Nil(t, persisted.SleepUntil)
}

func TestTickDue(t *testing.T) {
	now := time.Now()
	later := now.Add(-2 * time.Minute)
	tests := []struct {
		name string
		st   state.RunState
		last time.Time
		want bool
	}{
		{"autonomous idle", state.RunState{Mode: state.Autonomous, TickInterval: 60}, later, true},
		{"autonomous recent", state.RunState{Mode: state.Autonomous, TickInterval: 60}, now, false},
		{"listening", state.RunState{Mode: state.Listening, TickInterval: 60}, later, false},
		{"focused without task", state.RunState{Mode: state.Focused, TickInterval: 60}, later, false},
		{"focused with task", state.RunState{Mode: state.Focused, TickInterval: 60, CurrentTask: "docs"}, later, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Engine{st: tt.st}
			assert.Equal(t, tt.want, e.tickDue(now, tt.last))
		})
	}

	asleep := state.RunState{Mode: state.Autonomous, TickInterval: 60}
	asleep.SleepFor(time.Hour, now)
	asleep.Mode = state.Autonomous
	assert.False(t, (&Engine{st: asleep}).tickDue(now, later))
}

func TestTickMentionsTask(t *testing.T) {
	f := newFixture(t, "TALK_TO_USER\nworking")
	f.engine.st.CurrentTask = "ship v2"

	require.NoError(t, f.engine.tick(context.Background()))
	require.Len(t, f.oracle.reqs, 1)
	prompt := f.oracle.lastPrompt(0).Content
	assert.True(t, strings.HasPrefix(prompt, "[AUTONOMOUS TICK] Your current task: ship v2."), prompt)
	assert.Equal(t, []string{" working"}, f.out.sent)
}

func TestPipeMakesOneRoundTrip(t *testing.T) {
	f := newFixture(t, "RUN_SHELL_COMMAND\necho hi\nTALK_TO_USER\nprobe ok", "THINK\nnever")
	calls := 0
	f.register(t, directive.RunCommand, func(context.Context, *actions.ExecContext, string) (string, error) {
		calls++
		return "hi", nil
	})
	require.NoError(t, f.engine.Pipe(context.Background(), "are you alive?", console))
	require.Len(t, f.oracle.reqs, 1)
	assert.Len(t, f.oracle.reqs[0].Messages, 2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"console probe ok"}, f.out.sent)
	assert.Equal(t, DefaultMaxDepth, f.engine.opts.MaxDepth)
}
