package actions

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/ouro/internal/directive"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/inbox"
)

func TestDispatchContainsErrors(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(directive.ReadFiles, func(context.Context, *ExecContext, string) (string, error) {
		return "", &fs.PathError{Op: "open", Path: "nope.txt", Err: fs.ErrNotExist}
	}))
	require.NoError(t, tbl.Register(directive.Think, func(context.Context, *ExecContext, string) (string, error) {
		return "", errors.New("plain failure")
	}))
	require.NoError(t, tbl.Register(directive.SaveMemory, func(context.Context, *ExecContext, string) (string, error) {
		return "", &governor.ValidationError{Validator: "go-syntax", Output: "bad"}
	}))

	ec := &ExecContext{}
	out := tbl.Dispatch(context.Background(), ec, directive.Action{Kind: directive.ReadFiles, Body: "nope.txt"})
	assert.True(t, out.Failed)
	assert.Equal(t, "[READ_FILES]: ACTION FAILED: READ_FILES raised PathError: open nope.txt: file does not exist", out.Text)

	out = tbl.Dispatch(context.Background(), ec, directive.Action{Kind: directive.Think})
	assert.Equal(t, "[THINK]: ACTION FAILED: THINK raised Error: plain failure", out.Text)

	out = tbl.Dispatch(context.Background(), ec, directive.Action{Kind: directive.SaveMemory})
	assert.True(t, strings.HasPrefix(out.Text, "[SAVE_MEMORY]: ACTION FAILED: SAVE_MEMORY raised ValidationError: "))
}

func TestDispatchRecoversPanics(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(directive.RunCommand, func(context.Context, *ExecContext, string) (string, error) {
		var m map[string]int
		m["boom"]++
		return "unreachable", nil
	}))

	out := tbl.Dispatch(context.Background(), &ExecContext{}, directive.Action{Kind: directive.RunCommand, Body: "x"})
	assert.True(t, out.Failed)
	assert.Contains(t, out.Text, "ACTION FAILED: RUN_SHELL_COMMAND raised panic: assignment to entry in nil map")
}

func TestDispatchUnknownKind(t *testing.T) {
	tbl := NewTable()
	out := tbl.Dispatch(context.Background(), &ExecContext{}, directive.Action{Kind: directive.Dream})
	assert.True(t, out.Failed)
	assert.Contains(t, out.Text, ErrUnknownKind.Error())

	err := tbl.Register(directive.Kind("LAUNCH_ROCKET"), nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDispatchEmptyResult(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Register(directive.Talk, func(context.Context, *ExecContext, string) (string, error) {
		return "", nil
	}))
	out := tbl.Dispatch(context.Background(), &ExecContext{}, directive.Action{Kind: directive.Talk, Body: "hi"})
	assert.False(t, out.Failed)
	assert.Empty(t, out.Text)
}

func TestLabelTruncation(t *testing.T) {
	long := strings.Repeat("x", 6000)

	got := Label(directive.ReadFiles, long)
	assert.Equal(t, len("[READ_FILES]: ")+LongLimit, len(got))

	got = Label(directive.SearchSelf, long)
	assert.Equal(t, len("[SEARCH_SELF]: ")+ShortLimit, len(got))

	assert.Equal(t, "[THINK]: short", Label(directive.Think, "short"))

	// A cut inside a multi-byte rune drops the partial rune.
	s := strings.Repeat("a", ShortLimit-1) + "é"
	got = Label(directive.Think, s)
	assert.True(t, strings.HasSuffix(got, "a"))
}

func TestNewRegistersEveryKind(t *testing.T) {
	tbl := New(Deps{Workdir: t.TempDir()})
	assert.Equal(t, directive.Kinds(), tbl.Kinds())
}

type recordingReplier struct {
	to   inbox.Address
	text string
	err  error
}

func (r *recordingReplier) Reply(_ context.Context, to inbox.Address, text string) error {
	r.to, r.text = to, text
	return r.err
}

func TestTalkUsesContextAddress(t *testing.T) {
	rep := &recordingReplier{}
	tbl := New(Deps{Workdir: t.TempDir(), Replier: rep})
	ec := &ExecContext{ReplyTo: inbox.Address{Channel: "telegram", Target: "42"}}

	out := tbl.Dispatch(context.Background(), ec, directive.Action{Kind: directive.Talk, Body: "hello there\n"})
	assert.Empty(t, out.Text)
	assert.Equal(t, inbox.Address{Channel: "telegram", Target: "42"}, rep.to)
	assert.Equal(t, "hello there", rep.text)

	rep.err = errors.New("chat not found")
	out = tbl.Dispatch(context.Background(), ec, directive.Action{Kind: directive.Talk, Body: "again"})
	assert.True(t, out.Failed)
	assert.Contains(t, out.Text, "chat not found")
}

func TestExecContextAsleep(t *testing.T) {
	now := time.Now()
	ec := &ExecContext{}
	assert.False(t, ec.Asleep(now))
	later := now.Add(time.Minute)
	ec.SleepUntil = &later
	assert.True(t, ec.Asleep(now))
	assert.False(t, ec.Asleep(later))
}
