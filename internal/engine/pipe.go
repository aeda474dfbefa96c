package engine

import (
	"context"
	"errors"

	"github.com/neboloop/ouro/internal/actions"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/memory"
)

// Pipe answers prompt with exactly one oracle round-trip against a fresh
// conversation holding only the system prompt. Actions in the reply run and
// talk goes to replyTo, but results are never fed back and nothing is
// persisted.
func (e *Engine) Pipe(ctx context.Context, prompt string, replyTo inbox.Address) error {
	e.history = []memory.Message{
		{Role: memory.RoleSystem, Content: e.opts.SystemPrompt},
		{Role: memory.RoleUser, Content: prompt, Timestamp: e.now()},
	}

	saved, depth := e.opts.Memory, e.opts.MaxDepth
	e.opts.Memory, e.opts.MaxDepth = nil, 1
	defer func() { e.opts.Memory, e.opts.MaxDepth = saved, depth }()

	ec := &actions.ExecContext{
		ReplyTo:    replyTo,
		Mode:       e.st.Mode,
		SleepCycle: e.st.SleepCycle(),
	}
	err := e.Run(ctx, ec)
	if errors.Is(err, ErrDepthExceeded) {
		return nil
	}
	return err
}
