package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/neboloop/ouro/internal/actions"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/memory"
	"github.com/neboloop/ouro/internal/state"
)

const (
	startupIntentKey = "startup_intent"
	startupSource    = "startup"
)

// Start loads persisted history and run-state, queues any startup intent left
// by the previous instance and, once all of that worked, marks the guarded
// file as known-good.
func (e *Engine) Start(ctx context.Context) error {
	log := logging.For("engine")

	if e.opts.Memory != nil {
		history, err := e.opts.Memory.Load(e.opts.SystemPrompt)
		if err != nil {
			log.Warn("conversation not loaded, starting fresh", "error", err)
		}
		e.history = history
	}

	if e.opts.State != nil {
		st, err := e.opts.State.Load()
		if err != nil {
			log.Warn("run-state not loaded, using defaults", "error", err)
			st = state.Default()
		}
		e.st = st
	}
	if e.opts.Autonomous && !e.st.Asleep(e.now()) {
		e.st.Mode = state.Autonomous
	}
	e.saveState()

	if e.opts.Store != nil {
		entry, err := e.opts.Store.Take(ctx, startupIntentKey)
		switch {
		case err == nil && entry.Value != "":
			log.Info("startup intent found", "intent", entry.Value)
			e.opts.Queue.PushFront(inbox.NewEnvelope(startupSource, "[STARTUP INTENT]: "+entry.Value, inbox.Address{}))
		case err != nil && !errors.Is(err, memory.ErrNotFound):
			log.Warn("startup intent not read", "error", err)
		}
	}

	if e.opts.Governor != nil {
		if err := e.opts.Governor.MarkKnownGood(ctx); err != nil && !errors.Is(err, governor.ErrNotGuarded) {
			log.Warn("known-good snapshot not refreshed", "error", err)
		}
	}
	log.Info("engine started", "mode", e.st.Mode, "messages", memory.NonSystem(e.history))
	return nil
}

// Serve consumes the queue until ctx is done, /quit arrives or a restart is
// approved. It returns ErrRestart in the last case and nil otherwise.
func (e *Engine) Serve(ctx context.Context) error {
	log := logging.For("engine")
	lastActivity := e.now()

	for {
		if ctx.Err() != nil {
			return nil
		}
		e.touchHeartbeat()

		env, ok := e.opts.Queue.Wait(ctx, e.opts.IdleWait)
		if ok {
			e.wakeFor(env)
			err := e.handle(ctx, env)
			lastActivity = e.now()
			switch {
			case errors.Is(err, errQuit):
				log.Info("quit requested", "source", env.Source)
				return nil
			case errors.Is(err, ErrRestart):
				return ErrRestart
			}
			continue
		}

		now := e.now()
		if e.st.SleepUntil != nil {
			if e.st.Asleep(now) {
				continue
			}
			e.st.Wake()
			e.saveState()
			log.Info("woke up", "reason", "sleep over")
		}
		if e.tickDue(now, lastActivity) {
			err := e.tick(ctx)
			lastActivity = e.now()
			if errors.Is(err, ErrRestart) {
				return ErrRestart
			}
		}
	}
}

// wakeFor clears the sleep deadline for an incoming envelope. A deadline that
// already passed is cleared silently.
func (e *Engine) wakeFor(env inbox.Envelope) {
	if e.st.SleepUntil == nil {
		return
	}
	asleep := e.st.Asleep(e.now())
	e.st.Wake()
	e.saveState()
	if asleep {
		logging.For("engine").Info("woken by "+wakeReason(env.Source), "source", env.Source)
	}
}

func wakeReason(source string) string {
	switch source {
	case "telegram":
		return "Telegram message"
	case "twitter":
		return "Twitter mention"
	case "reminder", "task_due":
		return "Reminder due"
	case "console":
		return "console input"
	}
	return source
}

// handle runs one envelope. Slash commands are answered directly; anything
// else is batched with the conversational envelopes behind it into a single
// chain that replies to the last of them.
func (e *Engine) handle(ctx context.Context, env inbox.Envelope) error {
	if cmd, ok := command(env); ok {
		return e.slash(ctx, env, cmd)
	}

	batch := []inbox.Envelope{env}
	rest := e.opts.Queue.Drain()
	for i, next := range rest {
		if _, ok := command(next); ok {
			e.opts.Queue.PushFront(rest[i:]...)
			break
		}
		batch = append(batch, next)
	}

	for _, b := range batch {
		e.history = append(e.history, memory.Message{Role: memory.RoleUser, Content: b.Text, Timestamp: e.now()})
	}
	return e.trigger(ctx, batch[len(batch)-1].ReplyTo)
}

// trigger starts a chain from whatever was just appended to history and
// copies the chain's mode and sleep changes back into the run-state.
func (e *Engine) trigger(ctx context.Context, replyTo inbox.Address) error {
	ec := &actions.ExecContext{
		ReplyTo:    replyTo,
		Mode:       e.st.Mode,
		SleepUntil: e.st.SleepUntil,
		SleepCycle: e.st.SleepCycle(),
	}
	err := e.Run(ctx, ec)
	e.save(ctx)

	e.st.Mode = ec.Mode
	e.st.SleepUntil = ec.SleepUntil
	e.saveState()

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRestart):
		return ErrRestart
	default:
		// Oracle failures and depth overflow are logged by Run; the loop
		// waits for the next trigger.
		return nil
	}
}

func (e *Engine) tickDue(now, lastActivity time.Time) bool {
	if e.st.Asleep(now) || now.Sub(lastActivity) < e.st.Tick() {
		return false
	}
	switch e.st.Mode {
	case state.Autonomous:
		return true
	case state.Focused:
		return e.st.CurrentTask != ""
	}
	return false
}

func (e *Engine) tick(ctx context.Context) error {
	prompt := "[AUTONOMOUS TICK] What have you SHIPPED today? What artifact exists that didn't before? " +
		"Don't reflect - BUILD. Write code, create content, make something tangible."
	if e.st.CurrentTask != "" {
		prompt = fmt.Sprintf("[AUTONOMOUS TICK] Your current task: %s. What have you SHIPPED? "+
			"What's different because you existed? Don't just think - CREATE something real.", e.st.CurrentTask)
	}
	logging.For("engine").Debug("tick", "mode", e.st.Mode, "task", e.st.CurrentTask)
	e.history = append(e.history, memory.Message{Role: memory.RoleUser, Content: prompt, Timestamp: e.now()})
	return e.trigger(ctx, inbox.Address{})
}

func (e *Engine) saveState() {
	e.publish()
	if e.opts.State == nil {
		return
	}
	if err := e.opts.State.Save(e.st); err != nil {
		logging.For("engine").Error("failed to save run-state", "error", err)
	}
}

// touchHeartbeat updates the heartbeat file's mtime for the supervisor.
func (e *Engine) touchHeartbeat() {
	path := e.opts.HeartbeatFile
	if path == "" {
		return
	}
	now := e.now()
	if err := os.Chtimes(path, now, now); err == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, []byte(now.UTC().Format(time.RFC3339)), 0o644); err != nil {
		logging.For("engine").Debug("heartbeat not written", "error", err)
	}
}
