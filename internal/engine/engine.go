// Package engine drives the oracle: it sends the conversation, parses the
// reply into actions, dispatches them in order and feeds their results back
// until the chain produces nothing new.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neboloop/ouro/internal/actions"
	"github.com/neboloop/ouro/internal/directive"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
	"github.com/neboloop/ouro/internal/memory"
	"github.com/neboloop/ouro/internal/metrics"
	"github.com/neboloop/ouro/internal/oracle"
	"github.com/neboloop/ouro/internal/state"
	"github.com/neboloop/ouro/internal/throttle"
)

var (
	// ErrDepthExceeded halts a chain that keeps producing results.
	ErrDepthExceeded = errors.New("recursion ceiling reached")

	// ErrRestart asks the caller to replace the process. The guarded file
	// has already been validated.
	ErrRestart = errors.New("restart requested")
)

const (
	DefaultMaxDepth  = 50
	DefaultIdleWait  = time.Second
	DefaultMaxTokens = 4096
)

// Dispatcher runs one action. *actions.Table implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ec *actions.ExecContext, a directive.Action) actions.Outcome
}

// Options wires an Engine. Oracle, Actions, Queue and Replies are required.
type Options struct {
	Oracle    oracle.Oracle
	Model     string
	MaxTokens int

	Actions Dispatcher
	Queue   *inbox.Queue
	Replies *ReplyTracker

	// Memory persists history after every step. Nil keeps history in
	// memory only (pipe mode).
	Memory *memory.Manager
	Store  *memory.Store
	State  *state.Store

	Governor *governor.Governor
	UsageDB  *sql.DB

	SystemPrompt  string
	MaxDepth      int
	IdleWait      time.Duration
	HeartbeatFile string
	LogFile       string // tailed on the status page

	// Autonomous starts the loop in autonomous mode regardless of the
	// persisted mode.
	Autonomous bool
	Version    string
}

// Engine is the single consumer of the envelope queue. Its methods are not
// safe for concurrent use; everything runs on the goroutine that calls Serve.
type Engine struct {
	opts    Options
	history []memory.Message
	st      state.RunState
	errs    *throttle.ErrorThrottler
	now     func() time.Time

	// view is the copy Status reads from other goroutines.
	viewMu sync.Mutex
	view   statusView
}

type statusView struct {
	st       state.RunState
	messages int
}

// New validates opts and fills defaults. Call Start before Serve.
func New(opts Options) (*Engine, error) {
	if opts.Oracle == nil {
		return nil, errors.New("engine: oracle is required")
	}
	if opts.Actions == nil {
		return nil, errors.New("engine: action table is required")
	}
	if opts.Queue == nil {
		opts.Queue = inbox.NewQueue()
	}
	if opts.Replies == nil {
		return nil, errors.New("engine: reply channel is required")
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Engine{
		opts:    opts,
		history: []memory.Message{{Role: memory.RoleSystem, Content: opts.SystemPrompt}},
		st:      state.Default(),
		errs:    throttle.New(throttle.DefaultWindow, throttle.DefaultMaxRepeats),
		now:     time.Now,
	}, nil
}

// History returns the working conversation.
func (e *Engine) History() []memory.Message {
	return e.history
}

// State returns the current run-state.
func (e *Engine) State() state.RunState {
	return e.st
}

// Run executes one chain for the given context: oracle, parse, dispatch,
// feed back, until a step yields no results, the context falls asleep, a
// restart is approved or the depth ceiling is reached. Oracle errors halt the
// chain and are returned after logging.
func (e *Engine) Run(ctx context.Context, ec *actions.ExecContext) error {
	log := logging.For("engine")
	steps := 0
	defer func() {
		if steps > 0 {
			metrics.ChainSteps.Observe(float64(steps))
		}
	}()

	for ec.Depth < e.opts.MaxDepth {
		steps++
		e.touchHeartbeat()
		resp, err := e.opts.Oracle.Complete(ctx, &oracle.Request{
			Model:     e.opts.Model,
			Messages:  memory.ToOracle(e.history),
			MaxTokens: e.opts.MaxTokens,
			Purpose:   "turn",
		})
		if err != nil {
			e.oracleFailed(err)
			return err
		}
		reply := strings.TrimSpace(resp.Content)
		e.history = append(e.history, memory.Message{Role: memory.RoleAssistant, Content: reply, Timestamp: e.now()})
		e.save(ctx)

		d := directive.Parse(reply)
		if !d.HasActions() {
			if text := d.Fallback(); text != "" {
				if err := e.opts.Replies.Reply(ctx, ec.ReplyTo, text); err != nil {
					log.Warn("fallback reply failed", "to", ec.ReplyTo, "error", err)
				}
			}
			return nil
		}
		if next, ok := d.Failsafe(); ok {
			log.Debug("talk followed by action", "kind", next.Kind)
		}

		var results []string
		for i, a := range d.Actions {
			if ec.Asleep(e.now()) {
				log.Info("sleep preempts batch", "skipped", len(d.Actions)-i)
				break
			}
			e.touchHeartbeat()
			out := e.opts.Actions.Dispatch(ctx, ec, a)
			if out.Text != "" {
				results = append(results, out.Text)
			}
			if ec.Restart {
				break
			}
		}
		if ec.Restart {
			return ErrRestart
		}
		if len(results) == 0 || ec.Asleep(e.now()) {
			return nil
		}

		e.hear()
		e.history = append(e.history, memory.Message{
			Role:      memory.RoleUser,
			Content:   strings.Join(results, "\n"),
			Timestamp: e.now(),
		})
		e.save(ctx)
		ec.Depth++
	}

	log.Warn("chain halted", "depth", ec.Depth, "max", e.opts.MaxDepth)
	return fmt.Errorf("%w (%d)", ErrDepthExceeded, e.opts.MaxDepth)
}

// hear appends queued envelopes to history without starting a new chain.
// A slash command stops the drain and goes back to the front of the queue,
// along with everything after it.
func (e *Engine) hear() {
	envs := e.opts.Queue.Drain()
	last := e.opts.Replies.Last()
	now := e.now()
	for i, env := range envs {
		if _, ok := command(env); ok {
			e.opts.Queue.PushFront(envs[i:]...)
			return
		}
		before := ""
		if !last.IsZero() && env.EnqueuedAt.Before(last) {
			before = " (sent BEFORE your last response)"
		}
		e.history = append(e.history, memory.Message{
			Role:      memory.RoleUser,
			Content:   fmt.Sprintf("[heard %s via %s%s]: %s", inbox.Humanize(env.Age(now)), env.Source, before, env.Text),
			Timestamp: now,
		})
	}
}

func (e *Engine) oracleFailed(err error) {
	msg := err.Error()
	if !e.errs.ShouldLog(msg) {
		return
	}
	log := logging.For("engine")
	if s := e.errs.SuppressedSummary(); s != "" {
		log.Warn("suppressed repeated errors", "errors", s)
	}
	log.Error("oracle call failed", "error", err)
}

func (e *Engine) save(ctx context.Context) {
	if e.opts.Memory != nil {
		e.history = e.opts.Memory.Save(ctx, e.history)
	}
	e.publish()
}

func (e *Engine) publish() {
	e.viewMu.Lock()
	e.view = statusView{st: e.st, messages: memory.NonSystem(e.history)}
	e.viewMu.Unlock()
}

// ReplyTracker wraps the outbound router and remembers when the last reply
// went out, so heard messages can be marked as older than it.
type ReplyTracker struct {
	inner actions.Replier

	mu   sync.Mutex
	last time.Time
}

// TrackReplies wraps r.
func TrackReplies(r actions.Replier) *ReplyTracker {
	return &ReplyTracker{inner: r}
}

// Reply delivers text and records the time on success.
func (t *ReplyTracker) Reply(ctx context.Context, to inbox.Address, text string) error {
	if err := t.inner.Reply(ctx, to, text); err != nil {
		return err
	}
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
	return nil
}

// Last is when the most recent reply was delivered.
func (t *ReplyTracker) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
