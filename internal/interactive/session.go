// Package interactive runs at most one long-lived subprocess that the agent
// talks to line by line.
package interactive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/ouro/internal/logging"
)

var (
	// ErrSessionActive is returned by Start while a session is running.
	ErrSessionActive = errors.New("interactive session already active")
	// ErrNoSession is returned by Send and End when no session is running.
	ErrNoSession = errors.New("no active interactive session")
)

const (
	DefaultStartSettle = 5 * time.Second
	DefaultSendSettle  = 10 * time.Second
	DefaultQuiet       = 500 * time.Millisecond
	DefaultMaxOutput   = 50000
	DefaultGracePeriod = 2 * time.Second
	signalSettle       = 500 * time.Millisecond
)

// Options tunes how long output is collected after each operation.
type Options struct {
	Dir         string
	StartSettle time.Duration // upper bound on waiting for initial output
	SendSettle  time.Duration // upper bound on waiting for a reply
	Quiet       time.Duration // output is complete after this much silence
	MaxOutput   int
	GracePeriod time.Duration // SIGTERM to SIGKILL delay on End
}

// Result describes what a session produced during one operation.
type Result struct {
	ID       string
	PID      int
	Output   string
	Exited   bool
	ExitCode int
}

// Manager owns the single interactive session slot. It is safe for
// concurrent use, though the engine drives it from one goroutine.
type Manager struct {
	opts Options

	mu   sync.Mutex
	sess *session
}

type session struct {
	id      string
	command string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     *outputBuffer
	done    chan struct{}
	exit    int
}

// NewManager returns a Manager with defaults applied.
func NewManager(opts Options) *Manager {
	if opts.StartSettle <= 0 {
		opts.StartSettle = DefaultStartSettle
	}
	if opts.SendSettle <= 0 {
		opts.SendSettle = DefaultSendSettle
	}
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Manager{opts: opts}
}

// Active reports whether a session occupies the slot.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil
}

// Command returns the running session's command line, or "".
func (m *Manager) Command() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return ""
	}
	return m.sess.command
}

// Start spawns command and returns whatever it printed before going quiet.
// A process that exits immediately frees the slot again.
func (m *Manager) Start(ctx context.Context, command string) (Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{}, errors.New("empty command")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != nil {
		return Result{}, ErrSessionActive
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = m.opts.Dir
	cmd.Env = append(os.Environ(), "TERM=dumb", "PYTHONUNBUFFERED=1")
	setProcGroup(cmd)
	cmd.WaitDelay = m.opts.GracePeriod

	out := newOutputBuffer(m.opts.MaxOutput)
	cmd.Stdout = out
	cmd.Stderr = out
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %q: %w", command, err)
	}

	sess := &session{
		id:      uuid.NewString(),
		command: command,
		cmd:     cmd,
		stdin:   stdin,
		out:     out,
		done:    make(chan struct{}),
	}
	go sess.wait()
	logging.For("interactive").Info("session started", "id", sess.id, "pid", cmd.Process.Pid, "command", command)

	m.sess = sess
	res := m.collect(ctx, sess, m.opts.StartSettle)
	return res, nil
}

// Send writes line plus a newline to the session and returns the reply.
func (m *Manager) Send(ctx context.Context, line string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sess
	if sess == nil {
		return Result{}, ErrNoSession
	}

	if sess.exited() {
		return m.collect(ctx, sess, 0), nil
	}
	if _, err := io.WriteString(sess.stdin, line+"\n"); err != nil {
		// The process closed stdin; report what it left behind.
		res := m.collect(ctx, sess, m.opts.Quiet)
		if res.Exited {
			return res, nil
		}
		return res, fmt.Errorf("failed to write to session: %w", err)
	}
	return m.collect(ctx, sess, m.opts.SendSettle), nil
}

// End stops the session. signal may be "", "CTRL+C", "CTRL+D" or a signal
// name or number understood by the host; it is delivered first and the
// process gets a moment to exit on its own before being terminated.
func (m *Manager) End(signal string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sess
	if sess == nil {
		return Result{}, ErrNoSession
	}
	defer func() { m.sess = nil }()

	signal = strings.ToUpper(strings.TrimSpace(signal))
	switch signal {
	case "":
	case "CTRL+D":
		sess.stdin.Close()
	default:
		if err := sendSignal(sess.cmd, signal); err != nil {
			logging.For("interactive").Warn("signal failed", "signal", signal, "error", err)
		}
	}
	if signal != "" {
		select {
		case <-sess.done:
		case <-time.After(signalSettle):
		}
	}

	if !sess.exited() {
		terminate(sess.cmd, sess.done, m.opts.GracePeriod)
	}
	<-sess.done
	sess.stdin.Close()

	logging.For("interactive").Info("session ended", "id", sess.id, "exit", sess.exit)
	return Result{
		ID:       sess.id,
		PID:      sess.cmd.Process.Pid,
		Output:   sess.out.Drain(),
		Exited:   true,
		ExitCode: sess.exit,
	}, nil
}

// Close ends any running session. Used on shutdown.
func (m *Manager) Close() {
	if m.Active() {
		_, _ = m.End("")
	}
}

// collect gathers output until the session is quiet, exits, or settle
// elapses. Caller holds m.mu. An exited session is removed from the slot.
func (m *Manager) collect(ctx context.Context, sess *session, settle time.Duration) Result {
	var deadline <-chan time.Time
	if settle > 0 {
		t := time.NewTimer(settle)
		defer t.Stop()
		deadline = t.C
	}

	quiet := time.NewTimer(m.opts.Quiet)
	quiet.Stop()
	defer quiet.Stop()
	var quietC <-chan time.Time

	if settle > 0 {
	wait:
		for {
			select {
			case <-sess.out.Notify():
				quiet.Reset(m.opts.Quiet)
				quietC = quiet.C
			case <-quietC:
				break wait
			case <-sess.done:
				break wait
			case <-deadline:
				break wait
			case <-ctx.Done():
				break wait
			}
		}
	}

	res := Result{ID: sess.id, PID: sess.cmd.Process.Pid, Output: sess.out.Drain()}
	if sess.exited() {
		res.Exited = true
		res.ExitCode = sess.exit
		sess.stdin.Close()
		m.sess = nil
		logging.For("interactive").Info("session exited", "id", sess.id, "exit", sess.exit)
	}
	return res
}

func (s *session) wait() {
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		s.exit = exitErr.ExitCode()
	default:
		s.exit = -1
	}
	close(s.done)
}

func (s *session) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// outputBuffer merges stdout and stderr and signals each write.
type outputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
	notify    chan struct{}
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{max: limit, notify: make(chan struct{}, 1)}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	room := b.max - b.buf.Len()
	switch {
	case room <= 0:
		b.truncated = true
	case len(p) > room:
		b.buf.Write(p[:room])
		b.truncated = true
	default:
		b.buf.Write(p)
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Notify fires after writes.
func (b *outputBuffer) Notify() <-chan struct{} {
	return b.notify
}

// Drain returns and clears buffered output.
func (b *outputBuffer) Drain() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if b.truncated {
		s += "\n[output truncated]"
	}
	b.buf.Reset()
	b.truncated = false
	return s
}
