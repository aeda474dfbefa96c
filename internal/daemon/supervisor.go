// Package daemon keeps the agent process alive: it runs it as a child,
// restarts it on request and replaces it when its heartbeat goes stale.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/logging"
)

// EnvSupervised is set to "1" in the child's environment. The agent exits
// with governor.ExitRestart instead of exec'ing itself when it sees it.
const EnvSupervised = "OURO_SUPERVISED"

const (
	DefaultStaleAfter    = 180 * time.Second
	DefaultCheckInterval = 10 * time.Second
	DefaultMaxFailures   = 3
	DefaultRestartDelay  = 2 * time.Second
	stopGrace            = 10 * time.Second
)

// ErrGaveUp is returned after too many consecutive failures.
var ErrGaveUp = errors.New("supervisor gave up")

// SupervisorConfig configures the supervisor.
type SupervisorConfig struct {
	Command       []string      // agent command line; Command[0] is the executable
	HeartbeatFile string        // touched by the agent every loop iteration
	StaleAfter    time.Duration // heartbeat age that counts as a hang (default: 180s)
	CheckInterval time.Duration // how often the heartbeat is checked (default: 10s)
	MaxFailures   int           // consecutive failures before giving up (default: 3)
	RestartDelay  time.Duration // pause between runs (default: 2s)
	Stdin         io.Reader
	Stdout        io.Writer
	Stderr        io.Writer
}

// Supervisor runs the agent until it exits cleanly or keeps failing.
type Supervisor struct {
	cfg  SupervisorConfig
	now  func() time.Time
	runs int
}

// NewSupervisor creates a supervisor with defaults applied.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultCheckInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	return &Supervisor{cfg: cfg, now: time.Now}
}

// outcome is how one child run ended.
type outcome int

const (
	exitedClean outcome = iota
	exitedRestart
	exitedError
	hung
	stopped
)

// Run starts the child and restarts it until ctx is done, the child exits
// with status 0, or MaxFailures runs in a row fail. A restart request
// (governor.ExitRestart) resets the failure count.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.cfg.Command) == 0 {
		return errors.New("supervisor: no command")
	}
	log := logging.For("supervisor")
	failures := 0

	for {
		out, code, err := s.runOnce(ctx)
		switch out {
		case stopped:
			return nil
		case exitedClean:
			log.Info("agent exited")
			return nil
		case exitedRestart:
			log.Info("agent requested restart")
			failures = 0
		case hung:
			failures++
			log.Warn("heartbeat stale, agent killed", "stale_after", s.cfg.StaleAfter, "failures", failures)
		case exitedError:
			failures++
			log.Warn("agent failed", "code", code, "error", err, "failures", failures)
		}

		if failures >= s.cfg.MaxFailures {
			return fmt.Errorf("%w after %d consecutive failures", ErrGaveUp, failures)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.RestartDelay):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context) (outcome, int, error) {
	s.runs++
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), EnvSupervised+"=1")
	cmd.Stdin = s.cfg.Stdin
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr

	// A slow start must not read as a hang left over from the last run.
	s.touch()
	if err := cmd.Start(); err != nil {
		return exitedError, -1, err
	}
	logging.For("supervisor").Info("agent started", "pid", cmd.Process.Pid, "run", s.runs)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			code := exitCode(err)
			switch {
			case code == 0:
				return exitedClean, 0, nil
			case code == governor.ExitRestart:
				return exitedRestart, code, nil
			default:
				return exitedError, code, err
			}

		case <-ctx.Done():
			_ = cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(stopGrace):
				_ = cmd.Process.Kill()
				<-done
			}
			return stopped, 0, nil

		case <-ticker.C:
			if s.stale() {
				_ = cmd.Process.Kill()
				<-done
				return hung, -1, nil
			}
		}
	}
}

// stale reports whether the heartbeat file is older than StaleAfter. A
// missing file is not stale; the agent may not have reached its loop yet.
func (s *Supervisor) stale() bool {
	if s.cfg.HeartbeatFile == "" {
		return false
	}
	info, err := os.Stat(s.cfg.HeartbeatFile)
	if err != nil {
		return false
	}
	return s.now().Sub(info.ModTime()) > s.cfg.StaleAfter
}

func (s *Supervisor) touch() {
	path := s.cfg.HeartbeatFile
	if path == "" {
		return
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err == nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.WriteFile(path, nil, 0o644)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
