//go:build darwin || linux

package interactive

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// setProcGroup runs the command in its own process group so signals reach
// everything the shell spawned.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// ParseSignal maps "CTRL+C", "SIGTERM", "TERM", "HUP" or "9" to a signal.
func ParseSignal(name string) (syscall.Signal, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "CTRL+C" {
		return unix.SIGINT, nil
	}
	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		return syscall.Signal(n), nil
	}
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

func sendSignal(cmd *exec.Cmd, name string) error {
	sig, err := ParseSignal(name)
	if err != nil {
		return err
	}
	return unix.Kill(-cmd.Process.Pid, sig)
}

// terminate sends SIGTERM to the process group, waits up to grace, then
// force-kills it.
func terminate(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) {
	pgid := -cmd.Process.Pid
	_ = unix.Kill(pgid, unix.SIGTERM)
	select {
	case <-done:
	case <-time.After(grace):
		_ = unix.Kill(pgid, unix.SIGKILL)
	}
}
