//go:build darwin || linux

package actions

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// shellCommand returns an absolute shell path so PATH cannot substitute it.
func shellCommand() (string, []string) {
	for _, path := range []string{"/bin/bash", "/usr/bin/bash", "/usr/local/bin/bash"} {
		if _, err := os.Stat(path); err == nil {
			return path, []string{"-c"}
		}
	}
	return "/bin/sh", []string{"-c"}
}

// killGroupOnCancel puts cmd in its own process group and kills the whole
// group when its context ends, so background children do not outlive it.
func killGroupOnCancel(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}
}
