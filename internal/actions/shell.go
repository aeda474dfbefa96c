package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const shellWaitDelay = 2 * time.Second

// runCommand runs the body through the shell with stdin closed. Stdout is
// returned when non-empty, else stderr, else "EMPTY".
func (h *handlers) runCommand(ctx context.Context, _ *ExecContext, body string) (string, error) {
	cmdline := stripLabelLines(body)
	if cmdline == "" {
		return "", errors.New("empty command")
	}
	if err := CheckCommand(cmdline); err != nil {
		return "", err
	}

	timeout := h.ShellTimeout
	if isClaudePrint(cmdline) {
		timeout = max(timeout, claudeShellTimeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell, args := shellCommand()
	cmd := exec.CommandContext(ctx, shell, append(args, cmdline)...)
	cmd.Dir = h.Workdir
	cmd.Env = os.Environ()
	cmd.WaitDelay = shellWaitDelay
	killGroupOnCancel(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("ERROR: Command timed out after %d seconds. The command may have been waiting for input or hung.", int(timeout/time.Second)), nil
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", err
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		return out, nil
	}
	if out := strings.TrimSpace(stderr.String()); out != "" {
		return out, nil
	}
	if exitErr != nil {
		return fmt.Sprintf("EMPTY (exit status %d)", exitErr.ExitCode()), nil
	}
	return "EMPTY", nil
}

// stripLabelLines drops leading lines ending in ':'. Models often put an
// explanatory label above the command.
func stripLabelLines(body string) string {
	lines := strings.Split(body, "\n")
	for len(lines) > 0 && strings.HasSuffix(strings.TrimSpace(lines[0]), ":") {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isClaudePrint(cmd string) bool {
	return strings.Contains(cmd, "claude ") && (strings.Contains(cmd, "-p ") || strings.Contains(cmd, "--print"))
}
