package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/neboloop/ouro/internal/fsutil"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/logging"
)

const defaultLogLines = 50

var errNoGovernor = errors.New("no guarded source file configured")

// testSelf runs the governor's validators against the source on disk. A
// failing check is a result, not an error.
func (h *handlers) testSelf(ctx context.Context, _ *ExecContext, _ string) (string, error) {
	if h.Governor == nil || h.Governor.Path() == "" {
		return "", errNoGovernor
	}
	checks := strings.Join(h.Governor.Checks(), ", ")
	err := h.Governor.ValidateCurrent(ctx)
	var ve *governor.ValidationError
	switch {
	case errors.As(err, &ve):
		return fmt.Sprintf("FAIL %s: %s\nIssues found; fix before RESTART_SELF.", ve.Validator, strings.TrimSpace(ve.Output)), nil
	case err != nil:
		return "", err
	}
	return fmt.Sprintf("PASS %s (%s)\nSafe to restart.", h.Governor.Path(), checks), nil
}

// runSelf asks an isolated copy of the program one question through pipe
// mode and returns its answer.
func (h *handlers) runSelf(ctx context.Context, _ *ExecContext, body string) (string, error) {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = "Hello!"
	}
	argv := h.SelfCommand
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return "", err
		}
		argv = []string{exe, "pipe"}
	}

	ctx, cancel := context.WithTimeout(ctx, h.SelfTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = h.Workdir
	cmd.Env = os.Environ()
	cmd.Stdin = strings.NewReader(msg)
	cmd.WaitDelay = shellWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("Sent: %s\nTimeout after %s", msg, h.SelfTimeout), nil
	}
	if err != nil && stdout.Len() == 0 {
		return "", fmt.Errorf("%w: %s", err, truncate(strings.TrimSpace(stderr.String()), 300))
	}
	return fmt.Sprintf("Sent: %s\nResponse:\n%s", msg, strings.TrimSpace(stdout.String())), nil
}

// restart gates process replacement on the governor. When the source is
// broken it is rolled back and the restart is refused; otherwise the
// context is flagged and the engine replaces the process after the batch.
func (h *handlers) restart(ctx context.Context, ec *ExecContext, body string) (string, error) {
	log := logging.For("actions")
	if h.Governor != nil {
		if err := h.Governor.PrepareRestart(ctx); err != nil {
			log.Warn("restart refused", "error", err)
			return "RESTART ABORTED - " + err.Error(), nil
		}
	}
	if h.Memory != nil {
		note := "Restarted at " + h.now().Format(time.RFC3339)
		if reason := strings.TrimSpace(body); reason != "" {
			note += ": " + reason
		}
		if err := h.Memory.Save(ctx, "restart_log", note); err != nil {
			log.Warn("failed to record restart", "error", err)
		}
	}
	ec.Restart = true
	log.Info("restart approved", "reason", strings.TrimSpace(body))
	return "", nil
}

func (h *handlers) readLogs(_ context.Context, _ *ExecContext, body string) (string, error) {
	if h.LogFile == "" {
		return "", errors.New("file logging is disabled")
	}
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n <= 0 {
		n = defaultLogLines
	}
	lines, err := logging.Tail(h.LogFile, n)
	if errors.Is(err, fs.ErrNotExist) {
		return "No logs yet", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Last %d log lines:\n%s", len(lines), strings.Join(lines, "\n")), nil
}

// dream appends a timestamped entry to the dream journal.
func (h *handlers) dream(_ context.Context, _ *ExecContext, body string) (string, error) {
	if h.DreamFile == "" {
		return "", errors.New("dream journal not configured")
	}
	text := strings.TrimSpace(body)
	if text == "" {
		return "Dream ended without report.", nil
	}
	entry := fmt.Sprintf("## %s\n\n%s\n", h.now().Format("2006-01-02 15:04"), text)
	if err := fsutil.AppendLine(h.DreamFile, []byte(entry)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Dream recorded (%d chars)", len(text)), nil
}
