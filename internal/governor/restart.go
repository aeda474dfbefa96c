package governor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/neboloop/ouro/internal/logging"
)

// ExitRestart is the exit code that asks the supervisor to start a fresh
// process.
const ExitRestart = 42

const rebuildTimeout = 5 * time.Minute

// PrepareRestart gates a restart. The guarded file is validated again; a
// failure rolls it back to known-good and aborts the restart. On success a
// pre_restart backup is taken and the rebuild command, if any, is run.
func (g *Governor) PrepareRestart(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.path == "" {
		return nil
	}
	log := logging.For("governor")

	content, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("restart aborted: %w", err)
	}
	if verr := g.validate(ctx, content); verr != nil {
		from, rerr := g.rollback(g.knownGoodPath())
		if rerr != nil {
			return fmt.Errorf("restart aborted: %w; rollback failed: %v", verr, rerr)
		}
		log.Warn("restart aborted, rolled back", "restored_from", from, "error", verr)
		return fmt.Errorf("restart aborted: %w; rolled back to %s", verr, from)
	}

	if _, err := g.backup(ReasonPreRestart); err != nil {
		log.Warn("pre-restart backup failed", "error", err)
	}

	if len(g.rebuild) > 0 {
		ctx, cancel := context.WithTimeout(ctx, rebuildTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, g.rebuild[0], g.rebuild[1:]...)
		cmd.Dir = filepath.Dir(g.path)
		cmd.Env = os.Environ()
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("restart aborted, rebuild failed: %w: %s", err, truncate(string(out), 2000))
		}
		log.Info("rebuild succeeded", "command", g.rebuild)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
