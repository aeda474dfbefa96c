package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/daemon"
	"github.com/neboloop/ouro/internal/logging"
)

// SuperviseCmd runs the agent as a child process and keeps it alive.
func SuperviseCmd() *cobra.Command {
	var staleAfter time.Duration
	var maxFailures int

	cmd := &cobra.Command{
		Use:   "supervise [-- agent flags]",
		Short: "Run the agent under a supervisor that restarts it",
		Long: `Runs 'ouro run' as a child. Exit code 42 restarts it, a heartbeat older than
--stale-after kills and restarts it, and three failures in a row stop the supervisor.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ServerConfig
			if _, err := logging.Setup(logging.Options{Level: c.Logging.Level, Journal: c.Logging.Journal}); err != nil {
				return err
			}

			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			argv := append([]string{exe, "run"}, childFlags(cmd)...)
			argv = append(argv, args...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return daemon.NewSupervisor(daemon.SupervisorConfig{
				Command:       argv,
				HeartbeatFile: c.Path(c.Engine.HeartbeatFile),
				StaleAfter:    staleAfter,
				MaxFailures:   maxFailures,
				Stdin:         os.Stdin,
				Stdout:        os.Stdout,
				Stderr:        os.Stderr,
			}).Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&staleAfter, "stale-after", daemon.DefaultStaleAfter, "heartbeat age that counts as a hang")
	cmd.Flags().IntVar(&maxFailures, "max-failures", daemon.DefaultMaxFailures, "consecutive failures before giving up")
	return cmd
}

// childFlags forwards the global flags given to supervise.
func childFlags(cmd *cobra.Command) []string {
	var out []string
	flags := cmd.Flags()
	if cfgFile != "" {
		out = append(out, "--config", cfgFile)
	}
	if modeArg != "" {
		out = append(out, "--mode", modeArg)
	}
	if flags.Changed("telegram") && telegram {
		out = append(out, "--telegram")
	}
	if flags.Changed("no-telegram") && noTelegram {
		out = append(out, "--no-telegram")
	}
	if flags.Changed("webhook") && webhook {
		out = append(out, "--webhook")
	}
	if verbose {
		out = append(out, "-v")
	}
	return out
}
