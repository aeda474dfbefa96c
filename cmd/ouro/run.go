package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/neboloop/ouro/internal/channels"
	"github.com/neboloop/ouro/internal/config"
	"github.com/neboloop/ouro/internal/daemon"
	"github.com/neboloop/ouro/internal/defaults"
	"github.com/neboloop/ouro/internal/engine"
	"github.com/neboloop/ouro/internal/governor"
	"github.com/neboloop/ouro/internal/logging"
)

// RunCmd starts the agent (the default command).
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the agent and its channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), ServerConfig)
		},
	}
}

// runAgent serves until /quit, a signal or a restart request. A restart
// under the supervisor exits with governor.ExitRestart; standalone, the
// process replaces itself.
func runAgent(ctx context.Context, c *config.Config) error {
	err := serveAgent(ctx, c)
	if !errors.Is(err, engine.ErrRestart) {
		return err
	}
	if os.Getenv(daemon.EnvSupervised) == "1" {
		os.Exit(governor.ExitRestart)
	}
	fmt.Println("Restarting...")
	return governor.Exec()
}

func serveAgent(ctx context.Context, c *config.Config) error {
	if err := defaults.EnsureDataDir(c.DataDir); err != nil {
		return err
	}

	// Enforce single instance with lock file
	lockFile, err := acquireLock(c.DataDir)
	if err != nil {
		return fmt.Errorf("%w: ouro is already running for %s", err, c.DataDir)
	}
	defer releaseLock(lockFile)

	if _, err := logging.Setup(logging.Options{
		Level:   c.Logging.Level,
		File:    c.Path(c.Logging.File),
		Journal: c.Logging.Journal,
	}); err != nil {
		return err
	}
	defer logging.Close()
	log := logging.For("main")

	var console *channels.Console
	if c.Channels.Console {
		console = channels.NewConsole(os.Stdin, os.Stdout)
	}
	a, err := wire(c, console)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	for _, p := range a.pollers(console) {
		g.Go(func() error { return p.Run(gctx) })
	}
	if c.Channels.Webhook.Enabled {
		hook := channels.NewWebhook(channels.WebhookOptions{
			Addr:   c.Channels.Webhook.Addr,
			Secret: c.Channels.Webhook.Secret,
			Status: a.engine.Status,
		})
		a.router.Add(hook)
		g.Go(func() error { return channels.NewPoller(hook, a.queue, channels.PollerOptions{}).Run(gctx) })
		g.Go(func() error { return hook.Serve(gctx) })
	}

	var served error
	g.Go(func() error {
		// The engine ending for any reason ends the process.
		defer cancel()
		served = a.engine.Serve(gctx)
		if errors.Is(served, engine.ErrRestart) {
			return nil
		}
		return served
	})

	log.Info("ouro started", "version", Version, "mode", c.Mode, "channels", a.router.Names())
	err = g.Wait()
	if errors.Is(served, engine.ErrRestart) {
		return served
	}
	if err != nil {
		return err
	}
	log.Info("ouro stopped")
	return nil
}

// pollers returns one poller per enabled adapter and registers each
// adapter with the router. The schedule file watcher runs alongside its
// poller.
func (a *agent) pollers(console *channels.Console) []runner {
	c := a.cfg
	var out []runner

	if console != nil {
		out = append(out, channels.NewPoller(console, a.queue, channels.PollerOptions{}))
	}

	if tg := c.Channels.Telegram; tg.Enabled {
		if tg.Token == "" {
			logging.For("main").Warn("telegram enabled without a token; channel disabled")
		} else {
			adapter := channels.NewTelegram(channels.TelegramOptions{
				Token:        tg.Token,
				AllowedChats: tg.AllowedChats,
				PollTimeout:  tg.PollTimeout,
			})
			a.router.Add(adapter)
			out = append(out, channels.NewPoller(adapter, a.queue, channels.PollerOptions{}))
		}
	}

	if m := c.Channels.Mentions; m.Enabled {
		adapter := channels.NewMentions(channels.MentionsOptions{
			URL:           m.URL,
			ReplyURL:      m.ReplyURL,
			Token:         m.Token,
			IgnoreAuthors: m.IgnoreAuthors,
		})
		a.router.Add(adapter)
		interval := m.Interval
		if interval <= 0 {
			interval = channels.DefaultMentionsInterval
		}
		out = append(out, channels.NewPoller(adapter, a.queue, channels.PollerOptions{Interval: interval}))
	}

	if s := c.Channels.Schedule; s.RemindersFile != "" || s.TasksFile != "" {
		sched := channels.NewSchedule(channels.ScheduleOptions{
			RemindersFile: c.Path(s.RemindersFile),
			TasksFile:     c.Path(s.TasksFile),
		})
		a.router.Add(sched)
		interval := s.Interval
		if interval <= 0 {
			interval = channels.DefaultScheduleInterval
		}
		out = append(out,
			channels.NewPoller(sched, a.queue, channels.PollerOptions{Interval: interval, Kick: sched.Kick()}),
			runFunc(func(ctx context.Context) error {
				if err := sched.Watch(ctx); err != nil {
					logging.For("main").Warn("schedule files not watched", "error", err)
				}
				return nil
			}),
		)
	}
	return out
}

type runner interface {
	Run(ctx context.Context) error
}

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }
