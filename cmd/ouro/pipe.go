package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/channels"
	"github.com/neboloop/ouro/internal/config"
	"github.com/neboloop/ouro/internal/defaults"
	"github.com/neboloop/ouro/internal/inbox"
	"github.com/neboloop/ouro/internal/logging"
)

// PipeCmd answers one prompt. The prompt is the arguments, or stdin when
// there are none; RUN_SELF uses the stdin form.
func PipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipe [prompt]",
		Short: "Answer one prompt with a single model round-trip and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				prompt = string(data)
			}
			prompt = strings.TrimSpace(prompt)
			if prompt == "" {
				return fmt.Errorf("empty prompt")
			}
			return runPipe(cmd.Context(), ServerConfig, prompt)
		},
	}
}

// runPipe takes no lock: it runs beside the agent that spawned it and
// shares only the database.
func runPipe(ctx context.Context, c *config.Config, prompt string) error {
	if err := defaults.EnsureDataDir(c.DataDir); err != nil {
		return err
	}
	if _, err := logging.Setup(logging.Options{Level: c.Logging.Level, File: c.Path(c.Logging.File)}); err != nil {
		return err
	}
	defer logging.Close()
	logging.Disable()

	console := channels.NewConsole(strings.NewReader(""), os.Stdout)
	a, err := wire(c, console)
	if err != nil {
		return err
	}
	defer a.close()

	return a.engine.Pipe(ctx, prompt, inbox.Address{Channel: channels.ConsoleName})
}
