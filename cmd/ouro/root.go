package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/config"
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd(c *config.Config, version string) *cobra.Command {
	ServerConfig = c
	if version != "" {
		Version = version
	}

	rootCmd := &cobra.Command{
		Use:   "ouro",
		Short: "ouro - a self-modifying agent",
		Long: `ouro talks to a language model in a loop, carries out the actions it asks for
and feeds the results back. It listens on the console, Telegram, a mentions feed,
reminder files and an HTTP inbox.

Just type 'ouro' to start the agent. Use --pipe "prompt" for a single round-trip.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if pipePrompt != "" {
				return runPipe(cmd.Context(), ServerConfig, pipePrompt)
			}
			return runAgent(cmd.Context(), ServerConfig)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <data dir>/ouro.yaml)")
	rootCmd.PersistentFlags().StringVar(&modeArg, "mode", "", "run mode: interactive or autonomous")
	rootCmd.PersistentFlags().BoolVar(&telegram, "telegram", false, "enable the Telegram channel")
	rootCmd.PersistentFlags().BoolVar(&noTelegram, "no-telegram", false, "disable the Telegram channel")
	rootCmd.PersistentFlags().BoolVar(&webhook, "webhook", false, "enable the HTTP inbox")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.MarkFlagsMutuallyExclusive("telegram", "no-telegram")

	// Root-only flags
	rootCmd.Flags().StringVar(&pipePrompt, "pipe", "", "answer one prompt with a single model round-trip and exit")

	// Add commands
	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(PipeCmd())
	rootCmd.AddCommand(SuperviseCmd())
	rootCmd.AddCommand(BackupsCmd())
	rootCmd.AddCommand(MemoryCmd())
	rootCmd.AddCommand(SecretsCmd())
	rootCmd.AddCommand(DefaultsCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}

// loadConfig overlays the config file, the environment and the flags on the
// embedded defaults, fills secrets from the keychain and validates the result.
func loadConfig(cmd *cobra.Command) error {
	c := ServerConfig
	path := cfgFile
	if path == "" {
		path = filepath.Join(c.DataDir, "ouro.yaml")
	}
	if err := c.Overlay(path); err != nil {
		return err
	}
	c.ApplyEnv()

	flags := cmd.Flags()
	if modeArg != "" {
		c.Mode = modeArg
	}
	if flags.Changed("telegram") {
		c.Channels.Telegram.Enabled = telegram
	}
	if flags.Changed("no-telegram") {
		c.Channels.Telegram.Enabled = !noTelegram
	}
	if flags.Changed("webhook") {
		c.Channels.Webhook.Enabled = webhook
	}
	if verbose {
		c.Logging.Level = "debug"
	}
	c.ResolveSecrets()

	if err := c.Validate(); err != nil {
		return err
	}
	return nil
}

// VersionCmd prints the build version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ouro %s\n", Version)
		},
	}
}
