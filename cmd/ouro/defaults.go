package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/defaults"
)

// DefaultsCmd lists or restores the default files in the data directory.
func DefaultsCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "List the default data files, or restore them with --reset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ServerConfig.DataDir
			if reset {
				if err := defaults.Reset(dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Restored default files in %s\n", dir)
				return nil
			}
			names, err := defaults.ListDefaults()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Data directory: %s\n", dir)
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "overwrite the default files (conversation and state are kept)")
	return cmd
}
