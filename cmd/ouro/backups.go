package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/governor"
)

// BackupsCmd manages snapshots of the guarded file.
func BackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Manage backups of the guarded source file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gov, err := guardedGovernor()
			if err != nil {
				return err
			}
			list, err := gov.List()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTIME\tREASON\tSIZE\t")
			for _, b := range list {
				reason := b.Reason
				if b.KnownGood {
					reason = "known-good"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t\n", b.Name, b.Time.Format(timeLayout), reason, b.Size)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore [name]",
		Short: "Restore a backup (default: last-known-good)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gov, err := guardedGovernor()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			b, err := gov.Restore(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s from %s\n", gov.Path(), b.Name)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "mark-good",
		Short: "Validate the guarded file and make it the last-known-good snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gov, err := guardedGovernor()
			if err != nil {
				return err
			}
			if err := gov.MarkKnownGood(cmd.Context()); err != nil {
				return err
			}
			b, err := gov.KnownGood()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %s as known-good (%s)\n", gov.Path(), b.Time.Format(timeLayout))
			return nil
		},
	})

	return cmd
}

const timeLayout = "2006-01-02 15:04:05"

func guardedGovernor() (*governor.Governor, error) {
	gov, err := openGovernor(ServerConfig)
	if err != nil {
		return nil, err
	}
	if gov.Path() == "" {
		return nil, fmt.Errorf("%w (set governor.guarded_file or OURO_GUARDED_FILE)", governor.ErrNotGuarded)
	}
	return gov, nil
}
