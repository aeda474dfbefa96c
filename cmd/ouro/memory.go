package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/db"
	"github.com/neboloop/ouro/internal/memory"
)

// MemoryCmd inspects long-term memory and the message archive.
func MemoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect saved memories and archived messages",
	}
	cmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "maximum results")

	cmd.AddCommand(&cobra.Command{
		Use:   "list [prefix]",
		Short: "List memories, most recently updated first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.Store) error {
				prefix := ""
				if len(args) == 1 {
					prefix = args[0]
				}
				entries, err := store.List(cmd.Context(), prefix, limit)
				if err != nil {
					return err
				}
				printEntries(cmd, entries)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Search memory keys and values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.Store) error {
				entries, err := store.Search(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				printEntries(cmd, entries)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *memory.Store) error {
				e, err := store.Get(cmd.Context(), args[0])
				if errors.Is(err, memory.ErrNotFound) {
					return fmt.Errorf("no memory named %q", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), e.Value)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "archive <query>",
		Short: "Search messages that were compacted out of the conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := ServerConfig
			archive := memory.NewArchive(c.Path(c.Memory.ArchiveFile))
			records, err := archive.Search(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archived messages match.")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", r.ArchivedAt.Local().Format(timeLayout), r.Role, oneLine(r.Content, 200))
			}
			return nil
		},
	})

	return cmd
}

func withStore(fn func(*memory.Store) error) error {
	conn, err := db.Open(databasePath(ServerConfig))
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(memory.NewStore(conn))
}

func printEntries(cmd *cobra.Command, entries []memory.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No memories found.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s = %s\n", e.UpdatedAt.Local().Format(timeLayout), e.Key, oneLine(e.Value, 120))
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
