package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neboloop/ouro/internal/keyring"
)

var secretAccounts = []string{"api-key", "telegram-token", "webhook-secret", "mentions-token"}

// SecretsCmd stores secrets in the OS keychain so they stay out of the
// config file.
func SecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store secrets in the OS keychain",
		Long:  "Accounts: " + strings.Join(secretAccounts, ", "),
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "set <account>",
		Short:     "Read a secret from stdin and store it",
		Args:      cobra.ExactArgs(1),
		ValidArgs: secretAccounts,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAccount(args[0]); err != nil {
				return err
			}
			if !keyring.Available() {
				return fmt.Errorf("OS keychain is not available")
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter %s: ", args[0])
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return err
			}
			value := strings.TrimSpace(line)
			if value == "" {
				return fmt.Errorf("empty secret")
			}
			if err := keyring.Set(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "delete <account>",
		Short:     "Remove a stored secret",
		Args:      cobra.ExactArgs(1),
		ValidArgs: secretAccounts,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAccount(args[0]); err != nil {
				return err
			}
			if err := keyring.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func checkAccount(name string) error {
	for _, a := range secretAccounts {
		if a == name {
			return nil
		}
	}
	return fmt.Errorf("unknown account %q (want one of: %s)", name, strings.Join(secretAccounts, ", "))
}
