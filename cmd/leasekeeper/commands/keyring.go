package commands

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
)

// Defaults used when the configuration names no keyring item.
const (
	DefaultKeyringService = "leasekeeper"
	DefaultKeyringAccount = "vault-secret-id"
)

func NewKeyringCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the Vault secret ID stored in the OS keyring",
	}
	cmd.AddCommand(newKeyringSetCommand(cfg))
	return cmd
}

func newKeyringSetCommand(cfg *config.Config) *cobra.Command {
	var (
		service  string
		account  string
		secretID string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the AppRole secret ID in the OS keyring",
		Long: `Store the AppRole secret ID in the OS keyring so it does not have to live in
the configuration file. The secret ID is read from stdin unless --secret-id is
given.

Reference it from leasekeeper.yaml:

  vault:
    auth_method: approle
    role_id: orders-app
    secret_id_keyring:
      service: leasekeeper
      account: vault-secret-id`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := config.KeyringRef{Service: DefaultKeyringService, Account: DefaultKeyringAccount}

			// The configured item wins over the defaults; flags win over both.
			if err := cfg.Load(); err == nil && cfg.Definition.Vault.SecretIDKeyring != nil {
				ref = *cfg.Definition.Vault.SecretIDKeyring
			}
			if cmd.Flags().Changed("service") {
				ref.Service = service
			}
			if cmd.Flags().Changed("account") {
				ref.Account = account
			}

			if secretID == "" {
				var err error
				secretID, err = readSecret(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			if secretID == "" {
				return dserrors.UserError{
					Message:    "No secret ID given",
					Suggestion: "Pipe the secret ID on stdin or pass --secret-id",
				}
			}

			if err := config.StoreSecretID(ref, secretID); err != nil {
				return dserrors.UserError{
					Message:    "Failed to store the secret ID in the OS keyring",
					Details:    err.Error(),
					Suggestion: "Check that a keyring service (Keychain, Secret Service, Credential Manager) is available",
					Err:        err,
				}
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Stored secret ID in keyring item %s/%s\n", ref.Service, ref.Account)
			return err
		},
	}

	cmd.Flags().StringVar(&service, "service", DefaultKeyringService, "Keyring service name")
	cmd.Flags().StringVar(&account, "account", DefaultKeyringAccount, "Keyring account name")
	cmd.Flags().StringVar(&secretID, "secret-id", "", "Secret ID (default: read from stdin)")
	return cmd
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read secret ID: %w", err)
	}
	return strings.TrimSpace(line), nil
}
