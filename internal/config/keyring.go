package config

import (
	"errors"

	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/leasekeeper/internal/errors"
)

// resolveSecretID fills the AppRole secret ID from the OS keyring when it is
// not set in the file or environment.
func resolveSecretID(d *Definition) error {
	ref := d.Vault.SecretIDKeyring
	if ref == nil || d.Vault.SecretID != "" {
		return nil
	}

	secret, err := keyring.Get(ref.Service, ref.Account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return dserrors.ConfigError{
				Field:      "vault.secret_id_keyring",
				Value:      ref.Service + "/" + ref.Account,
				Message:    "secret ID not found in the OS keyring",
				Suggestion: "Store it with 'leasekeeper keyring set' or set VAULT_SECRET_ID",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read Vault secret ID from the OS keyring",
			Details:    err.Error(),
			Suggestion: "Check that a keyring service (Keychain, Secret Service, Credential Manager) is available",
			Err:        err,
		}
	}

	d.Vault.SecretID = secret
	return nil
}

// StoreSecretID saves an AppRole secret ID in the OS keyring.
func StoreSecretID(ref KeyringRef, secretID string) error {
	return keyring.Set(ref.Service, ref.Account, secretID)
}
