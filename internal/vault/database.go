package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// StaticCredentials are credentials of a database static role. Vault rotates
// the password on its own schedule.
type StaticCredentials struct {
	Username          string        `json:"username"`
	Password          string        `json:"password"`
	LastVaultRotation time.Time     `json:"last_vault_rotation"`
	RotationPeriod    time.Duration `json:"rotation_period"`
	TTL               time.Duration `json:"ttl"`
}

// FetchCredentials issues dynamic credentials for role from the configured
// database mount.
func (c *Client) FetchCredentials(ctx context.Context, role string) (provider.Credentials, error) {
	return c.DatabaseCredentials(ctx, c.cfg.DatabaseMount, role)
}

// DatabaseCredentials reads <mount>/creds/<role>. Every call creates a new
// lease in Vault.
func (c *Client) DatabaseCredentials(ctx context.Context, mount, role string) (provider.Credentials, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return provider.Credentials{}, err
	}

	path := mount + "/creds/" + role
	c.logger.Debug("Generating database credentials at %s", logging.Secret(path))

	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		// The database engine answers 400 "unknown role" for missing roles.
		return provider.Credentials{}, c.mapError("read", path, err, true)
	}
	if secret == nil || secret.Data == nil {
		return provider.Credentials{}, provider.NotFoundError{Provider: ProviderName, Key: path}
	}

	username, err := stringField(secret.Data, "username")
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("vault response for %s: %w", path, err)
	}
	password, err := stringField(secret.Data, "password")
	if err != nil {
		return provider.Credentials{}, fmt.Errorf("vault response for %s: %w", path, err)
	}

	lease := time.Duration(secret.LeaseDuration) * time.Second
	if lease <= 0 {
		lease = provider.DefaultLeaseDuration
	}

	return provider.Credentials{
		Username:      username,
		Password:      password,
		LeaseID:       secret.LeaseID,
		LeaseDuration: lease,
		Renewable:     secret.Renewable,
		Metadata: map[string]string{
			"source": "vault:" + path,
			"path":   path,
		},
	}, nil
}

// StaticCredentials reads <mount>/static-creds/<role>.
func (c *Client) StaticCredentials(ctx context.Context, mount, role string) (StaticCredentials, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return StaticCredentials{}, err
	}

	path := mount + "/static-creds/" + role
	c.logger.Debug("Reading static database credentials at %s", logging.Secret(path))

	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return StaticCredentials{}, c.mapError("read", path, err, false)
	}
	if secret == nil || secret.Data == nil {
		return StaticCredentials{}, provider.NotFoundError{Provider: ProviderName, Key: path}
	}

	username, err := stringField(secret.Data, "username")
	if err != nil {
		return StaticCredentials{}, fmt.Errorf("vault response for %s: %w", path, err)
	}
	password, err := stringField(secret.Data, "password")
	if err != nil {
		return StaticCredentials{}, fmt.Errorf("vault response for %s: %w", path, err)
	}

	creds := StaticCredentials{
		Username:       username,
		Password:       password,
		RotationPeriod: secondsField(secret.Data, "rotation_period"),
		TTL:            secondsField(secret.Data, "ttl"),
	}
	if raw, ok := secret.Data["last_vault_rotation"].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			creds.LastVaultRotation = ts
		}
	}
	return creds, nil
}

func stringField(data map[string]interface{}, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("missing %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T, not a string", key, raw)
	}
	return s, nil
}

// secondsField reads an integer number of seconds. The API client decodes
// numbers as json.Number.
func secondsField(data map[string]interface{}, key string) time.Duration {
	var n int64
	switch v := data[key].(type) {
	case json.Number:
		n, _ = v.Int64()
	case float64:
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case string:
		n, _ = strconv.ParseInt(v, 10, 64)
	}
	return time.Duration(n) * time.Second
}
