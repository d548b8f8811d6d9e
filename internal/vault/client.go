// Package vault talks to HashiCorp Vault through the official API client.
//
// Client authenticates with the configured auth method, re-authenticates
// lazily when its token expires or is rejected, and exposes the reads the
// rest of leasekeeper needs: dynamic and static database credentials, KV v1
// and v2 secrets, health, and lease revocation. Client implements
// provider.CredentialProvider over the database secrets engine.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// ProviderName identifies Vault in errors and metrics.
const ProviderName = "vault"

// tokenRenewSkew re-authenticates this long before the token TTL runs out.
const tokenRenewSkew = 10 * time.Second

// Client is an authenticated Vault client.
type Client struct {
	cfg    Config
	api    *api.Client
	logger *logging.Logger
	now    func() time.Time

	mu            sync.Mutex
	authenticated bool
	tokenExpires  time.Time // zero means the token does not expire

	mountMu       sync.Mutex
	mountVersions map[string]int
}

var _ provider.CredentialProvider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a client for cfg. It does not contact Vault; call Login
// or any read to authenticate.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiCfg := api.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	apiCfg.Address = cfg.Address
	apiCfg.Timeout = cfg.Timeout

	if cfg.CACert != "" || cfg.SkipVerify {
		if err := apiCfg.ConfigureTLS(&api.TLSConfig{
			CACert:   cfg.CACert,
			Insecure: cfg.SkipVerify,
		}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	apiClient, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	// NewClient picks up VAULT_TOKEN on its own; the token is set by Login.
	apiClient.ClearToken()
	if cfg.Namespace != "" {
		apiClient.SetNamespace(cfg.Namespace)
	}

	c := &Client{
		cfg:           cfg,
		api:           apiClient,
		logger:        logging.New(false, false),
		now:           time.Now,
		mountVersions: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns "vault".
func (c *Client) Name() string {
	return ProviderName
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Login authenticates with the configured method and replaces the token.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	c.authenticated = false

	var (
		secret *api.Secret
		err    error
	)

	switch c.cfg.AuthMethod {
	case AuthToken:
		c.api.SetToken(c.cfg.Token)
		secret, err = c.api.Auth().Token().LookupSelfWithContext(ctx)
		if err == nil {
			ttl, _ := secret.TokenTTL()
			c.setAuthenticated(ttl)
			c.logger.Debug("Authenticated with Vault using token")
			return nil
		}
	case AuthAppRole:
		secret, err = c.api.Logical().WriteWithContext(ctx, "auth/"+c.cfg.AppRoleMount+"/login", map[string]interface{}{
			"role_id":   c.cfg.RoleID,
			"secret_id": c.cfg.SecretID,
		})
	case AuthUserpass:
		password := c.cfg.Password
		if password == "" {
			password = os.Getenv("VAULT_USERPASS_PASSWORD")
		}
		secret, err = c.api.Logical().WriteWithContext(ctx, "auth/"+c.cfg.UserpassMount+"/login/"+c.cfg.Username, map[string]interface{}{
			"password": password,
		})
	case AuthKubernetes:
		jwt, readErr := os.ReadFile(c.cfg.KubernetesTokenPath)
		if readErr != nil {
			return provider.AuthError{Provider: ProviderName, Message: "failed to read kubernetes service account token", Err: readErr}
		}
		secret, err = c.api.Logical().WriteWithContext(ctx, "auth/"+c.cfg.KubernetesMount+"/login", map[string]interface{}{
			"role": c.cfg.KubernetesRole,
			"jwt":  strings.TrimSpace(string(jwt)),
		})
	default:
		return fmt.Errorf("unsupported auth method: %s", c.cfg.AuthMethod)
	}

	if err != nil {
		c.logger.Error("Failed to authenticate with Vault: %v", err)
		return provider.AuthError{Provider: ProviderName, Message: c.cfg.AuthMethod + " login failed", Err: err}
	}
	if secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "" {
		return provider.AuthError{Provider: ProviderName, Message: c.cfg.AuthMethod + " login returned no token"}
	}

	c.api.SetToken(secret.Auth.ClientToken)
	c.setAuthenticated(time.Duration(secret.Auth.LeaseDuration) * time.Second)
	c.logger.Info("Successfully authenticated with Vault")
	return nil
}

func (c *Client) setAuthenticated(ttl time.Duration) {
	c.authenticated = true
	if ttl > 0 {
		c.tokenExpires = c.now().Add(ttl)
	} else {
		c.tokenExpires = time.Time{}
	}
}

// ensureAuthenticated logs in when there is no usable token.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authenticated {
		if c.tokenExpires.IsZero() || c.now().Add(tokenRenewSkew).Before(c.tokenExpires) {
			return nil
		}
		c.logger.Info("Vault token expired or about to expire, re-authenticating")
	}
	return c.loginLocked(ctx)
}

// invalidate forces a login on the next call.
func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = false
}

// IsAuthenticated checks the current token against Vault.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	c.mu.Lock()
	authed := c.authenticated
	c.mu.Unlock()
	if !authed {
		return false
	}

	if _, err := c.api.Auth().Token().LookupSelfWithContext(ctx); err != nil {
		c.invalidate()
		return false
	}
	return true
}

// HealthStatus is the subset of sys/health leasekeeper reports.
type HealthStatus struct {
	Initialized   bool   `json:"initialized"`
	Sealed        bool   `json:"sealed"`
	Standby       bool   `json:"standby"`
	Version       string `json:"version"`
	Authenticated bool   `json:"authenticated"`
}

// Healthy reports whether Vault can serve requests.
func (h HealthStatus) Healthy() bool {
	return h.Initialized && !h.Sealed
}

// Health queries sys/health and verifies the token.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	health, err := c.api.Sys().HealthWithContext(ctx)
	if err != nil {
		return HealthStatus{}, fmt.Errorf("vault health check failed: %w", err)
	}
	return HealthStatus{
		Initialized:   health.Initialized,
		Sealed:        health.Sealed,
		Standby:       health.Standby,
		Version:       health.Version,
		Authenticated: c.IsAuthenticated(ctx),
	}, nil
}

// Revoke revokes a lease.
func (c *Client) Revoke(ctx context.Context, leaseID string) error {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return err
	}
	if err := c.api.Sys().RevokeWithContext(ctx, leaseID); err != nil {
		return c.mapError("revoke", leaseID, err, false)
	}
	c.logger.Debug("Revoked lease %s", logging.Secret(leaseID))
	return nil
}

// mapError turns API errors into the provider error taxonomy. A 403 also
// drops the token so the next call logs in again.
func (c *Client) mapError(op, path string, err error, badRequestIsNotFound bool) error {
	if errors.Is(err, api.ErrSecretNotFound) {
		return provider.NotFoundError{Provider: ProviderName, Key: path}
	}

	var respErr *api.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return provider.NotFoundError{Provider: ProviderName, Key: path}
		case respErr.StatusCode == http.StatusBadRequest && badRequestIsNotFound:
			return provider.NotFoundError{Provider: ProviderName, Key: path}
		case respErr.StatusCode == http.StatusForbidden:
			c.invalidate()
			return provider.AuthError{Provider: ProviderName, Message: "permission denied for " + path, Err: err}
		}
	}

	return fmt.Errorf("vault %s %s: %w", op, path, err)
}
