package vault

import (
	"time"

	dserrors "github.com/systmms/leasekeeper/internal/errors"
)

// Auth methods.
const (
	AuthToken      = "token"
	AuthAppRole    = "approle"
	AuthUserpass   = "userpass"
	AuthKubernetes = "kubernetes"
)

const (
	DefaultKVMount       = "secret"
	DefaultDatabaseMount = "database"
	DefaultTimeout       = 30 * time.Second

	defaultK8sTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

// Config holds Vault connection and authentication settings.
type Config struct {
	Address    string `yaml:"address"`
	Namespace  string `yaml:"namespace"`
	AuthMethod string `yaml:"auth_method"` // token, approle, userpass, kubernetes

	Token string `yaml:"token"` // discouraged, use VAULT_TOKEN

	RoleID       string `yaml:"role_id"`
	SecretID     string `yaml:"secret_id"`
	AppRoleMount string `yaml:"approle_mount"`

	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	UserpassMount string `yaml:"userpass_mount"`

	KubernetesRole      string `yaml:"kubernetes_role"`
	KubernetesMount     string `yaml:"kubernetes_mount"`
	KubernetesTokenPath string `yaml:"kubernetes_token_path"`

	KVMount       string `yaml:"kv_mount"`
	DatabaseMount string `yaml:"database_mount"`

	CACert     string        `yaml:"ca_cert"`
	SkipVerify bool          `yaml:"skip_verify"`
	Timeout    time.Duration `yaml:"timeout"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.AuthMethod == "" {
		if c.RoleID != "" {
			c.AuthMethod = AuthAppRole
		} else {
			c.AuthMethod = AuthToken
		}
	}
	if c.AppRoleMount == "" {
		c.AppRoleMount = "approle"
	}
	if c.UserpassMount == "" {
		c.UserpassMount = "userpass"
	}
	if c.KubernetesMount == "" {
		c.KubernetesMount = "kubernetes"
	}
	if c.KubernetesTokenPath == "" {
		c.KubernetesTokenPath = defaultK8sTokenPath
	}
	if c.KVMount == "" {
		c.KVMount = DefaultKVMount
	}
	if c.DatabaseMount == "" {
		c.DatabaseMount = DefaultDatabaseMount
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate checks that the selected auth method has what it needs.
func (c Config) Validate() error {
	c = c.withDefaults()

	if c.Address == "" {
		return dserrors.ConfigError{
			Field:      "vault.address",
			Message:    "Vault address is required",
			Suggestion: "Set 'vault.address' in leasekeeper.yaml or the VAULT_ADDR environment variable",
		}
	}

	switch c.AuthMethod {
	case AuthToken:
		if c.Token == "" {
			return dserrors.ConfigError{
				Field:      "vault.token",
				Message:    "Vault token is required for token auth",
				Suggestion: "Set the VAULT_TOKEN environment variable",
			}
		}
	case AuthAppRole:
		if c.RoleID == "" {
			return dserrors.ConfigError{
				Field:      "vault.role_id",
				Message:    "AppRole role ID is required",
				Suggestion: "Set 'vault.role_id' or VAULT_ROLE_ID",
			}
		}
		if c.SecretID == "" {
			return dserrors.ConfigError{
				Field:      "vault.secret_id",
				Message:    "AppRole secret ID is required",
				Suggestion: "Set VAULT_SECRET_ID or store it in the OS keyring with 'vault.secret_id_keyring'",
			}
		}
	case AuthUserpass:
		if c.Username == "" {
			return dserrors.ConfigError{
				Field:      "vault.username",
				Message:    "Username is required for userpass auth",
				Suggestion: "Set 'vault.username' in leasekeeper.yaml",
			}
		}
	case AuthKubernetes:
		if c.KubernetesRole == "" {
			return dserrors.ConfigError{
				Field:      "vault.kubernetes_role",
				Message:    "Kubernetes role is required for kubernetes auth",
				Suggestion: "Set 'vault.kubernetes_role' in leasekeeper.yaml",
			}
		}
	default:
		return dserrors.ConfigError{
			Field:      "vault.auth_method",
			Value:      c.AuthMethod,
			Message:    "unsupported authentication method",
			Suggestion: "Supported methods: token, approle, userpass, kubernetes",
		}
	}

	return nil
}
