// Package config loads leasekeeper.yaml.
//
// Loading happens in four steps: the YAML document is checked against an
// embedded JSON schema, decoded, overlaid with VAULT_* and AWS_REGION
// environment variables, and finally checked for cross-field consistency.
// A Vault AppRole secret ID may be kept in the OS keyring instead of the file.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/systmms/leasekeeper/internal/awssm"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/internal/metrics"
	"github.com/systmms/leasekeeper/internal/sqlpool"
	"github.com/systmms/leasekeeper/internal/vault"
	"github.com/systmms/leasekeeper/pkg/cache"
	"github.com/systmms/leasekeeper/pkg/lease"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "leasekeeper.yaml"

// Pool providers.
const (
	ProviderVault = "vault"
	ProviderAWS   = "aws"
)

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger

	// AllowMissing makes a missing file load as an empty document, so the
	// environment alone can configure Vault.
	AllowMissing bool

	Definition *Definition
}

// Definition represents the leasekeeper.yaml structure
type Definition struct {
	Version int                   `yaml:"version"`
	Vault   VaultConfig           `yaml:"vault"`
	AWS     awssm.Config          `yaml:"aws"`
	Cache   CacheConfig           `yaml:"cache"`
	Pools   map[string]PoolConfig `yaml:"pools"`
	Metrics metrics.ServerConfig  `yaml:"metrics"`
}

// VaultConfig is the Vault client configuration plus an optional keyring
// location for the AppRole secret ID.
type VaultConfig struct {
	vault.Config    `yaml:",inline"`
	SecretIDKeyring *KeyringRef `yaml:"secret_id_keyring,omitempty"`
}

// KeyringRef names an OS keyring item.
type KeyringRef struct {
	Service string `yaml:"service"`
	Account string `yaml:"account"`
}

// CacheConfig configures the shared secret cache.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxSize    int           `yaml:"max_size"`
}

// PoolConfig describes one leased connection pool.
type PoolConfig struct {
	Provider string `yaml:"provider"`
	Role     string `yaml:"role"`

	Driver         string `yaml:"driver"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	SSLMode        string `yaml:"sslmode"`
	TLS            string `yaml:"tls"`
	ConnectTimeout int    `yaml:"connect_timeout"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	RefreshBuffer   float64       `yaml:"refresh_buffer"`
	ValidationQuery string        `yaml:"validation_query"`
	CheckInterval   time.Duration `yaml:"check_interval"`
}

// LeasePoolConfig returns the static settings handed to the SQL pool factory.
func (p PoolConfig) LeasePoolConfig() lease.PoolConfig {
	cfg := lease.PoolConfig{
		sqlpool.KeyDriver: p.Driver,
		sqlpool.KeyHost:   p.Host,
	}
	set := func(key, value string) {
		if value != "" {
			cfg[key] = value
		}
	}
	setInt := func(key string, value int) {
		if value > 0 {
			cfg[key] = strconv.Itoa(value)
		}
	}
	setDuration := func(key string, value time.Duration) {
		if value > 0 {
			cfg[key] = value.String()
		}
	}

	setInt(sqlpool.KeyPort, p.Port)
	set(sqlpool.KeyDatabase, p.Database)
	set(sqlpool.KeySSLMode, p.SSLMode)
	set(sqlpool.KeyTLS, p.TLS)
	setInt(sqlpool.KeyConnectTimeout, p.ConnectTimeout)
	setInt(sqlpool.KeyMaxOpenConns, p.MaxOpenConns)
	setInt(sqlpool.KeyMaxIdleConns, p.MaxIdleConns)
	setDuration(sqlpool.KeyConnMaxLifetime, p.ConnMaxLifetime)
	setDuration(sqlpool.KeyConnMaxIdleTime, p.ConnMaxIdleTime)
	return cfg
}

// Load reads, validates and parses the configuration file
func (c *Config) Load() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}

	data, err := os.ReadFile(c.Path)
	switch {
	case err == nil:
	case os.IsNotExist(err) && c.AllowMissing:
		data = nil
	case os.IsNotExist(err):
		return dserrors.ConfigError{
			Field:      "path",
			Value:      c.Path,
			Message:    "configuration file not found",
			Suggestion: "Create leasekeeper.yaml or pass --config with the path to your configuration",
		}
	default:
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	applyEnv(def, os.Getenv)

	if err := resolveSecretID(def); err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded configuration from %s (%d pools)", c.Path, len(def.Pools))
	}
	return nil
}

// Parse validates data against the schema and decodes it with defaults
// applied. Empty data yields the defaults.
func Parse(data []byte) (*Definition, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	def := &Definition{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	def.applyDefaults()
	return def, nil
}

func (d *Definition) applyDefaults() {
	if d.Version == 0 {
		d.Version = 1
	}
	if d.Cache.DefaultTTL <= 0 {
		d.Cache.DefaultTTL = cache.DefaultTTL
	}
	if d.Cache.MaxSize <= 0 {
		d.Cache.MaxSize = cache.DefaultMaxSize
	}

	defaults := metrics.DefaultServerConfig()
	if d.Metrics.Port == 0 {
		d.Metrics.Port = defaults.Port
	}
	if d.Metrics.Path == "" {
		d.Metrics.Path = defaults.Path
	}
	if d.Metrics.ReadTimeout <= 0 {
		d.Metrics.ReadTimeout = defaults.ReadTimeout
	}
	if d.Metrics.WriteTimeout <= 0 {
		d.Metrics.WriteTimeout = defaults.WriteTimeout
	}

	for name, p := range d.Pools {
		if p.Provider == "" {
			p.Provider = ProviderVault
		}
		if p.RefreshBuffer == 0 {
			p.RefreshBuffer = lease.DefaultRefreshBuffer
		}
		if p.ValidationQuery == "" {
			p.ValidationQuery = lease.DefaultValidationQuery
		}
		if p.CheckInterval <= 0 {
			p.CheckInterval = lease.DefaultCheckInterval
		}
		d.Pools[name] = p
	}
}

// applyEnv overlays the standard Vault and AWS environment variables. A set
// variable wins over the file.
func applyEnv(d *Definition, getenv func(string) string) {
	override := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	override(&d.Vault.Address, "VAULT_ADDR")
	override(&d.Vault.Token, "VAULT_TOKEN")
	override(&d.Vault.Namespace, "VAULT_NAMESPACE")
	override(&d.Vault.RoleID, "VAULT_ROLE_ID")
	override(&d.Vault.SecretID, "VAULT_SECRET_ID")
	override(&d.Vault.CACert, "VAULT_CACERT")
	override(&d.AWS.Region, "AWS_REGION")

	if v := getenv("VAULT_SKIP_VERIFY"); v != "" {
		if skip, err := strconv.ParseBool(v); err == nil {
			d.Vault.SkipVerify = skip
		}
	}
}

// usesVault reports whether anything in the document needs a Vault client.
func (d *Definition) usesVault() bool {
	if d.Vault.Address != "" {
		return true
	}
	for _, p := range d.Pools {
		if p.Provider == ProviderVault {
			return true
		}
	}
	return false
}

// Validate checks cross-field constraints the schema cannot express.
func (d *Definition) Validate() error {
	if d.usesVault() {
		if err := d.Vault.Validate(); err != nil {
			return err
		}
	}

	for _, name := range d.PoolNames() {
		p := d.Pools[name]
		field := "pools." + name

		if _, err := sqlpool.DriverName(p.Driver); err != nil {
			return dserrors.ConfigError{
				Field:      field + ".driver",
				Value:      p.Driver,
				Message:    "unsupported database driver",
				Suggestion: "Use one of: postgres, postgresql, mysql, mariadb",
			}
		}
		if p.RefreshBuffer <= 0 || p.RefreshBuffer > 1 {
			return dserrors.ConfigError{
				Field:      field + ".refresh_buffer",
				Value:      p.RefreshBuffer,
				Message:    "must be in (0, 1]",
				Suggestion: "Use 0.8 to refresh after 80% of the lease",
			}
		}
		if p.MaxOpenConns > 0 && p.MaxIdleConns > p.MaxOpenConns {
			return dserrors.ConfigError{
				Field:      field + ".max_idle_conns",
				Value:      p.MaxIdleConns,
				Message:    fmt.Sprintf("exceeds max_open_conns (%d)", p.MaxOpenConns),
				Suggestion: "Lower max_idle_conns or raise max_open_conns",
			}
		}
	}
	return nil
}

// PoolNames returns the configured pool names in sorted order.
func (d *Definition) PoolNames() []string {
	names := make([]string, 0, len(d.Pools))
	for name := range d.Pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPool returns the configuration of a named pool
func (c *Config) GetPool(name string) (PoolConfig, error) {
	if c.Definition == nil {
		return PoolConfig{}, dserrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	pool, ok := c.Definition.Pools[name]
	if !ok {
		suggestion := "Define the pool under 'pools' in leasekeeper.yaml"
		if available := c.Definition.PoolNames(); len(available) > 0 {
			suggestion = fmt.Sprintf("Available pools: %s", strings.Join(available, ", "))
		}
		return PoolConfig{}, dserrors.ConfigError{
			Field:      "pools",
			Value:      name,
			Message:    "pool not found",
			Suggestion: suggestion,
		}
	}
	return pool, nil
}
