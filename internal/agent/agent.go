// Package agent ties the Vault client, the shared secret cache and the
// KV and database readers together for the CLI.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/systmms/leasekeeper/internal/config"
	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/internal/secrets"
	"github.com/systmms/leasekeeper/internal/vault"
	"github.com/systmms/leasekeeper/pkg/cache"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// Backend is everything the agent needs from Vault. *vault.Client
// implements it.
type Backend interface {
	provider.CredentialProvider
	secrets.KVBackend
	secrets.DatabaseBackend
	Login(ctx context.Context) error
	Health(ctx context.Context) (vault.HealthStatus, error)
}

var _ Backend = (*vault.Client)(nil)

// Agent reads secrets through one cache shared by every reader.
type Agent struct {
	backend Backend
	cache   *cache.Cache
	logger  *logging.Logger

	KV       *secrets.KV
	Database *secrets.Database
}

type options struct {
	logger   *logging.Logger
	recorder cache.Recorder
	backend  Backend
}

// Option configures an Agent.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCacheRecorder reports cache events to r.
func WithCacheRecorder(r cache.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithBackend uses b instead of building a Vault client from the
// configuration.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// New creates an agent and authenticates to Vault.
func New(ctx context.Context, def *config.Definition, opts ...Option) (*Agent, error) {
	o := options{logger: logging.New(false, true)}
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		client, err := vault.NewClient(def.Vault.Config, vault.WithLogger(o.logger.Named("vault")))
		if err != nil {
			return nil, err
		}
		backend = client
	}

	if err := backend.Login(ctx); err != nil {
		return nil, fmt.Errorf("vault login: %w", err)
	}

	ttl := def.Cache.DefaultTTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	c := cache.New(
		cache.WithDefaultTTL(ttl),
		cache.WithMaxSize(def.Cache.MaxSize),
		cache.WithRecorder(o.recorder),
	)

	kvMount := def.Vault.KVMount
	if kvMount == "" {
		kvMount = vault.DefaultKVMount
	}
	dbMount := def.Vault.DatabaseMount
	if dbMount == "" {
		dbMount = vault.DefaultDatabaseMount
	}

	o.logger.Debug("Agent ready (kv mount %s, database mount %s, cache ttl %s)", kvMount, dbMount, ttl)

	return &Agent{
		backend:  backend,
		cache:    c,
		logger:   o.logger,
		KV:       secrets.NewKV(backend, c, kvMount, o.logger.Named("kv")),
		Database: secrets.NewDatabase(backend, c, dbMount, o.logger.Named("database")),
	}, nil
}

// CacheStats returns the shared cache counters.
func (a *Agent) CacheStats() cache.Stats {
	return a.cache.Stats()
}

// ClearCache drops every cached secret and resets the counters.
func (a *Agent) ClearCache() {
	a.cache.Clear()
	a.logger.Debug("Cache cleared")
}

// SetCacheTTL changes the TTL of entries cached from now on.
func (a *Agent) SetCacheTTL(ttl time.Duration) {
	a.cache.SetDefaultTTL(ttl)
}

// CredentialProvider returns the Vault client for lease managers.
func (a *Agent) CredentialProvider() provider.CredentialProvider {
	return a.backend
}

// Health fails when Vault is unreachable, sealed, or rejects the token.
func (a *Agent) Health(ctx context.Context) error {
	status, err := a.backend.Health(ctx)
	if err != nil {
		return err
	}
	if !status.Healthy() {
		return fmt.Errorf("vault is not ready (initialized=%t, sealed=%t)", status.Initialized, status.Sealed)
	}
	if !status.Authenticated {
		return fmt.Errorf("vault token is not valid")
	}
	return nil
}
