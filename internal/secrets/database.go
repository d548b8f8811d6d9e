package secrets

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/internal/vault"
	"github.com/systmms/leasekeeper/pkg/cache"
	"github.com/systmms/leasekeeper/pkg/provider"
)

const (
	// StaticTTL caches static-role credentials when no TTL is given.
	StaticTTL = 300 * time.Second

	DefaultConnectionTemplate = "postgresql://{username}:{password}@{host}/{database}"
	DefaultHost               = "localhost"
	DefaultDatabase           = "postgres"
)

// DatabaseBackend issues database credentials. *vault.Client implements it.
type DatabaseBackend interface {
	DatabaseCredentials(ctx context.Context, mount, role string) (provider.Credentials, error)
	StaticCredentials(ctx context.Context, mount, role string) (vault.StaticCredentials, error)
}

// Database reads credentials from one database secrets engine mount.
type Database struct {
	backend DatabaseBackend
	cache   *cache.Cache
	mount   string
	logger  *logging.Logger
	group   singleflight.Group
}

// NewDatabase returns a credentials reader for mount backed by c.
func NewDatabase(backend DatabaseBackend, c *cache.Cache, mount string, logger *logging.Logger) *Database {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &Database{backend: backend, cache: c, mount: mount, logger: logger}
}

// Mount returns the database mount.
func (d *Database) Mount() string {
	return d.mount
}

func (d *Database) dynamicKey(role string) string {
	return "db:" + d.mount + ":" + role
}

func (d *Database) staticKey(role string) string {
	return "db:static:" + d.mount + ":" + role
}

// Credentials returns dynamic credentials for role. They are cached for ttl,
// never longer than their lease; ttl 0 caches for the whole lease.
func (d *Database) Credentials(ctx context.Context, role string, ttl time.Duration) (provider.Credentials, error) {
	key := d.dynamicKey(role)

	if v, ok := d.cache.Get(key); ok {
		d.logger.Debug("Cache hit for database role: %s", role)
		return v.(provider.Credentials), nil
	}
	d.logger.Debug("Cache miss for database role: %s, fetching from Vault", role)

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		creds, err := d.backend.DatabaseCredentials(ctx, d.mount, role)
		if err != nil {
			return nil, err
		}
		lease := creds.EffectiveLeaseDuration()
		cacheTTL := lease
		if ttl > 0 && ttl < lease {
			cacheTTL = ttl
		}
		d.cache.SetWithTTL(key, creds, cacheTTL)
		return creds, nil
	})
	if err != nil {
		return provider.Credentials{}, err
	}
	return v.(provider.Credentials), nil
}

// StaticCredentials returns static-role credentials, cached for ttl or
// StaticTTL when ttl is 0.
func (d *Database) StaticCredentials(ctx context.Context, role string, ttl time.Duration) (vault.StaticCredentials, error) {
	key := d.staticKey(role)

	if v, ok := d.cache.Get(key); ok {
		d.logger.Debug("Cache hit for static database role: %s", role)
		return v.(vault.StaticCredentials), nil
	}
	d.logger.Debug("Cache miss for static database role: %s, fetching from Vault", role)

	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		creds, err := d.backend.StaticCredentials(ctx, d.mount, role)
		if err != nil {
			return nil, err
		}
		cacheTTL := ttl
		if cacheTTL <= 0 {
			cacheTTL = StaticTTL
		}
		d.cache.SetWithTTL(key, creds, cacheTTL)
		return creds, nil
	})
	if err != nil {
		return vault.StaticCredentials{}, err
	}
	return v.(vault.StaticCredentials), nil
}

// ConnectionString renders template with the credentials of role. The
// placeholders {username}, {password}, {host} and {database} are always
// available; params adds or overrides others by name. Empty arguments fall
// back to DefaultConnectionTemplate, DefaultHost and DefaultDatabase.
func (d *Database) ConnectionString(ctx context.Context, role, template string, params map[string]string) (string, error) {
	creds, err := d.Credentials(ctx, role, 0)
	if err != nil {
		return "", err
	}

	if template == "" {
		template = DefaultConnectionTemplate
	}
	values := map[string]string{
		"host":     DefaultHost,
		"database": DefaultDatabase,
	}
	for k, v := range params {
		if v != "" {
			values[k] = v
		}
	}
	values["username"] = creds.Username
	values["password"] = creds.Password

	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}

// ClearCache drops the cached credentials of role, or of every role on this
// mount when role is empty. It returns how many entries were removed.
func (d *Database) ClearCache(role string) int {
	if role != "" {
		n := 0
		if d.cache.Delete(d.dynamicKey(role)) {
			n++
		}
		if d.cache.Delete(d.staticKey(role)) {
			n++
		}
		return n
	}
	return d.cache.DeletePrefix("db:"+d.mount+":") + d.cache.DeletePrefix("db:static:"+d.mount+":")
}
