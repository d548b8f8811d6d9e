package secrets

import (
	"context"
	"fmt"
	"maps"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/leasekeeper/internal/logging"
	"github.com/systmms/leasekeeper/pkg/cache"
)

// ListTTL is how long KV listings stay cached.
const ListTTL = 60 * time.Second

// KVBackend reads KV secrets. *vault.Client implements it.
type KVBackend interface {
	ReadKV(ctx context.Context, mount, path string, version int) (map[string]interface{}, error)
	ListKV(ctx context.Context, mount, path string) ([]string, error)
}

// KV reads secrets from one KV mount.
type KV struct {
	backend KVBackend
	cache   *cache.Cache
	mount   string
	logger  *logging.Logger
	group   singleflight.Group
}

// NewKV returns a KV reader for mount backed by c.
func NewKV(backend KVBackend, c *cache.Cache, mount string, logger *logging.Logger) *KV {
	if logger == nil {
		logger = logging.New(false, true)
	}
	return &KV{backend: backend, cache: c, mount: mount, logger: logger}
}

// Mount returns the KV mount.
func (k *KV) Mount() string {
	return k.mount
}

// CacheKey returns the cache key of a read. version 0 means latest.
func (k *KV) CacheKey(path string, version int) string {
	key := "kv:" + k.mount + ":" + path
	if version > 0 {
		key = fmt.Sprintf("%s:v%d", key, version)
	}
	return key
}

// Read returns the data of the secret at path. The returned map is a copy
// the caller may modify.
func (k *KV) Read(ctx context.Context, path string, version int) (map[string]interface{}, error) {
	key := k.CacheKey(path, version)

	if v, ok := k.cache.Get(key); ok {
		k.logger.Debug("Cache hit for key: %s", logging.Secret(key))
		return maps.Clone(v.(map[string]interface{})), nil
	}
	k.logger.Debug("Cache miss for key: %s, fetching from Vault", logging.Secret(key))

	v, err, _ := k.group.Do(key, func() (interface{}, error) {
		data, err := k.backend.ReadKV(ctx, k.mount, path, version)
		if err != nil {
			return nil, err
		}
		k.cache.Set(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(v.(map[string]interface{})), nil
}

// List returns the keys under path. Folders end in "/".
func (k *KV) List(ctx context.Context, path string) ([]string, error) {
	key := "kv:list:" + k.mount + ":" + path

	if v, ok := k.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...), nil
	}

	v, err, _ := k.group.Do(key, func() (interface{}, error) {
		keys, err := k.backend.ListKV(ctx, k.mount, path)
		if err != nil {
			return nil, err
		}
		k.cache.SetWithTTL(key, keys, ListTTL)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}
