package secrets

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/leasekeeper/internal/vault"
	"github.com/systmms/leasekeeper/pkg/cache"
	"github.com/systmms/leasekeeper/pkg/provider"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// fakeBackend is an in-memory Vault.
type fakeBackend struct {
	mu sync.Mutex

	kv    map[string]map[string]interface{}
	lists map[string][]string
	lease time.Duration
	gate  chan struct{}

	reads, listCalls, dynamic, static int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		kv: map[string]map[string]interface{}{
			"secret/app":    {"api_key": "latest"},
			"secret/app@2":  {"api_key": "v2"},
			"secret/db/cfg": {"host": "db.internal"},
		},
		lists: map[string][]string{"secret/": {"app", "db/"}},
		lease: time.Hour,
	}
}

func (b *fakeBackend) ReadKV(_ context.Context, mount, path string, version int) (map[string]interface{}, error) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads++

	key := mount + "/" + path
	if version > 0 {
		key = fmt.Sprintf("%s@%d", key, version)
	}
	data, ok := b.kv[key]
	if !ok {
		return nil, provider.NotFoundError{Provider: "vault", Key: key}
	}
	return data, nil
}

func (b *fakeBackend) ListKV(_ context.Context, mount, path string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++

	keys, ok := b.lists[mount+"/"+path]
	if !ok {
		return nil, provider.NotFoundError{Provider: "vault", Key: mount + "/" + path}
	}
	return keys, nil
}

func (b *fakeBackend) DatabaseCredentials(_ context.Context, mount, role string) (provider.Credentials, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dynamic++

	if role == "missing" {
		return provider.Credentials{}, provider.NotFoundError{Provider: "vault", Key: mount + "/creds/" + role}
	}
	return provider.Credentials{
		Username:      fmt.Sprintf("v-%s-%d", role, b.dynamic),
		Password:      "p@ss",
		LeaseDuration: b.lease,
	}, nil
}

func (b *fakeBackend) StaticCredentials(_ context.Context, _ string, role string) (vault.StaticCredentials, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.static++

	return vault.StaticCredentials{
		Username:       role,
		Password:       fmt.Sprintf("rotated-%d", b.static),
		RotationPeriod: 24 * time.Hour,
	}, nil
}

func (b *fakeBackend) counts() (reads, lists, dynamic, static int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads, b.listCalls, b.dynamic, b.static
}

func TestKV_ReadCaches(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c := cache.New()
	kv := NewKV(backend, c, "secret", nil)

	for i := 0; i < 3; i++ {
		data, err := kv.Read(context.Background(), "app", 0)
		require.NoError(t, err)
		assert.Equal(t, "latest", data["api_key"])
	}

	reads, _, _, _ := backend.counts()
	assert.Equal(t, 1, reads)
	assert.Equal(t, uint64(2), c.Stats().Hits)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestKV_VersionedReadsUseSeparateKeys(t *testing.T) {
	t.Parallel()

	c := cache.New()
	kv := NewKV(newFakeBackend(), c, "secret", nil)

	latest, err := kv.Read(context.Background(), "app", 0)
	require.NoError(t, err)
	v2, err := kv.Read(context.Background(), "app", 2)
	require.NoError(t, err)

	assert.Equal(t, "latest", latest["api_key"])
	assert.Equal(t, "v2", v2["api_key"])
	assert.Equal(t, "kv:secret:app", kv.CacheKey("app", 0))
	assert.Equal(t, "kv:secret:app:v2", kv.CacheKey("app", 2))

	_, ok := c.Get("kv:secret:app:v2")
	assert.True(t, ok)
}

func TestKV_ReadReturnsCopy(t *testing.T) {
	t.Parallel()

	kv := NewKV(newFakeBackend(), cache.New(), "secret", nil)

	data, err := kv.Read(context.Background(), "app", 0)
	require.NoError(t, err)
	data["api_key"] = "tampered"

	again, err := kv.Read(context.Background(), "app", 0)
	require.NoError(t, err)
	assert.Equal(t, "latest", again["api_key"])
}

func TestKV_ReadNotFoundIsNotCached(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	c := cache.New()
	kv := NewKV(backend, c, "secret", nil)

	for i := 0; i < 2; i++ {
		_, err := kv.Read(context.Background(), "nope", 0)
		assert.True(t, provider.IsNotFound(err))
	}
	reads, _, _, _ := backend.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestKV_ReadExpiresWithDefaultTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	backend := newFakeBackend()
	kv := NewKV(backend, cache.New(cache.WithClock(clock.Now), cache.WithDefaultTTL(time.Minute)), "secret", nil)

	_, err := kv.Read(context.Background(), "app", 0)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = kv.Read(context.Background(), "app", 0)
	require.NoError(t, err)

	reads, _, _, _ := backend.counts()
	assert.Equal(t, 2, reads)
}

func TestKV_ConcurrentMissesShareOneRead(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.gate = make(chan struct{})
	kv := NewKV(backend, cache.New(), "secret", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := kv.Read(context.Background(), "app", 0)
			assert.NoError(t, err)
			assert.Equal(t, "latest", data["api_key"])
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	reads, _, _, _ := backend.counts()
	assert.Equal(t, 1, reads)
}

func TestKV_List(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	backend := newFakeBackend()
	c := cache.New(cache.WithClock(clock.Now))
	kv := NewKV(backend, c, "secret", nil)

	keys, err := kv.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "db/"}, keys)

	_, ok := c.Get("kv:list:secret:")
	assert.True(t, ok)

	clock.Advance(ListTTL - time.Second)
	_, err = kv.List(context.Background(), "")
	require.NoError(t, err)
	_, lists, _, _ := backend.counts()
	assert.Equal(t, 1, lists)

	clock.Advance(2 * time.Second)
	_, err = kv.List(context.Background(), "")
	require.NoError(t, err)
	_, lists, _, _ = backend.counts()
	assert.Equal(t, 2, lists, "listings are cached for 60s regardless of the default TTL")
}

func TestDatabase_CredentialsCacheBoundedByLease(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lease    time.Duration
		ttl      time.Duration
		expected time.Duration
	}{
		{"no ttl uses lease", time.Hour, 0, time.Hour},
		{"shorter ttl wins", time.Hour, 10 * time.Minute, 10 * time.Minute},
		{"longer ttl capped at lease", 5 * time.Minute, time.Hour, 5 * time.Minute},
		{"zero lease means default", 0, 0, provider.DefaultLeaseDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			backend := newFakeBackend()
			backend.lease = tt.lease
			db := NewDatabase(backend, cache.New(cache.WithClock(clock.Now)), "database", nil)

			first, err := db.Credentials(context.Background(), "orders", tt.ttl)
			require.NoError(t, err)

			clock.Advance(tt.expected - time.Second)
			cached, err := db.Credentials(context.Background(), "orders", tt.ttl)
			require.NoError(t, err)
			assert.Equal(t, first.Username, cached.Username)

			clock.Advance(time.Second)
			fresh, err := db.Credentials(context.Background(), "orders", tt.ttl)
			require.NoError(t, err)
			assert.NotEqual(t, first.Username, fresh.Username)
		})
	}
}

func TestDatabase_CredentialsNotFound(t *testing.T) {
	t.Parallel()

	db := NewDatabase(newFakeBackend(), cache.New(), "database", nil)
	_, err := db.Credentials(context.Background(), "missing", 0)
	assert.True(t, provider.IsNotFound(err))
}

func TestDatabase_StaticCredentials(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	backend := newFakeBackend()
	db := NewDatabase(backend, cache.New(cache.WithClock(clock.Now)), "database", nil)

	creds, err := db.StaticCredentials(context.Background(), "app", 0)
	require.NoError(t, err)
	assert.Equal(t, "rotated-1", creds.Password)

	clock.Advance(StaticTTL - time.Second)
	creds, err = db.StaticCredentials(context.Background(), "app", 0)
	require.NoError(t, err)
	assert.Equal(t, "rotated-1", creds.Password)

	clock.Advance(time.Second)
	creds, err = db.StaticCredentials(context.Background(), "app", 0)
	require.NoError(t, err)
	assert.Equal(t, "rotated-2", creds.Password)

	creds, err = db.StaticCredentials(context.Background(), "report", 10*time.Second)
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	again, err := db.StaticCredentials(context.Background(), "report", 10*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, creds.Password, again.Password)
}

func TestDatabase_ConnectionString(t *testing.T) {
	t.Parallel()

	db := NewDatabase(newFakeBackend(), cache.New(), "database", nil)
	ctx := context.Background()

	s, err := db.ConnectionString(ctx, "orders", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "postgresql://v-orders-1:p@ss@localhost/postgres", s)

	s, err = db.ConnectionString(ctx, "orders", "mysql://{username}:{password}@{host}:{port}/{database}", map[string]string{
		"host":     "db.internal",
		"database": "orders",
		"port":     "3306",
	})
	require.NoError(t, err)
	assert.Equal(t, "mysql://v-orders-1:p@ss@db.internal:3306/orders", s, "credentials come from the cache")

	_, err = db.ConnectionString(ctx, "missing", "", nil)
	assert.True(t, provider.IsNotFound(err))
}

func TestDatabase_ClearCache(t *testing.T) {
	t.Parallel()

	c := cache.New()
	db := NewDatabase(newFakeBackend(), c, "database", nil)
	other := NewDatabase(newFakeBackend(), c, "database-eu", nil)
	kv := NewKV(newFakeBackend(), c, "secret", nil)
	ctx := context.Background()

	_, err := db.Credentials(ctx, "orders", 0)
	require.NoError(t, err)
	_, err = db.Credentials(ctx, "billing", 0)
	require.NoError(t, err)
	_, err = db.StaticCredentials(ctx, "orders", 0)
	require.NoError(t, err)
	_, err = other.Credentials(ctx, "orders", 0)
	require.NoError(t, err)
	_, err = kv.Read(ctx, "app", 0)
	require.NoError(t, err)
	require.Equal(t, 5, c.Stats().Size)

	assert.Equal(t, 2, db.ClearCache("orders"))
	assert.Equal(t, 0, db.ClearCache("orders"))
	assert.Equal(t, 3, c.Stats().Size)

	assert.Equal(t, 1, db.ClearCache(""))
	assert.Equal(t, 2, c.Stats().Size, "other mounts and KV entries survive")
	_, ok := c.Get("db:database-eu:orders")
	assert.True(t, ok)
}
