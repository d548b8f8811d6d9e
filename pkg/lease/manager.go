package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/leasekeeper/internal/secure"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// Manager hands out connections from a pool whose credentials are inside
// their usable lease window.
type Manager[C any] struct {
	cfg Config[C]

	mu        sync.RWMutex
	pool      Pool[C]
	creds     provider.Credentials // Password is kept in password, not here
	password  *secure.Sealed
	expiresAt time.Time
	closing   bool
}

// ConnOption tunes a single WithConnection call.
type ConnOption func(*connOptions)

type connOptions struct {
	retry bool
}

// WithoutRetry surfaces a validation failure instead of refreshing and
// checking out again.
func WithoutRetry() ConnOption {
	return func(o *connOptions) {
		o.retry = false
	}
}

// NewManager validates cfg, fetches the first credentials and builds the
// first pool. No manager is returned if any step fails.
func NewManager[C any](ctx context.Context, cfg Config[C]) (*Manager[C], error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	m := &Manager[C]{cfg: cfg}

	m.mu.Lock()
	creds, err := m.refreshLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	m.notify(creds)

	return m, nil
}

// Role returns the role credentials are fetched for.
func (m *Manager[C]) Role() string {
	return m.cfg.Role
}

// ShouldRefresh reports whether the current lease has passed its usable window.
func (m *Manager[C]) ShouldRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shouldRefreshLocked()
}

func (m *Manager[C]) shouldRefreshLocked() bool {
	return m.expiresAt.IsZero() || !m.cfg.Clock().Before(m.expiresAt)
}

// LeaseExpiresAt returns the time after which the next refresh is due.
func (m *Manager[C]) LeaseExpiresAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.expiresAt
}

// Credentials returns a copy of the active credentials.
func (m *Manager[C]) Credentials() (provider.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closing {
		return provider.Credentials{}, ErrClosing
	}

	creds := m.creds
	password, err := m.password.Reveal()
	if err != nil {
		return provider.Credentials{}, err
	}
	creds.Password = password
	if m.creds.Metadata != nil {
		creds.Metadata = make(map[string]string, len(m.creds.Metadata))
		for k, v := range m.creds.Metadata {
			creds.Metadata[k] = v
		}
	}
	return creds, nil
}

// WithConnection checks out a connection, validates it and calls fn with it.
// The connection is released when fn returns, errors or panics.
//
// When validation fails the connection is released, the credentials are
// refreshed and a connection from the new pool is passed to fn without a
// second validation. WithoutRetry turns that into ErrValidationFailed.
func (m *Manager[C]) WithConnection(ctx context.Context, fn func(C) error, opts ...ConnOption) error {
	o := connOptions{retry: true}
	for _, opt := range opts {
		opt(&o)
	}

	pool, conn, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	held := true
	defer func() {
		if held {
			pool.Release(conn)
		}
	}()

	if verr := pool.Validate(ctx, conn, m.cfg.ValidationQuery); verr != nil {
		m.cfg.Metrics.ValidationFailed(m.cfg.Role)
		m.cfg.Logger.Debug("Connection validation failed for role %s: %v", m.cfg.Role, verr)

		pool.Release(conn)
		held = false

		if !o.retry {
			return fmt.Errorf("%w: %w", ErrValidationFailed, verr)
		}

		m.cfg.Logger.Info("Connection validation failed for role %s, refreshing credentials", m.cfg.Role)
		if err := m.RefreshNow(ctx); err != nil {
			return err
		}

		pool, conn, err = m.acquire(ctx)
		if err != nil {
			return err
		}
		held = true
	}

	return fn(conn)
}

// acquire refreshes if due and checks out from the active pool. The pool is
// returned alongside the connection so it is released to the pool it came
// from even if a refresh swaps the active pool meanwhile.
func (m *Manager[C]) acquire(ctx context.Context) (Pool[C], C, error) {
	var zero C

	m.mu.RLock()
	if m.closing {
		m.mu.RUnlock()
		return nil, zero, ErrClosing
	}
	if !m.shouldRefreshLocked() {
		pool := m.pool
		conn, err := pool.Checkout(ctx)
		m.mu.RUnlock()
		if err != nil {
			return nil, zero, err
		}
		return pool, conn, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, zero, ErrClosing
	}

	var (
		fresh     provider.Credentials
		refreshed bool
	)
	if m.shouldRefreshLocked() {
		creds, err := m.refreshLocked(ctx)
		if err != nil {
			m.mu.Unlock()
			return nil, zero, err
		}
		fresh, refreshed = creds, true
	}

	pool := m.pool
	conn, err := pool.Checkout(ctx)
	m.mu.Unlock()

	if refreshed {
		m.notify(fresh)
	}
	if err != nil {
		return nil, zero, err
	}
	return pool, conn, nil
}

// RefreshNow fetches new credentials and swaps in a new pool regardless of
// the lease state.
func (m *Manager[C]) RefreshNow(ctx context.Context) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return ErrClosing
	}
	m.cfg.Logger.Info("Forcing credential refresh for role %s", m.cfg.Role)
	creds, err := m.refreshLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.notify(creds)
	return nil
}

// refreshIfDue refreshes only if the lease is still due once the write lock
// is held, so a foreground refresh that won the race is not repeated.
func (m *Manager[C]) refreshIfDue(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return false, ErrClosing
	}
	if !m.shouldRefreshLocked() {
		m.mu.Unlock()
		return false, nil
	}
	creds, err := m.refreshLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		return false, err
	}

	m.notify(creds)
	return true, nil
}

// refreshLocked fetches credentials, builds the new pool, swaps it in and
// drains the old one. On error the previous pool and lease are untouched.
// m.mu must be held for writing.
func (m *Manager[C]) refreshLocked(ctx context.Context) (provider.Credentials, error) {
	role := m.cfg.Role
	start := m.cfg.Clock()

	m.cfg.Logger.Info("Refreshing credentials for role %s", role)

	creds, err := m.cfg.Provider.FetchCredentials(ctx, role)
	if err != nil {
		m.cfg.Metrics.RefreshFailed(role, m.cfg.Clock().Sub(start))
		return provider.Credentials{}, fmt.Errorf("fetch credentials for role %s from %s: %w", role, m.cfg.Provider.Name(), err)
	}

	pool, err := m.cfg.Factory.Build(ctx, m.cfg.PoolConfig, creds)
	if err != nil {
		m.cfg.Metrics.RefreshFailed(role, m.cfg.Clock().Sub(start))
		return provider.Credentials{}, fmt.Errorf("build pool for role %s: %w", role, err)
	}

	now := m.cfg.Clock()
	usable := time.Duration(float64(creds.EffectiveLeaseDuration()) * m.cfg.RefreshBuffer)

	old := m.pool
	m.pool = pool
	m.expiresAt = now.Add(usable)

	if m.password != nil {
		m.password.Destroy()
	}
	m.password = secure.SealString(creds.Password)
	m.creds = creds
	m.creds.Password = ""

	if old != nil {
		m.drain(old)
	}

	m.cfg.Metrics.RefreshSucceeded(role, now.Sub(start), m.expiresAt)
	m.cfg.Logger.Info("Credentials for role %s refreshed, next refresh in %s", role, usable.Round(time.Second))

	return creds, nil
}

// drain closes a superseded pool. Failures are logged and dropped.
func (m *Manager[C]) drain(pool Pool[C]) {
	if err := pool.DrainAll(); err != nil {
		m.cfg.Metrics.DrainFailed(m.cfg.Role)
		m.cfg.Logger.Warn("Error draining pool for role %s: %v", m.cfg.Role, err)
		return
	}
	m.cfg.Logger.Debug("Old pool for role %s drained", m.cfg.Role)
}

func (m *Manager[C]) notify(creds provider.Credentials) {
	if m.cfg.OnRefresh != nil {
		m.cfg.OnRefresh(creds)
	}
}

// Close rejects further WithConnection calls and drains the active pool.
// Calling Close more than once is a no-op.
func (m *Manager[C]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return nil
	}
	m.closing = true

	if m.pool != nil {
		m.drain(m.pool)
		m.pool = nil
	}
	if m.password != nil {
		m.password.Destroy()
	}

	m.cfg.Logger.Info("Lease manager for role %s closed", m.cfg.Role)
	return nil
}
