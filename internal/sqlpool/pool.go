// Package sqlpool adapts database/sql to the lease.Pool and lease.Factory
// contracts. Each lease gets its own *sql.DB; draining a superseded lease
// closes it.
package sqlpool

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	// Import common SQL drivers
	_ "github.com/go-sql-driver/mysql" // MySQL
	_ "github.com/lib/pq"              // PostgreSQL

	"github.com/systmms/leasekeeper/pkg/lease"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// Opener opens a database handle. sql.Open by default; tests inject sqlmock.
type Opener func(driver, dsn string) (*sql.DB, error)

// Factory builds a Pool per credential set.
type Factory struct {
	open       Opener
	skipPing   bool
	pingTimeout time.Duration
}

var _ lease.Factory[*sql.Conn] = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithOpener replaces sql.Open.
func WithOpener(open Opener) Option {
	return func(f *Factory) {
		if open != nil {
			f.open = open
		}
	}
}

// WithoutPing skips the connectivity check after opening.
func WithoutPing() Option {
	return func(f *Factory) {
		f.skipPing = true
	}
}

// WithPingTimeout bounds the connectivity check.
func WithPingTimeout(d time.Duration) Option {
	return func(f *Factory) {
		f.pingTimeout = d
	}
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		open:       sql.Open,
		pingTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build opens a new *sql.DB authenticated with creds, applies the pool
// limits from cfg and pings it.
func (f *Factory) Build(ctx context.Context, cfg lease.PoolConfig, creds provider.Credentials) (lease.Pool[*sql.Conn], error) {
	limits, err := parseLimits(cfg)
	if err != nil {
		return nil, err
	}

	driver, dsn, err := BuildDSN(cfg, creds)
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}

	db, err := f.open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	limits.apply(db)

	if !f.skipPing {
		pingCtx := ctx
		if f.pingTimeout > 0 {
			var cancel context.CancelFunc
			pingCtx, cancel = context.WithTimeout(ctx, f.pingTimeout)
			defer cancel()
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
		}
	}

	return &Pool{db: db, driver: driver}, nil
}

type limits struct {
	maxOpen, maxIdle         int
	maxLifetime, maxIdleTime time.Duration
	hasMaxIdle               bool
}

func parseLimits(cfg lease.PoolConfig) (limits, error) {
	var l limits
	var err error

	if v := cfg[KeyMaxOpenConns]; v != "" {
		if l.maxOpen, err = strconv.Atoi(v); err != nil {
			return l, fmt.Errorf("invalid %s %q: %w", KeyMaxOpenConns, v, err)
		}
	}
	if v := cfg[KeyMaxIdleConns]; v != "" {
		if l.maxIdle, err = strconv.Atoi(v); err != nil {
			return l, fmt.Errorf("invalid %s %q: %w", KeyMaxIdleConns, v, err)
		}
		l.hasMaxIdle = true
	}
	if v := cfg[KeyConnMaxLifetime]; v != "" {
		if l.maxLifetime, err = time.ParseDuration(v); err != nil {
			return l, fmt.Errorf("invalid %s %q: %w", KeyConnMaxLifetime, v, err)
		}
	}
	if v := cfg[KeyConnMaxIdleTime]; v != "" {
		if l.maxIdleTime, err = time.ParseDuration(v); err != nil {
			return l, fmt.Errorf("invalid %s %q: %w", KeyConnMaxIdleTime, v, err)
		}
	}
	return l, nil
}

func (l limits) apply(db *sql.DB) {
	if l.maxOpen > 0 {
		db.SetMaxOpenConns(l.maxOpen)
	}
	if l.hasMaxIdle {
		db.SetMaxIdleConns(l.maxIdle)
	}
	if l.maxLifetime > 0 {
		db.SetConnMaxLifetime(l.maxLifetime)
	}
	if l.maxIdleTime > 0 {
		db.SetConnMaxIdleTime(l.maxIdleTime)
	}
}

// Pool is a lease.Pool over one *sql.DB.
type Pool struct {
	db     *sql.DB
	driver string
}

var _ lease.Pool[*sql.Conn] = (*Pool)(nil)

// NewPool wraps an existing handle.
func NewPool(db *sql.DB, driver string) *Pool {
	return &Pool{db: db, driver: driver}
}

// Checkout reserves a single connection.
func (p *Pool) Checkout(ctx context.Context) (*sql.Conn, error) {
	return p.db.Conn(ctx)
}

// Release returns conn to the pool it was reserved from.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close()
}

// Validate executes query on conn.
func (p *Pool) Validate(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query)
	return err
}

// DrainAll closes the handle. Connections still checked out are closed as
// they are released.
func (p *Pool) DrainAll() error {
	return p.db.Close()
}

// Stats returns the handle's connection statistics.
func (p *Pool) Stats() sql.DBStats {
	return p.db.Stats()
}

// Driver returns the database/sql driver name.
func (p *Pool) Driver() string {
	return p.driver
}
