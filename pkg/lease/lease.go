// Package lease keeps a connection pool supplied with short-lived credentials.
//
// A Manager owns exactly one active Pool built from one set of credentials.
// Before the granted lease runs out (after RefreshBuffer of its duration) the
// manager fetches new credentials from a provider.CredentialProvider, builds a
// replacement pool through a Factory, swaps it in and drains the old one. The
// active pool and the active credentials always belong together.
//
// Connections are only handed out through WithConnection, which validates the
// connection, retries once with fresh credentials when validation fails and
// always releases the connection when the callback returns.
//
// A BackgroundRefresher adds one goroutine that performs the refresh ahead of
// time so foreground callers rarely wait on the credential provider.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/leasekeeper/pkg/provider"
)

const (
	// DefaultRefreshBuffer is the fraction of a lease treated as usable.
	DefaultRefreshBuffer = 0.8

	// DefaultValidationQuery is executed against every checked-out connection.
	DefaultValidationQuery = "SELECT 1"
)

var (
	// ErrClosing is returned once Close has been called.
	ErrClosing = errors.New("lease manager is closing")

	// ErrValidationFailed wraps a failed liveness probe when retry is disabled.
	ErrValidationFailed = errors.New("connection validation failed")

	// ErrInvalidConfig wraps configuration problems found by NewManager.
	ErrInvalidConfig = errors.New("invalid lease manager config")
)

// Pool is a set of reusable connections built from one credential set.
type Pool[C any] interface {
	// Checkout borrows a connection.
	Checkout(ctx context.Context) (C, error)
	// Release returns a borrowed connection. It must be safe to call after
	// DrainAll.
	Release(conn C)
	// Validate runs query against conn as a liveness probe.
	Validate(ctx context.Context, conn C, query string) error
	// DrainAll closes every idle connection and rejects new checkouts.
	DrainAll() error
}

// PoolConfig is the static, credential-independent pool configuration
// (host, database, driver, limits).
type PoolConfig map[string]string

// Factory builds pools.
type Factory[C any] interface {
	Build(ctx context.Context, cfg PoolConfig, creds provider.Credentials) (Pool[C], error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc[C any] func(ctx context.Context, cfg PoolConfig, creds provider.Credentials) (Pool[C], error)

// Build calls f.
func (f FactoryFunc[C]) Build(ctx context.Context, cfg PoolConfig, creds provider.Credentials) (Pool[C], error) {
	return f(ctx, cfg, creds)
}

// Logger is the subset of internal/logging.Logger used by this package.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Recorder receives lease lifecycle events for metrics.
type Recorder interface {
	RefreshSucceeded(role string, took time.Duration, expiresAt time.Time)
	RefreshFailed(role string, took time.Duration)
	ValidationFailed(role string)
	DrainFailed(role string)
}

type nopRecorder struct{}

func (nopRecorder) RefreshSucceeded(string, time.Duration, time.Time) {}
func (nopRecorder) RefreshFailed(string, time.Duration)              {}
func (nopRecorder) ValidationFailed(string)                          {}
func (nopRecorder) DrainFailed(string)                               {}

// Config configures a Manager.
type Config[C any] struct {
	// Role is passed to the provider on every fetch.
	Role string

	Provider provider.CredentialProvider
	Factory  Factory[C]

	// PoolConfig is handed to the factory unchanged on every build.
	PoolConfig PoolConfig

	// RefreshBuffer is the usable fraction of each lease, in (0, 1].
	// Default: 0.8
	RefreshBuffer float64

	// ValidationQuery is the liveness probe.
	// Default: "SELECT 1"
	ValidationQuery string

	// OnRefresh is called with the new credentials after every successful
	// refresh, including the initial one. It runs without the manager lock.
	OnRefresh func(provider.Credentials)

	Logger  Logger
	Metrics Recorder

	// Clock replaces time.Now.
	Clock func() time.Time
}

func (c *Config[C]) setDefaults() error {
	if c.Role == "" {
		return fmt.Errorf("%w: role is required", ErrInvalidConfig)
	}
	if c.Provider == nil {
		return fmt.Errorf("%w: credential provider is required", ErrInvalidConfig)
	}
	if c.Factory == nil {
		return fmt.Errorf("%w: pool factory is required", ErrInvalidConfig)
	}
	if c.RefreshBuffer == 0 {
		c.RefreshBuffer = DefaultRefreshBuffer
	}
	if !(c.RefreshBuffer > 0 && c.RefreshBuffer <= 1) {
		return fmt.Errorf("%w: refresh buffer %v must be in (0, 1]", ErrInvalidConfig, c.RefreshBuffer)
	}
	if c.ValidationQuery == "" {
		c.ValidationQuery = DefaultValidationQuery
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = nopRecorder{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}
