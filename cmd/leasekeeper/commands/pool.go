package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
	"github.com/systmms/leasekeeper/internal/metrics"
	"github.com/systmms/leasekeeper/internal/sqlpool"
	"github.com/systmms/leasekeeper/pkg/lease"
)

func NewPoolCommand(cfg *config.Config, deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Run connection pools on leased credentials",
		Long: `Connection pools are declared under "pools:" in leasekeeper.yaml. Each pool
draws credentials for one role and is rebuilt on fresh credentials before the
lease runs out.`,
	}

	cmd.AddCommand(
		newPoolCheckCommand(cfg, deps),
		newPoolServeCommand(cfg, deps),
	)
	return cmd
}

// newPoolManager builds a lease manager for the named pool.
func newPoolManager(ctx context.Context, cfg *config.Config, deps Deps, name string, recorder lease.Recorder) (*lease.Manager[*sql.Conn], config.PoolConfig, error) {
	if err := cfg.Load(); err != nil {
		return nil, config.PoolConfig{}, err
	}
	pool, err := cfg.GetPool(name)
	if err != nil {
		return nil, config.PoolConfig{}, err
	}

	p, err := newCredentialProvider(ctx, cfg, pool, deps)
	if err != nil {
		return nil, pool, err
	}

	m, err := lease.NewManager[*sql.Conn](ctx, lease.Config[*sql.Conn]{
		Role:            pool.Role,
		Provider:        p,
		Factory:         sqlpool.NewFactory(deps.SQLOptions...),
		PoolConfig:      pool.LeasePoolConfig(),
		RefreshBuffer:   pool.RefreshBuffer,
		ValidationQuery: pool.ValidationQuery,
		Logger:          cfg.Logger.Named("pool." + name),
		Metrics:         recorder,
	})
	if err != nil {
		return nil, pool, err
	}
	return m, pool, nil
}

func newPoolCheckCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var (
		jsonOutput bool
		retries    int
		retryDelay time.Duration
	)

	cmd := &cobra.Command{
		Use:   "check <pool>",
		Short: "Open a pool once and run its validation query",
		Long: `Issue credentials for the pool's role, open the pool, borrow one connection
and run the validation query on it. Useful to verify a configuration before
deploying it.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: poolNameCompletion(cfg),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctx := cmd.Context()

			m, pool, err := newPoolManager(ctx, cfg, deps, name, nil)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			start := time.Now()
			check := func() error {
				return m.WithConnection(ctx, func(conn *sql.Conn) error {
					return conn.PingContext(ctx)
				})
			}
			err = check()
			for attempt := 1; err != nil && attempt <= retries && dserrors.IsRetryable(err); attempt++ {
				cfg.Logger.Warn("Pool %s check failed (attempt %d/%d): %v", name, attempt, retries+1, err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(retryDelay):
				}
				err = check()
			}
			if err != nil {
				return dserrors.ProviderError("pool", "connection check of "+name, err)
			}
			took := time.Since(start)

			creds, err := m.Credentials()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, map[string]interface{}{
					"pool":       name,
					"role":       pool.Role,
					"username":   creds.Username,
					"expires_at": m.LeaseExpiresAt().Format(time.RFC3339),
					"took":       took.String(),
					"healthy":    true,
				})
			}
			fmt.Fprintf(out, "Pool %s is healthy\n", name)
			fmt.Fprintf(out, "  role:       %s\n", pool.Role)
			fmt.Fprintf(out, "  username:   %s\n", creds.Username)
			fmt.Fprintf(out, "  expires at: %s\n", m.LeaseExpiresAt().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().IntVar(&retries, "retries", 0, "Retry transient failures this many times")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", time.Second, "Delay between retries")
	return cmd
}

func newPoolServeCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var metricsPort int

	cmd := &cobra.Command{
		Use:   "serve <pool>",
		Short: "Keep a pool's credentials fresh and expose metrics",
		Long: `Run a background refresher for the pool until interrupted. The refresher
rotates credentials ahead of lease expiry so connections never run on an
expired lease.

When metrics are enabled in the configuration, or --metrics-port is given,
Prometheus metrics are served on /metrics and pool health on /health.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: poolNameCompletion(cfg),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			recorder := metrics.New(reg)

			m, pool, err := newPoolManager(ctx, cfg, deps, name, recorder)
			if err != nil {
				return err
			}

			refresher := lease.StartBackgroundRefresher(ctx, m, pool.CheckInterval)

			serverCfg := cfg.Definition.Metrics
			if cmd.Flags().Changed("metrics-port") {
				serverCfg.Enabled = true
				serverCfg.Port = metricsPort
			}

			health := func(ctx context.Context) error {
				return refresher.WithConnection(ctx, func(*sql.Conn) error { return nil }, lease.WithoutRetry())
			}
			server := metrics.NewServer(serverCfg, reg, health, cfg.Logger.Named("metrics"))
			if err := server.Start(); err != nil {
				_ = refresher.Close()
				return err
			}

			cfg.Logger.Info("Serving pool %s (role %s), checking every %s", name, pool.Role, pool.CheckInterval)
			if serverCfg.Enabled {
				fmt.Fprintf(cmd.OutOrStdout(), "Metrics on http://%s%s\n", server.Addr(), serverCfg.Path)
			}

			select {
			case <-ctx.Done():
			case <-refresher.Done():
			}
			cfg.Logger.Info("Shutting down pool %s", name)

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			serverErr := server.Stop(shutdownCtx)
			if err := refresher.Close(); err != nil {
				return err
			}
			return serverErr
		},
	}

	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "Serve metrics on this port (overrides the configuration)")
	return cmd
}
