package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/systmms/leasekeeper/internal/agent"
	"github.com/systmms/leasekeeper/internal/awssm"
	"github.com/systmms/leasekeeper/internal/config"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
	"github.com/systmms/leasekeeper/internal/sqlpool"
	"github.com/systmms/leasekeeper/internal/vault"
	"github.com/systmms/leasekeeper/pkg/provider"
)

// Deps replaces external services, mainly in tests. The zero value talks to
// the services named in the configuration.
type Deps struct {
	AgentOptions []agent.Option
	SQLOptions   []sqlpool.Option

	// Provider, when set, issues credentials for every pool.
	Provider provider.CredentialProvider
}

// newAgent loads the configuration and connects to Vault.
func newAgent(ctx context.Context, cfg *config.Config, deps Deps) (*agent.Agent, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	opts := append([]agent.Option{agent.WithLogger(cfg.Logger)}, deps.AgentOptions...)
	a, err := agent.New(ctx, cfg.Definition, opts...)
	if err != nil {
		return nil, dserrors.ProviderError("vault", "login", err)
	}
	return a, nil
}

// newCredentialProvider builds the provider a pool draws credentials from.
func newCredentialProvider(ctx context.Context, cfg *config.Config, pool config.PoolConfig, deps Deps) (provider.CredentialProvider, error) {
	if deps.Provider != nil {
		return deps.Provider, nil
	}

	switch pool.Provider {
	case config.ProviderAWS:
		return awssm.New(ctx, cfg.Definition.AWS)
	case config.ProviderVault, "":
		return vault.NewClient(cfg.Definition.Vault.Config, vault.WithLogger(cfg.Logger.Named("vault")))
	default:
		return nil, fmt.Errorf("unsupported credential provider: %s", pool.Provider)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
