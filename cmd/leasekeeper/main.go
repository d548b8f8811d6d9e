package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/cmd/leasekeeper/commands"
	"github.com/systmms/leasekeeper/internal/config"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
	"github.com/systmms/leasekeeper/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "leasekeeper",
		Short: "Short-lived database credentials and secrets from Vault",
		Long: `leasekeeper reads KV secrets and database credentials from Vault through a
local cache, and keeps database connection pools running on credentials that
are refreshed before their lease runs out.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			// Without an explicit --config the environment alone may configure Vault.
			cfg.AllowMissing = !cmd.Flags().Changed("config")
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	deps := commands.Deps{}
	rootCmd.AddCommand(
		commands.NewGetCommand(cfg, deps),
		commands.NewListCommand(cfg, deps),
		commands.NewCredsCommand(cfg, deps),
		commands.NewConnStringCommand(cfg, deps),
		commands.NewPoolCommand(cfg, deps),
		commands.NewKeyringCommand(cfg),
		commands.NewCompletionCommand(cfg),
	)

	return rootCmd.Execute()
}
