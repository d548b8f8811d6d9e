package commands

import (
	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
)

// NewCompletionCommand creates the completion command for generating shell completions.
func NewCompletionCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for leasekeeper.

Bash:
  $ source <(leasekeeper completion bash)

Zsh:
  $ leasekeeper completion zsh > "${fpath[1]}/_leasekeeper"

Fish:
  $ leasekeeper completion fish > ~/.config/fish/completions/leasekeeper.fish

PowerShell:
  PS> leasekeeper completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}

	return cmd
}

// poolNameCompletion completes pool names from the configuration file.
func poolNameCompletion(cfg *config.Config) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		if cfg.Definition == nil {
			if err := cfg.Load(); err != nil {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
		}
		return cfg.Definition.PoolNames(), cobra.ShellCompDirectiveNoFileComp
	}
}
