package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
)

func NewListCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list [path]",
		Short: "List KV secrets under a path",
		Long: `List the keys under a path of the configured KV mount. Keys ending in "/"
are folders.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}

			a, err := newAgent(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}

			keys, err := a.KV.List(cmd.Context(), path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, keys)
			}
			for _, k := range keys {
				if _, err := fmt.Fprintln(out, k); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}
