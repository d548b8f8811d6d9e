package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
)

func NewGetCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var (
		field      string
		version    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read a KV secret",
		Long: `Read a secret from the configured KV mount.

Without flags every field is printed as "key: value". Use --field to print a
single raw value, which is convenient in scripts.

Examples:
  # Print all fields of a secret
  leasekeeper get app/config

  # Print one field
  export API_KEY=$(leasekeeper get app/config --field api_key)

  # Read an older KV v2 version as JSON
  leasekeeper get app/config --version 3 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			a, err := newAgent(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}

			data, err := a.KV.Read(cmd.Context(), path, version)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if field != "" {
				value, ok := data[field]
				if !ok {
					keys := sortedKeys(data)
					return dserrors.UserError{
						Message:    fmt.Sprintf("Field '%s' not found in secret '%s'", field, path),
						Suggestion: fmt.Sprintf("Available fields: %v", keys),
					}
				}
				if jsonOutput {
					return writeJSON(out, map[string]interface{}{"path": path, "field": field, "value": value})
				}
				_, err := fmt.Fprint(out, value)
				return err
			}

			if jsonOutput {
				return writeJSON(out, data)
			}
			for _, k := range sortedKeys(data) {
				if _, err := fmt.Fprintf(out, "%s: %v\n", k, data[k]); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "", "Print only this field")
	cmd.Flags().IntVar(&version, "version", 0, "KV v2 version to read (default latest)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

func sortedKeys(data map[string]interface{}) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
