package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
)

func NewCredsCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var (
		static     bool
		ttl        time.Duration
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "creds <role>",
		Short: "Issue database credentials for a role",
		Long: `Issue credentials from the Vault database secrets engine.

By default a dynamic role is used, which creates a new database user with its
own lease. --static reads a static role whose password Vault rotates.

Examples:
  leasekeeper creds orders-rw
  leasekeeper creds app --static --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[0]

			a, err := newAgent(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if static {
				creds, err := a.Database.StaticCredentials(cmd.Context(), role, ttl)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, map[string]interface{}{
						"username":            creds.Username,
						"password":            creds.Password,
						"last_vault_rotation": creds.LastVaultRotation,
						"rotation_period":     creds.RotationPeriod.String(),
						"ttl":                 creds.TTL.String(),
					})
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "username\t%s\n", creds.Username)
				fmt.Fprintf(w, "password\t%s\n", creds.Password)
				fmt.Fprintf(w, "rotation_period\t%s\n", creds.RotationPeriod)
				if !creds.LastVaultRotation.IsZero() {
					fmt.Fprintf(w, "last_vault_rotation\t%s\n", creds.LastVaultRotation.Format(time.RFC3339))
				}
				return w.Flush()
			}

			creds, err := a.Database.Credentials(cmd.Context(), role, ttl)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, map[string]interface{}{
					"username":       creds.Username,
					"password":       creds.Password,
					"lease_id":       creds.LeaseID,
					"lease_duration": creds.EffectiveLeaseDuration().String(),
					"renewable":      creds.Renewable,
				})
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "username\t%s\n", creds.Username)
			fmt.Fprintf(w, "password\t%s\n", creds.Password)
			fmt.Fprintf(w, "lease_id\t%s\n", creds.LeaseID)
			fmt.Fprintf(w, "lease_duration\t%s\n", creds.EffectiveLeaseDuration())
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&static, "static", false, "Read a static role instead of a dynamic one")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Cache the credentials for at most this long")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}
