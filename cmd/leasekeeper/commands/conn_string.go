package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/systmms/leasekeeper/internal/config"
	dserrors "github.com/systmms/leasekeeper/internal/errors"
	"github.com/systmms/leasekeeper/internal/secrets"
)

func NewConnStringCommand(cfg *config.Config, deps Deps) *cobra.Command {
	var (
		host     string
		database string
		template string
		params   []string
	)

	cmd := &cobra.Command{
		Use:   "conn-string <role>",
		Short: "Print a connection string with fresh credentials",
		Long: `Render a connection string template with credentials issued for a role.

The template may use {username}, {password}, {host} and {database}, plus any
name passed with --param.

Examples:
  leasekeeper conn-string orders-rw --host orders.db.internal --database orders
  leasekeeper conn-string reports --template 'mysql://{username}:{password}@{host}:{port}/{database}' \
    --host reports.db --database reports --param port=3306`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := map[string]string{"host": host, "database": database}
			for _, p := range params {
				k, v, ok := strings.Cut(p, "=")
				if !ok || k == "" {
					return dserrors.UserError{
						Message:    fmt.Sprintf("Invalid --param %q", p),
						Suggestion: "Use --param name=value",
					}
				}
				values[k] = v
			}

			a, err := newAgent(cmd.Context(), cfg, deps)
			if err != nil {
				return err
			}

			s, err := a.Database.ConnectionString(cmd.Context(), args[0], template, values)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), s)
			return err
		},
	}

	cmd.Flags().StringVar(&host, "host", secrets.DefaultHost, "Database host")
	cmd.Flags().StringVar(&database, "database", secrets.DefaultDatabase, "Database name")
	cmd.Flags().StringVar(&template, "template", secrets.DefaultConnectionTemplate, "Connection string template")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Extra template parameter as name=value (repeatable)")
	return cmd
}
