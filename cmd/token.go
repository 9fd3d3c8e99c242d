package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mysql-porter/internal/application"
)

func (c *cli) newTokenCmd() *cobra.Command {
	var resolve bool

	cmd := &cobra.Command{
		Use:   "token <path|token>",
		Short: "Issue or resolve an artifact token",
		Long: `Issue an opaque token for an artifact path under the artifact root, or
resolve a token back to its path with --resolve. Tokens are signed with
artifacts.secret; a token from another secret does not resolve.

Examples:
  # Issue a token for an exported dump
  mysql-porter token export_3f9a1c02de.sql

  # Resolve a token
  mysql-porter token --resolve Zk9x...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *application.Application) error {
				var (
					out string
					err error
				)
				if resolve {
					out, err = app.ResolveToken(args[0])
				} else {
					out, err = app.Token(args[0])
				}
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve a token to its artifact path")
	return cmd
}
