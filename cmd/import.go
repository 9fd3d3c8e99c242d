package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mysql-porter/internal/application"
	"mysql-porter/internal/config"
)

func (c *cli) newImportCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "import [source]",
		Short: "Replay an SQL dump into the database",
		Long: `Execute every statement of an SQL dump against the configured database.

The source is a local path, a remote object (s3://, gs://, azure:// or
file://<bucket>/<key>) read through the configured storage credentials, or an
artifact token issued by the export command. Compressed dumps are detected by
extension.

Examples:
  # Import a local dump
  mysql-porter import ./storage/exports/export_3f9a1c02de.sql

  # Import from S3, backing up the database first
  mysql-porter import s3://dumps/nightly.sql.gz --safety-backup

  # Import an artifact by token
  mysql-porter import --token=Zk9x...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := application.ImportRequest{Token: token}
			if len(args) == 1 {
				req.Source = args[0]
			}
			if (req.Source == "") == (req.Token == "") {
				return fmt.Errorf("give either a source or --token")
			}
			return c.run(cmd, func(ctx context.Context, app *application.Application) error {
				result, err := app.Import(ctx, req)
				if errors.Is(err, application.ErrImportDeclined) {
					app.Display().Warning("Import cancelled")
					return nil
				}
				if err != nil {
					return err
				}
				return app.Display().RenderImport(result)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&token, "token", "", "artifact token instead of a source path")
	c.boolFlag(flags, "safety-backup", "import.safety_backup", "export the database first and restore it if the import fails",
		func(cfg *config.Config, val bool) { cfg.Import.SafetyBackup = val })
	c.stringFlag(flags, "backup-dir", "import.backup_dir", "directory for the safety backup (default: artifact root)",
		func(cfg *config.Config, val string) { cfg.Import.BackupDir = val })
	c.boolFlag(flags, "yes", "import.auto_approve", "skip the confirmation prompt",
		func(cfg *config.Config, val bool) { cfg.Import.AutoApprove = val })
	c.intFlag(flags, "chunk-size", "import.chunk_size", "read size in bytes (default 5MiB)",
		func(cfg *config.Config, val int) { cfg.Import.ChunkSize = val })

	return cmd
}
