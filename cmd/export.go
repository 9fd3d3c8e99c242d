package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"mysql-porter/internal/application"
	"mysql-porter/internal/config"
)

func (c *cli) newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [output]",
		Short: "Export the database to an SQL dump",
		Long: `Export every table of the configured database to an SQL dump.

Tables with an export policy are redacted on the way: ignored tables keep
their structure without data, omitted columns receive synthetic values of the
same shape, and retained rows are copied verbatim. The dump is written to the
artifact directory, or streamed into object storage with --remote.

Examples:
  # Export to ./storage/exports with a generated name
  mysql-porter export --host=localhost --user=root --database=shop

  # Gzip the dump and upload it, returning a signed link valid for 2 hours
  mysql-porter export --remote --compression=gzip --link-expiration=2h shop-nightly

  # Export two tables only
  mysql-porter export --tables=users,orders`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var output string
			if len(args) == 1 {
				output = args[0]
			}
			return c.run(cmd, func(ctx context.Context, app *application.Application) error {
				manifest, err := app.Export(ctx, application.ExportRequest{Output: output})
				if err != nil {
					return err
				}
				return app.Display().RenderManifest(manifest)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&c.policyFile, "policies", "", "YAML file with export policies")
	c.boolFlag(flags, "remote", "export.remote", "upload the dump to the configured storage",
		func(cfg *config.Config, val bool) { cfg.Export.Remote = val })
	c.stringFlag(flags, "compression", "export.compression", "compression algorithm (none, gzip, zstd, lz4)",
		func(cfg *config.Config, val string) { cfg.Export.Compression = val })
	c.intFlag(flags, "compression-level", "export.compression_level", "compression level, 0 for the algorithm default",
		func(cfg *config.Config, val int) { cfg.Export.CompressionLevel = val })
	c.intFlag(flags, "batch-size", "export.batch_size", "rows fetched per page (default 1000)",
		func(cfg *config.Config, val int) { cfg.Export.BatchSize = val })
	c.intFlag(flags, "buffer-size", "export.buffer_size", "flush threshold in bytes, 0 to size it from memory",
		func(cfg *config.Config, val int) { cfg.Export.BufferSize = val })
	c.stringsFlag(flags, "tables", "export.tables", "export only these tables",
		func(cfg *config.Config, val []string) { cfg.Export.Tables = val })
	c.stringsFlag(flags, "exclude", "export.exclude_tables", "skip these tables",
		func(cfg *config.Config, val []string) { cfg.Export.ExcludeTables = val })
	c.boolFlag(flags, "drop-if-exists", "export.drop_if_exists", "emit DROP TABLE IF EXISTS before each table",
		func(cfg *config.Config, val bool) { cfg.Export.DropIfExists = val })
	c.boolFlag(flags, "keep-partial", "export.keep_partial", "keep a failed local dump as <name>.partial",
		func(cfg *config.Config, val bool) { cfg.Export.KeepPartial = val })
	c.boolFlag(flags, "empty-as-null", "export.empty_string_as_null", "export empty strings as NULL",
		func(cfg *config.Config, val bool) { cfg.Export.EmptyStringAsNull = val })
	c.durationFlag(flags, "link-expiration", "export.link_expiration", "signed link lifetime (default 1h)",
		func(cfg *config.Config, val time.Duration) { cfg.Export.LinkExpiration = val })
	c.boolFlag(flags, "public-link", "export.public_link", "make the object public and return its public URL",
		func(cfg *config.Config, val bool) { cfg.Export.PublicLink = val })
	c.intFlag(flags, "part-concurrency", "export.part_concurrency", "parts uploaded in parallel",
		func(cfg *config.Config, val int) { cfg.Export.PartConcurrency = val })
	c.int64Flag(flags, "seed", "export.seed", "seed for synthetic values, 0 for random",
		func(cfg *config.Config, val int64) { cfg.Export.Seed = val })

	return cmd
}
