package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"mysql-porter/internal/application"
	"mysql-porter/internal/config"
)

func (c *cli) newReplicateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Copy objects missing from the target bucket",
		Long: `Copy every object of the source bucket that the target bucket lacks,
keeping its content type and visibility.

Keys are processed in batches. Each missing object is retried a bounded
number of times; objects that still fail are listed in the failure ledger and
do not fail the run. Buckets are configured under replication.source and
replication.target.

Examples:
  # Replicate with the configured buckets
  mysql-porter replicate

  # Copy four objects at a time, at most 20 per second
  mysql-porter replicate --concurrency=4 --rate-limit=20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, app *application.Application) error {
				report, err := app.Replicate(ctx)
				if err != nil {
					return err
				}
				return app.Display().RenderReplication(report)
			})
		},
	}

	flags := cmd.Flags()
	c.stringFlag(flags, "source-bucket", "replication.source.bucket", "source bucket",
		func(cfg *config.Config, val string) { cfg.Replication.Source.Bucket = val })
	c.stringFlag(flags, "target-bucket", "replication.target.bucket", "target bucket",
		func(cfg *config.Config, val string) { cfg.Replication.Target.Bucket = val })
	c.intFlag(flags, "batch-size", "replication.batch_size", "keys per batch (default 100)",
		func(cfg *config.Config, val int) { cfg.Replication.BatchSize = val })
	c.intFlag(flags, "max-attempts", "replication.max_attempts", "copy attempts per object (default 3)",
		func(cfg *config.Config, val int) { cfg.Replication.MaxAttempts = val })
	c.durationFlag(flags, "retry-delay", "replication.retry_delay", "wait between attempts (default 500ms)",
		func(cfg *config.Config, val time.Duration) { cfg.Replication.RetryDelay = val })
	c.intFlag(flags, "concurrency", "replication.concurrency", "objects copied in parallel within a batch",
		func(cfg *config.Config, val int) { cfg.Replication.Concurrency = val })
	c.floatFlag(flags, "rate-limit", "replication.rate_limit", "maximum copies per second, 0 for unlimited",
		func(cfg *config.Config, val float64) { cfg.Replication.RateLimit = val })

	return cmd
}
