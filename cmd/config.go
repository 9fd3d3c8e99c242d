package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mysql-porter/internal/config"
	"mysql-porter/internal/storage"
)

const redacted = "********"

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or inspect configuration",
		Long: `Generate a configuration file with every option at its default, or print the
configuration a command would run with after the file, environment and flags
are applied.

Secrets can stay out of the file:
  MYSQL_PORTER_DB_PASSWORD, MYSQL_PORTER_STORAGE_SECRET_KEY,
  MYSQL_PORTER_STORAGE_ACCOUNT_KEY, MYSQL_PORTER_ARTIFACT_SECRET`,
	}
	cmd.AddCommand(c.newConfigInitCmd(), c.newConfigShowCmd())
	return cmd
}

func (c *cli) newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a configuration file with default values",
		Long: `Write a configuration file with default values.

Examples:
  # Generate a config in the working directory
  mysql-porter config init .mysql-porter.yaml

  # Replace an existing file
  mysql-porter config init porter.yaml --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			}
			if err := config.NewLoader(path).Save(config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (c *cli) newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.buildConfig()
			if err != nil {
				return err
			}
			maskSecrets(cfg)

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}
			return enc.Close()
		},
	}
}

func maskSecrets(cfg *config.Config) {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Database.Password)
	mask(&cfg.Artifacts.Secret)
	for _, sc := range []*storage.Config{&cfg.Storage, &cfg.Replication.Source, &cfg.Replication.Target} {
		if sc.S3 != nil {
			mask(&sc.S3.SecretKey)
		}
		if sc.Azure != nil {
			mask(&sc.Azure.AccountKey)
		}
	}
}
