package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mysql-porter/internal/application"
	"mysql-porter/internal/config"
	"mysql-porter/internal/confirmation"
	"mysql-porter/internal/display"
	"mysql-porter/internal/logging"
)

// errReported marks an error that was already printed with its hints.
var errReported = errors.New("operation failed")

// cli carries the state shared by every command of one invocation
type cli struct {
	v          *viper.Viper
	cfgFile    string
	policyFile string

	verbose    bool
	quiet      bool
	noColor    bool
	noProgress bool

	// overrides maps viper keys to setters applied when the key is set by a
	// flag or an environment variable.
	overrides []override

	newApp func(cfg *config.Config) (*application.Application, error)
}

type override struct {
	key string
	set func(v *viper.Viper, cfg *config.Config)
}

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	c := &cli{
		v:      viper.New(),
		newApp: newApplication,
	}

	rootCmd := &cobra.Command{
		Use:   "mysql-porter",
		Short: "Export, import and replicate MySQL databases and their artifacts",
		Long: `mysql-porter streams MySQL databases into SQL dumps, redacting sensitive
columns on the way, uploads them to object storage, replays dumps into a
database, and keeps storage buckets in sync.

Examples:
  # Export with redaction policies to the local artifact directory
  mysql-porter export --config=porter.yaml --policies=policies.yaml

  # Stream a compressed dump straight into the configured bucket
  mysql-porter export --remote --compression=zstd nightly

  # Import a dump from S3 with a safety backup
  mysql-porter import s3://dumps/nightly.sql.zst --safety-backup

  # Copy every object missing from the target bucket
  mysql-porter replicate --format=json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.mysql-porter.yaml or ./.mysql-porter.yaml)")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&c.quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVar(&c.noColor, "no-color", false, "disable color output")
	flags.BoolVar(&c.noProgress, "no-progress", false, "disable progress bars")
	c.stringFlag(flags, "log-file", "logging.file", "write logs to file instead of stderr",
		func(cfg *config.Config, val string) { cfg.Logging.File = val })
	c.stringFlag(flags, "log-format", "logging.format", "log format (text, json)",
		func(cfg *config.Config, val string) { cfg.Logging.Format = val })
	c.stringFlag(flags, "theme", "display.theme", "color theme (dark, light, high-contrast, auto)",
		func(cfg *config.Config, val string) { cfg.Display.Theme = val })
	c.stringFlag(flags, "format", "display.output_format", "output format (table, json, yaml, compact)",
		func(cfg *config.Config, val string) { cfg.Display.OutputFormat = val })
	c.intFlag(flags, "max-table-width", "display.max_table_width", "maximum table width (40-300)",
		func(cfg *config.Config, val int) { cfg.Display.MaxTableWidth = val })
	c.databaseFlags(flags)

	rootCmd.AddCommand(
		c.newExportCmd(),
		c.newImportCmd(),
		c.newReplicateCmd(),
		c.newTokenCmd(),
		c.newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// newApplication builds the application. Imports are confirmed
// interactively only when stdin is a terminal.
func newApplication(cfg *config.Config) (*application.Application, error) {
	svc := display.NewService(&cfg.Display)
	opts := []application.Option{application.WithDisplay(svc)}
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		opts = append(opts, application.WithConfirmer(confirmation.NewConfirmationService(svc, os.Stdin)))
	}
	return application.New(cfg, opts...)
}

// Execute runs the command line and exits non-zero on failure.
// This is called by main.main().
func Execute() {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// databaseFlags registers the connection flags on a command
func (c *cli) databaseFlags(flags *pflag.FlagSet) {
	c.stringFlag(flags, "host", "database.host", "database host",
		func(cfg *config.Config, val string) { cfg.Database.Host = val })
	c.intFlag(flags, "port", "database.port", "database port (default 3306)",
		func(cfg *config.Config, val int) { cfg.Database.Port = val })
	c.stringFlag(flags, "user", "database.username", "database username",
		func(cfg *config.Config, val string) { cfg.Database.Username = val })
	c.stringFlag(flags, "password", "database.password", "database password",
		func(cfg *config.Config, val string) { cfg.Database.Password = val })
	c.stringFlag(flags, "database", "database.database", "database name",
		func(cfg *config.Config, val string) { cfg.Database.Database = val })
}

func (c *cli) stringFlag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, string)) {
	flags.String(name, "", usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetString(key)) })
}

func (c *cli) intFlag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, int)) {
	flags.Int(name, 0, usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetInt(key)) })
}

func (c *cli) boolFlag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, bool)) {
	flags.Bool(name, false, usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetBool(key)) })
}

func (c *cli) int64Flag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, int64)) {
	flags.Int64(name, 0, usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetInt64(key)) })
}

func (c *cli) floatFlag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, float64)) {
	flags.Float64(name, 0, usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetFloat64(key)) })
}

func (c *cli) durationFlag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, time.Duration)) {
	flags.Duration(name, 0, usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetDuration(key)) })
}

func (c *cli) stringsFlag(flags *pflag.FlagSet, name, key, usage string, set func(*config.Config, []string)) {
	flags.StringSlice(name, nil, usage)
	c.bind(flags, name, key, func(v *viper.Viper, cfg *config.Config) { set(cfg, v.GetStringSlice(key)) })
}

func (c *cli) bind(flags *pflag.FlagSet, name, key string, set func(*viper.Viper, *config.Config)) {
	_ = c.v.BindPFlag(key, flags.Lookup(name))
	c.overrides = append(c.overrides, override{key: key, set: set})
}

// buildConfig loads the config file through config.Loader, then applies
// every flag or MYSQL_PORTER_<SECTION>_<KEY> variable viper knows about.
func (c *cli) buildConfig() (*config.Config, error) {
	if c.verbose && c.quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()

	path, err := c.configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return nil, err
	}

	for _, o := range c.overrides {
		if c.v.IsSet(o.key) {
			o.set(c.v, cfg)
		}
	}

	if c.noColor {
		cfg.Display.ColorEnabled = false
	}
	if c.noProgress {
		cfg.Display.ShowProgress = false
	}
	if c.verbose {
		cfg.Display.VerboseMode = true
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	}
	if c.quiet {
		cfg.Display.QuietMode = true
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	}

	cfg.SetDefaults()
	return cfg, nil
}

// configPath returns the explicit --config file or the first .mysql-porter.yaml
// found in the home or working directory. An empty path means defaults only.
func (c *cli) configPath() (string, error) {
	if c.cfgFile != "" {
		if _, err := os.Stat(c.cfgFile); err != nil {
			return "", fmt.Errorf("config file %s: %w", c.cfgFile, err)
		}
		return c.cfgFile, nil
	}

	finder := viper.New()
	if home, err := os.UserHomeDir(); err == nil {
		finder.AddConfigPath(home)
	}
	finder.AddConfigPath(".")
	finder.SetConfigName(".mysql-porter")
	finder.SetConfigType("yaml")
	if err := finder.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	if c.verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", finder.ConfigFileUsed())
	}
	return finder.ConfigFileUsed(), nil
}

// run builds the application and executes op with a context canceled on
// SIGINT/SIGTERM. Failures are printed with troubleshooting hints.
func (c *cli) run(cmd *cobra.Command, op func(ctx context.Context, app *application.Application) error) error {
	cfg, err := c.buildConfig()
	if err != nil {
		return err
	}
	cfg.Display.Writer = cmd.OutOrStdout()

	app, err := c.newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	if c.policyFile != "" {
		if err := config.LoadPolicies(c.policyFile, app.Policies()); err != nil {
			app.ReportError(cmd.ErrOrStderr(), err)
			return errReported
		}
	}

	ctx := app.Start(cmd.Context())
	defer app.Shutdown()

	if err := op(ctx, app); err != nil {
		app.ReportError(cmd.ErrOrStderr(), err)
		return errReported
	}
	return nil
}
