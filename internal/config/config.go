// Package config holds the configuration tree of mysql-porter: database
// connection, export, import, storage, replication, artifacts, policies,
// logging and display settings.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mysql-porter/internal/compression"
	"mysql-porter/internal/database"
	"mysql-porter/internal/display"
	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/policy"
	"mysql-porter/internal/storage"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnvironment.
const EnvPrefix = "MYSQL_PORTER"

const (
	DefaultBatchSize      = 1000
	DefaultImportChunk    = 5 << 20
	DefaultLinkExpiration = time.Hour
	DefaultArtifactRoot   = "./storage/exports"

	DefaultReplicationBatch    = 100
	DefaultReplicationAttempts = 3
	DefaultReplicationDelay    = 500 * time.Millisecond
)

// Operation names a top-level command, used to pick which sections must be valid.
type Operation string

const (
	OperationExport    Operation = "export"
	OperationImport    Operation = "import"
	OperationReplicate Operation = "replicate"
	OperationToken     Operation = "token"
)

// Config is the root configuration
type Config struct {
	Database    database.DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Export      ExportConfig              `mapstructure:"export" yaml:"export"`
	Import      ImportConfig              `mapstructure:"import" yaml:"import"`
	Storage     storage.Config            `mapstructure:"storage" yaml:"storage"`
	Replication ReplicationConfig         `mapstructure:"replication" yaml:"replication"`
	Artifacts   ArtifactsConfig           `mapstructure:"artifacts" yaml:"artifacts"`
	Policies    map[string]*policy.Policy `mapstructure:"policies" yaml:"policies,omitempty"`
	Logging     LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	Display     display.DisplayConfig     `mapstructure:"display" yaml:"display"`
}

// ExportConfig controls how dumps are produced
type ExportConfig struct {
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// BufferSize is the flush threshold in bytes. Zero sizes it from the memory limit.
	BufferSize        int      `mapstructure:"buffer_size" yaml:"buffer_size"`
	DropIfExists      bool     `mapstructure:"drop_if_exists" yaml:"drop_if_exists"`
	Compression       string   `mapstructure:"compression" yaml:"compression"`
	CompressionLevel  int      `mapstructure:"compression_level" yaml:"compression_level"`
	KeepPartial       bool     `mapstructure:"keep_partial" yaml:"keep_partial"`
	EmptyStringAsNull bool     `mapstructure:"empty_string_as_null" yaml:"empty_string_as_null"`
	Tables            []string `mapstructure:"tables" yaml:"tables,omitempty"`
	ExcludeTables     []string `mapstructure:"exclude_tables" yaml:"exclude_tables,omitempty"`
	// Remote uploads the dump to the configured storage instead of the artifact root.
	Remote         bool          `mapstructure:"remote" yaml:"remote"`
	LinkExpiration time.Duration `mapstructure:"link_expiration" yaml:"link_expiration"`
	// PublicLink returns the public object URL instead of a signed link.
	PublicLink bool `mapstructure:"public_link" yaml:"public_link"`
	// PartConcurrency > 1 uploads parts in parallel.
	PartConcurrency int   `mapstructure:"part_concurrency" yaml:"part_concurrency"`
	Seed            int64 `mapstructure:"seed" yaml:"seed,omitempty"`
}

// ImportConfig controls how dumps are replayed
type ImportConfig struct {
	ChunkSize int `mapstructure:"chunk_size" yaml:"chunk_size"`
	// SafetyBackup exports the target database before importing and replays
	// that export when the import fails.
	SafetyBackup bool   `mapstructure:"safety_backup" yaml:"safety_backup"`
	BackupDir    string `mapstructure:"backup_dir" yaml:"backup_dir,omitempty"`
	// AutoApprove skips the interactive confirmation
	AutoApprove bool `mapstructure:"auto_approve" yaml:"auto_approve"`
}

// ReplicationConfig configures bucket-to-bucket copies
type ReplicationConfig struct {
	Source      storage.Config `mapstructure:"source" yaml:"source"`
	Target      storage.Config `mapstructure:"target" yaml:"target"`
	BatchSize   int            `mapstructure:"batch_size" yaml:"batch_size"`
	MaxAttempts int            `mapstructure:"max_attempts" yaml:"max_attempts"`
	// RetryDelay is the fixed wait between attempts. A negative value disables it.
	RetryDelay  time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	// RateLimit caps copies per second; zero means unlimited.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// ArtifactsConfig locates local exports and keys their download tokens
type ArtifactsConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
	// Secret derives the token key. Tokens are disabled when it is empty.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`
}

// LoggingConfig mirrors logging.Config for file-based configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	ShowCaller bool   `mapstructure:"show_caller" yaml:"show_caller"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{Display: *display.DefaultDisplayConfig()}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in unset values across the tree
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	c.Export.SetDefaults()
	c.Import.SetDefaults()
	c.Storage.SetDefaults()
	c.Replication.SetDefaults()
	c.Artifacts.SetDefaults()
	c.Logging.SetDefaults()
	c.Display.SetDefaults()
}

// SetDefaults sets default values for export configuration
func (ec *ExportConfig) SetDefaults() {
	if ec.BatchSize == 0 {
		ec.BatchSize = DefaultBatchSize
	}
	if ec.Compression == "" {
		ec.Compression = string(compression.TypeNone)
	}
	if ec.LinkExpiration == 0 {
		ec.LinkExpiration = DefaultLinkExpiration
	}
	if ec.PartConcurrency == 0 {
		ec.PartConcurrency = 1
	}
}

// SetDefaults sets default values for import configuration
func (ic *ImportConfig) SetDefaults() {
	if ic.ChunkSize == 0 {
		ic.ChunkSize = DefaultImportChunk
	}
}

// SetDefaults sets default values for replication configuration. The source
// and target stores only get defaults once a provider or bucket is named.
func (rc *ReplicationConfig) SetDefaults() {
	if rc.BatchSize == 0 {
		rc.BatchSize = DefaultReplicationBatch
	}
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = DefaultReplicationAttempts
	}
	if rc.RetryDelay == 0 {
		rc.RetryDelay = DefaultReplicationDelay
	}
	if rc.Concurrency == 0 {
		rc.Concurrency = 1
	}
	if rc.Source.Provider != "" || rc.Source.Bucket != "" {
		rc.Source.SetDefaults()
	}
	if rc.Target.Provider != "" || rc.Target.Bucket != "" {
		rc.Target.SetDefaults()
	}
}

// SetDefaults sets default values for artifact configuration
func (ac *ArtifactsConfig) SetDefaults() {
	if ac.Root == "" {
		ac.Root = DefaultArtifactRoot
	}
}

// SetDefaults sets default values for logging configuration
func (lc *LoggingConfig) SetDefaults() {
	if lc.Level == "" {
		lc.Level = string(logging.LogLevelNormal)
	}
	if lc.Format == "" {
		lc.Format = "text"
	}
}

// LoadFromEnvironment overrides values from MYSQL_PORTER_* variables
func (c *Config) LoadFromEnvironment() {
	c.loadFromEnvironment(EnvPrefix)
}

func (c *Config) loadFromEnvironment(prefix string) {
	env := func(name string) string {
		return os.Getenv(prefix + "_" + name)
	}
	str := func(name string, dst *string) {
		if val := env(name); val != "" {
			*dst = val
		}
	}
	num := func(name string, dst *int) {
		if val := env(name); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil {
				*dst = parsed
			}
		}
	}
	flag := func(name string, dst *bool) {
		if val := env(name); val != "" {
			if parsed, err := strconv.ParseBool(val); err == nil {
				*dst = parsed
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if val := env(name); val != "" {
			if parsed, err := time.ParseDuration(val); err == nil {
				*dst = parsed
			}
		}
	}

	str("DB_HOST", &c.Database.Host)
	num("DB_PORT", &c.Database.Port)
	str("DB_USER", &c.Database.Username)
	str("DB_PASSWORD", &c.Database.Password)
	str("DB_NAME", &c.Database.Database)

	num("EXPORT_BATCH_SIZE", &c.Export.BatchSize)
	num("EXPORT_BUFFER_SIZE", &c.Export.BufferSize)
	str("EXPORT_COMPRESSION", &c.Export.Compression)
	flag("EXPORT_REMOTE", &c.Export.Remote)
	flag("EXPORT_KEEP_PARTIAL", &c.Export.KeepPartial)
	duration("LINK_EXPIRATION", &c.Export.LinkExpiration)
	flag("EXPORT_PUBLIC_LINK", &c.Export.PublicLink)
	if val := env("EXPORT_TABLES"); val != "" {
		c.Export.Tables = splitList(val)
	}
	if val := env("EXPORT_EXCLUDE_TABLES"); val != "" {
		c.Export.ExcludeTables = splitList(val)
	}

	num("IMPORT_CHUNK_SIZE", &c.Import.ChunkSize)
	flag("IMPORT_SAFETY_BACKUP", &c.Import.SafetyBackup)
	flag("IMPORT_AUTO_APPROVE", &c.Import.AutoApprove)

	str("ARTIFACT_ROOT", &c.Artifacts.Root)
	str("ARTIFACT_SECRET", &c.Artifacts.Secret)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_FILE", &c.Logging.File)

	num("REPLICATION_BATCH_SIZE", &c.Replication.BatchSize)
	num("REPLICATION_MAX_ATTEMPTS", &c.Replication.MaxAttempts)
	num("REPLICATION_CONCURRENCY", &c.Replication.Concurrency)
	duration("REPLICATION_RETRY_DELAY", &c.Replication.RetryDelay)

	c.Storage.LoadFromEnvironment(prefix + "_STORAGE")
	if hasEnvWithPrefix(prefix + "_SOURCE_") {
		c.Replication.Source.LoadFromEnvironment(prefix + "_SOURCE")
	}
	if hasEnvWithPrefix(prefix + "_TARGET_") {
		c.Replication.Target.LoadFromEnvironment(prefix + "_TARGET")
	}
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func hasEnvWithPrefix(prefix string) bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}
	return false
}

// Validate checks the sections every command relies on
func (c *Config) Validate() error {
	var errs apperrors.ValidationErrors

	errs.Merge("export", c.Export.Validate())
	errs.Merge("import", c.Import.Validate())
	errs.Merge("artifacts", c.Artifacts.Validate())
	errs.Merge("logging", c.Logging.Validate())
	errs.Merge("display", c.Display.Validate())

	for table, p := range c.Policies {
		if p == nil {
			errs.Add("policies."+table, "policy cannot be empty", nil)
			continue
		}
		if err := p.Validate(); err != nil {
			errs.Add("policies."+table, err.Error(), nil)
		}
	}

	return errs.Err()
}

// ValidateFor checks the common sections plus the ones op needs
func (c *Config) ValidateFor(op Operation) error {
	var errs apperrors.ValidationErrors
	errs.Merge("", c.Validate())

	switch op {
	case OperationExport:
		errs.Merge("database", validateDatabase(&c.Database))
		if c.Export.Remote {
			errs.Merge("storage", c.Storage.Validate())
		}
	case OperationImport:
		errs.Merge("database", validateDatabase(&c.Database))
	case OperationReplicate:
		errs.Merge("replication", c.Replication.Validate())
	case OperationToken:
		if c.Artifacts.Secret == "" {
			errs.Add("artifacts.secret", "artifact secret is required for tokens", nil)
		}
	}

	return errs.Err()
}

func validateDatabase(dc *database.DatabaseConfig) error {
	if err := dc.Validate(); err != nil {
		var errs apperrors.ValidationErrors
		errs.Add("connection", err.Error(), dc.String())
		return errs
	}
	return nil
}

// Validate validates the export configuration
func (ec *ExportConfig) Validate() error {
	var errs apperrors.ValidationErrors

	if ec.BatchSize <= 0 {
		errs.Add("batch_size", "batch size must be positive", ec.BatchSize)
	}
	if ec.BufferSize < 0 {
		errs.Add("buffer_size", "buffer size cannot be negative", ec.BufferSize)
	}
	if _, err := compression.ParseType(ec.Compression); err != nil {
		errs.Add("compression", err.Error(), ec.Compression)
	}
	if ec.LinkExpiration < 0 {
		errs.Add("link_expiration", "link expiration cannot be negative", ec.LinkExpiration)
	}
	if ec.PartConcurrency < 1 {
		errs.Add("part_concurrency", "part concurrency must be at least 1", ec.PartConcurrency)
	}
	for _, table := range ec.Tables {
		for _, excluded := range ec.ExcludeTables {
			if strings.EqualFold(table, excluded) {
				errs.Add("exclude_tables", "table is both included and excluded", table)
			}
		}
	}

	return errs.Err()
}

// Validate validates the import configuration
func (ic *ImportConfig) Validate() error {
	var errs apperrors.ValidationErrors
	if ic.ChunkSize <= 0 {
		errs.Add("chunk_size", "chunk size must be positive", ic.ChunkSize)
	}
	return errs.Err()
}

// Validate validates the replication configuration, including both stores
func (rc *ReplicationConfig) Validate() error {
	var errs apperrors.ValidationErrors

	if rc.BatchSize <= 0 {
		errs.Add("batch_size", "batch size must be positive", rc.BatchSize)
	}
	if rc.MaxAttempts <= 0 {
		errs.Add("max_attempts", "at least one attempt is required", rc.MaxAttempts)
	}
	if rc.Concurrency <= 0 {
		errs.Add("concurrency", "concurrency must be positive", rc.Concurrency)
	}
	if rc.RateLimit < 0 {
		errs.Add("rate_limit", "rate limit cannot be negative", rc.RateLimit)
	}
	errs.Merge("source", rc.Source.Validate())
	errs.Merge("target", rc.Target.Validate())

	if sameBucket(&rc.Source, &rc.Target) {
		errs.Add("target.bucket", "source and target bucket must differ", rc.Target.Bucket)
	}

	return errs.Err()
}

func sameBucket(a, b *storage.Config) bool {
	if a.Bucket == "" || a.Provider != b.Provider || a.Bucket != b.Bucket {
		return false
	}
	if a.Provider == storage.ProviderLocal && a.Local != nil && b.Local != nil {
		return filepath.Clean(a.Local.BasePath) == filepath.Clean(b.Local.BasePath)
	}
	return true
}

// Validate validates the artifact configuration
func (ac *ArtifactsConfig) Validate() error {
	var errs apperrors.ValidationErrors
	if strings.TrimSpace(ac.Root) == "" {
		errs.Add("root", "artifact root is required", ac.Root)
	}
	if ac.Secret != "" && len(ac.Secret) < 16 {
		errs.Add("secret", "artifact secret must be at least 16 characters", nil)
	}
	return errs.Err()
}

// Validate validates the logging configuration
func (lc *LoggingConfig) Validate() error {
	var errs apperrors.ValidationErrors
	switch logging.LogLevel(lc.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("level", "must be one of quiet, normal, verbose, debug", lc.Level)
	}
	if lc.Format != "text" && lc.Format != "json" {
		errs.Add("format", "must be text or json", lc.Format)
	}
	return errs.Err()
}

// LoggerConfig converts the section into a logging.Config
func (lc *LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(lc.Level),
		Format:     lc.Format,
		LogFile:    lc.File,
		ShowCaller: lc.ShowCaller,
	}
}

// PolicyRegistry builds a registry from the policies section merged with the
// policies registered in code through policy.RegisterPolicy.
func (c *Config) PolicyRegistry() (*policy.Registry, error) {
	registry := policy.NewRegistry()
	if err := registry.RegisterAll(c.Policies); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "invalid policy configuration", err)
	}
	if err := registry.Merge(policy.Default()); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation, "policy declared twice", err)
	}
	return registry, nil
}
