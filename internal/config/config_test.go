package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/policy"
	"mysql-porter/internal/storage"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1000, cfg.Export.BatchSize)
	assert.Equal(t, "none", cfg.Export.Compression)
	assert.Equal(t, time.Hour, cfg.Export.LinkExpiration)
	assert.Equal(t, 5<<20, cfg.Import.ChunkSize)
	assert.Equal(t, 100, cfg.Replication.BatchSize)
	assert.Equal(t, 3, cfg.Replication.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Replication.RetryDelay)
	assert.Equal(t, storage.ProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "normal", cfg.Logging.Level)
	assert.Equal(t, "table", cfg.Display.OutputFormat)
	assert.NoError(t, cfg.Validate())
}

func TestReplicationDefaultsLeaveUnnamedStoresAlone(t *testing.T) {
	rc := ReplicationConfig{Target: storage.Config{Bucket: "backup"}}
	rc.SetDefaults()

	assert.Empty(t, rc.Source.Provider)
	assert.Equal(t, storage.ProviderLocal, rc.Target.Provider)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero batch size", func(c *Config) { c.Export.BatchSize = -1 }, "export.batch_size"},
		{"unknown compression", func(c *Config) { c.Export.Compression = "brotli" }, "export.compression"},
		{"negative link expiration", func(c *Config) { c.Export.LinkExpiration = -time.Second }, "export.link_expiration"},
		{"include and exclude overlap", func(c *Config) {
			c.Export.Tables = []string{"users"}
			c.Export.ExcludeTables = []string{"USERS"}
		}, "export.exclude_tables"},
		{"zero import chunk", func(c *Config) { c.Import.ChunkSize = -5 }, "import.chunk_size"},
		{"short secret", func(c *Config) { c.Artifacts.Secret = "short" }, "artifacts.secret"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad output format", func(c *Config) { c.Display.OutputFormat = "xml" }, "display.output_format"},
		{"invalid policy", func(c *Config) {
			c.Policies = map[string]*policy.Policy{"users": {OmittedColumns: []string{"email", "EMAIL"}}}
		}, "policies.users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs apperrors.ValidationErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, 0, len(verrs))
			for _, ve := range verrs {
				fields = append(fields, ve.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestConfig_ValidateFor(t *testing.T) {
	cfg := Default()

	err := cfg.ValidateFor(OperationExport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.connection")

	cfg.Database.Host = "db"
	cfg.Database.Username = "porter"
	cfg.Database.Database = "shop"
	assert.NoError(t, cfg.ValidateFor(OperationExport))
	assert.NoError(t, cfg.ValidateFor(OperationImport))

	cfg.Export.Remote = true
	err = cfg.ValidateFor(OperationExport)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.bucket")

	err = cfg.ValidateFor(OperationToken)
	require.Error(t, err)
	cfg.Artifacts.Secret = "0123456789abcdef"
	assert.NoError(t, cfg.ValidateFor(OperationToken))
}

func TestReplicationConfig_Validate(t *testing.T) {
	rc := ReplicationConfig{
		Source: storage.Config{Provider: storage.ProviderS3, Bucket: "prod"},
		Target: storage.Config{Provider: storage.ProviderS3, Bucket: "prod"},
	}
	rc.SetDefaults()

	err := rc.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.bucket")

	rc.Target.Bucket = "prod-copy"
	assert.NoError(t, rc.Validate())

	rc.MaxAttempts = -1
	assert.Error(t, rc.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MYSQL_PORTER_DB_HOST", "mysql.internal")
	t.Setenv("MYSQL_PORTER_DB_PORT", "3307")
	t.Setenv("MYSQL_PORTER_EXPORT_COMPRESSION", "zstd")
	t.Setenv("MYSQL_PORTER_EXPORT_TABLES", "users, orders ,")
	t.Setenv("MYSQL_PORTER_LINK_EXPIRATION", "15m")
	t.Setenv("MYSQL_PORTER_IMPORT_SAFETY_BACKUP", "true")
	t.Setenv("MYSQL_PORTER_STORAGE_PROVIDER", "s3")
	t.Setenv("MYSQL_PORTER_STORAGE_BUCKET", "dumps")
	t.Setenv("MYSQL_PORTER_TARGET_PROVIDER", "gcs")
	t.Setenv("MYSQL_PORTER_TARGET_BUCKET", "dumps-copy")
	t.Setenv("MYSQL_PORTER_REPLICATION_RETRY_DELAY", "2s")

	cfg := Default()
	cfg.LoadFromEnvironment()

	assert.Equal(t, "mysql.internal", cfg.Database.Host)
	assert.Equal(t, 3307, cfg.Database.Port)
	assert.Equal(t, "zstd", cfg.Export.Compression)
	assert.Equal(t, []string{"users", "orders"}, cfg.Export.Tables)
	assert.Equal(t, 15*time.Minute, cfg.Export.LinkExpiration)
	assert.True(t, cfg.Import.SafetyBackup)
	assert.Equal(t, storage.ProviderS3, cfg.Storage.Provider)
	assert.Equal(t, "dumps", cfg.Storage.Bucket)
	assert.Equal(t, storage.ProviderGCS, cfg.Replication.Target.Provider)
	assert.Equal(t, "dumps-copy", cfg.Replication.Target.Bucket)
	assert.Empty(t, cfg.Replication.Source.Provider)
	assert.Equal(t, 2*time.Second, cfg.Replication.RetryDelay)
}

func TestLoadFromBytes(t *testing.T) {
	data := []byte(`
database:
  host: db
  username: porter
  database: shop
export:
  compression: gzip
  link_expiration: 30m
  remote: true
storage:
  provider: s3
  bucket: dumps
  prefix: nightly
  s3:
    region: eu-west-1
replication:
  retry_delay: 250ms
policies:
  users:
    omitted_columns: [email, phone]
    retained_row_keys: ["1"]
  audit_log:
    ignore: true
`)

	cfg, err := LoadFromBytes(data)
	require.NoError(t, err)

	assert.Equal(t, "gzip", cfg.Export.Compression)
	assert.Equal(t, 30*time.Minute, cfg.Export.LinkExpiration)
	assert.Equal(t, 1000, cfg.Export.BatchSize)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, 250*time.Millisecond, cfg.Replication.RetryDelay)
	assert.NoError(t, cfg.ValidateFor(OperationExport))

	registry, err := cfg.PolicyRegistry()
	require.NoError(t, err)
	users := registry.For("users")
	assert.True(t, users.Omits("EMAIL"))
	assert.True(t, users.Retains("1"))
	assert.True(t, registry.For("audit_log").Ignore)
	assert.False(t, registry.For("orders").Redacts())
}

func TestLoadFromBytes_UnknownField(t *testing.T) {
	_, err := LoadFromBytes([]byte("export:\n  batch_sise: 10\n"))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetErrorType(err))
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "porter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("export:\n  batch_size: 250\n"), 0o600))
	t.Setenv("MYSQL_PORTER_EXPORT_BATCH_SIZE", "500")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Export.BatchSize)

	cfg, err = NewLoader(filepath.Join(dir, "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Export.BatchSize)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "porter.yaml")
	cfg := Default()
	cfg.Export.Compression = "lz4"
	cfg.Replication.BatchSize = 25

	loader := NewLoader(path)
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "lz4", loaded.Export.Compression)
	assert.Equal(t, 25, loaded.Replication.BatchSize)
}

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  customers:
    omitted_columns: [email]
    key_columns: [customer_id]
  sessions:
    ignore: true
  countries:
`), 0o600))

	registry := policy.NewRegistry()
	require.NoError(t, LoadPolicies(path, registry))
	assert.Equal(t, []string{"countries", "customers", "sessions"}, registry.Tables())
	assert.Equal(t, []string{"customer_id"}, registry.For("customers").KeyColumns)

	err := LoadPolicies(path, registry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = LoadPolicies(filepath.Join(t.TempDir(), "none.yaml"), policy.NewRegistry())
	assert.Equal(t, apperrors.ErrorTypeFileSystem, apperrors.GetErrorType(err))
}
