package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"mysql-porter/internal/artifact"
	"mysql-porter/internal/compression"
	"mysql-porter/internal/config"
	"mysql-porter/internal/confirmation"
	"mysql-porter/internal/database"
	"mysql-porter/internal/display"
	"mysql-porter/internal/dump"
	appErrors "mysql-porter/internal/errors"
	"mysql-porter/internal/importer"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/policy"
	"mysql-porter/internal/replicate"
	"mysql-porter/internal/schema"
	"mysql-porter/internal/storage"
	"mysql-porter/internal/upload"
)

// ErrImportDeclined is returned when the operator declines an import
var ErrImportDeclined = errors.New("import declined")

// Connector opens and inspects database connections. database.Service satisfies it.
type Connector interface {
	Connect(ctx context.Context, config database.DatabaseConfig) (*sql.DB, error)
	Close(db *sql.DB) error
	GetVersion(ctx context.Context, db *sql.DB) (string, error)
}

// StorageFactory builds object store providers. storage.Factory satisfies it.
type StorageFactory interface {
	Create(ctx context.Context, config storage.Config) (storage.Provider, error)
	ForReference(ctx context.Context, base storage.Config, ref storage.Reference) (storage.Provider, error)
}

// Application wires configuration, database, storage and output together
// and runs the top-level operations.
type Application struct {
	config          *config.Config
	logger          *logging.Logger
	display         *display.Service
	db              Connector
	storage         StorageFactory
	policies        *policy.Registry
	tokenizer       *artifact.Tokenizer
	confirmer       confirmation.ConfirmationService
	shutdownHandler *appErrors.GracefulShutdownHandler
	now             func() time.Time
}

// Option customizes an Application
type Option func(*Application)

// WithLogger replaces the logger built from configuration
func WithLogger(logger *logging.Logger) Option {
	return func(a *Application) { a.logger = logger }
}

// WithDisplay replaces the display service built from configuration
func WithDisplay(svc *display.Service) Option {
	return func(a *Application) { a.display = svc }
}

// WithDatabase replaces the database connector
func WithDatabase(db Connector) Option {
	return func(a *Application) { a.db = db }
}

// WithStorage replaces the storage factory
func WithStorage(factory StorageFactory) Option {
	return func(a *Application) { a.storage = factory }
}

// WithConfirmer asks before every import unless import.auto_approve is set
func WithConfirmer(confirmer confirmation.ConfirmationService) Option {
	return func(a *Application) { a.confirmer = confirmer }
}

// New creates an application from a loaded configuration
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	app := &Application{
		config:          cfg,
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		logger, err := logging.NewLogger(cfg.Logging.LoggerConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.logger = logger
	}
	if app.display == nil {
		app.display = display.NewService(&cfg.Display)
	}
	if app.db == nil {
		app.db = database.NewService(app.logger)
	}
	if app.storage == nil {
		app.storage = storage.NewFactory()
	}

	registry, err := cfg.PolicyRegistry()
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeValidation, "invalid export policies", err)
	}
	app.policies = registry

	if cfg.Artifacts.Secret != "" {
		tokenizer, err := artifact.NewTokenizer(cfg.Artifacts.Root, cfg.Artifacts.Secret)
		if err != nil {
			return nil, err
		}
		app.tokenizer = tokenizer
	}

	return app, nil
}

// Config returns the active configuration
func (app *Application) Config() *config.Config {
	return app.config
}

// GetLogger returns the application logger
func (app *Application) GetLogger() *logging.Logger {
	return app.logger
}

// Display returns the output service
func (app *Application) Display() *display.Service {
	return app.display
}

// Policies returns the export policy registry in use
func (app *Application) Policies() *policy.Registry {
	return app.policies
}

// Start returns a context that is canceled on SIGINT or SIGTERM
func (app *Application) Start(parent context.Context) context.Context {
	app.shutdownHandler.RegisterShutdownFunc(func() error {
		app.logger.Warn("Interrupted, open uploads and partial files are being cleaned up")
		return nil
	})
	return app.shutdownHandler.Start(parent)
}

// Shutdown stops signal handling
func (app *Application) Shutdown() {
	app.shutdownHandler.Stop()
}

// ExportRequest names the dump to produce. An empty Output generates a name.
type ExportRequest struct {
	Output string
}

// Export dumps the configured database to a local artifact or, when remote
// export is enabled, straight into object storage.
func (app *Application) Export(ctx context.Context, req ExportRequest) (manifest *artifact.Manifest, err error) {
	if err := app.validate(config.OperationExport); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ctx = logging.WithCorrelationID(ctx, id)
	exportCfg := app.config.Export

	finish := app.logger.LogOperationStart("export", map[string]interface{}{
		"correlation_id": id,
		"database":       app.config.Database.Database,
		"remote":         exportCfg.Remote,
	})
	defer func() { finish(err) }()

	algorithm, err := compression.ParseType(exportCfg.Compression)
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeValidation, "invalid compression", err)
	}
	ext := compression.NewManager().Extension(algorithm)

	name := artifact.NewName(ext)
	if req.Output != "" {
		name = artifact.EnsureExtension(req.Output, ext)
	}

	db, err := app.db.Connect(ctx, app.config.Database)
	if err != nil {
		return nil, err
	}
	defer app.db.Close(db)

	version, err := app.db.GetVersion(ctx, db)
	if err != nil {
		app.logger.WithField("error", err.Error()).Warn("Could not read server version")
	}

	writer := app.newWriter(db, app.policies, exportCfg.EmptyStringAsNull)
	writer.OnStateChange(func(state dump.State, table string) {
		if table != "" {
			app.display.Verbose(fmt.Sprintf("%s: %s", table, state))
		}
	})

	var (
		sink     dump.Sink
		session  *upload.Session
		provider storage.Provider
	)
	if exportCfg.Remote {
		provider, err = app.storage.Create(ctx, app.config.Storage)
		if err != nil {
			return nil, err
		}
		defer closeProvider(provider)

		key := storage.JoinKey(app.config.Storage.Prefix, name)
		attrs := storage.Attributes{ContentType: contentType(algorithm), Visibility: storage.VisibilityPrivate}
		expiration := exportCfg.LinkExpiration
		if exportCfg.PublicLink {
			attrs.Visibility = storage.VisibilityPublic
			expiration = 0
		}
		remote, err := upload.NewSink(ctx, provider, key, attrs, expiration, upload.Options{
			Concurrency: exportCfg.PartConcurrency,
			Logger:      app.logger,
		})
		if err != nil {
			return nil, err
		}
		sink, session = remote, remote.Session()
	} else {
		path := filepath.Join(app.config.Artifacts.Root, name)
		local, err := dump.NewFileSink(path, exportCfg.KeepPartial)
		if err != nil {
			return nil, appErrors.WrapError(err, "failed to create export file")
		}
		sink = local
	}

	result, err := writer.Export(ctx, sink, dump.ExportOptions{
		DropIfExists:     exportCfg.DropIfExists,
		BufferSize:       app.bufferSize(),
		Tables:           exportCfg.Tables,
		ExcludeTables:    exportCfg.ExcludeTables,
		Compression:      algorithm,
		CompressionLevel: exportCfg.CompressionLevel,
		ServerVersion:    version,
	})
	if err != nil {
		return nil, exportError(err)
	}

	manifest = artifact.NewManifest(id, app.config.Database.Database, exportCfg.Remote, string(algorithm), result)
	if session != nil {
		manifest.Parts = len(session.Parts())
		manifest.Stored = session.Bytes()
	} else if app.tokenizer != nil {
		token, err := app.tokenizer.Token(result.Location)
		if err != nil {
			return nil, err
		}
		manifest.Token = token
	}
	return manifest, nil
}

// ImportRequest names the dump to import: a local path, a remote reference
// such as s3://bucket/key, or an artifact token.
type ImportRequest struct {
	Source string
	Token  string
}

// Import replays a dump into the configured database. With a safety backup
// enabled, a failed import is followed by a replay of the backup and the
// original error is returned.
func (app *Application) Import(ctx context.Context, req ImportRequest) (result *importer.Result, err error) {
	if err := app.validate(config.OperationImport); err != nil {
		return nil, err
	}
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())

	if app.confirmer != nil {
		source := req.Source
		if source == "" {
			source = "artifact token"
		}
		ok, err := app.confirmer.ConfirmImport(ctx, &confirmation.ImportPlan{
			Source:       source,
			Host:         app.config.Database.Host,
			Database:     app.config.Database.Database,
			SafetyBackup: app.config.Import.SafetyBackup,
			BackupDir:    app.config.Import.BackupDir,
		}, app.config.Import.AutoApprove)
		if err != nil {
			return nil, appErrors.WrapError(err, "import confirmation failed")
		}
		if !ok {
			return nil, ErrImportDeclined
		}
	}

	run, err := app.importSource(ctx, req)
	if err != nil {
		return nil, err
	}

	db, err := app.db.Connect(ctx, app.config.Database)
	if err != nil {
		return nil, err
	}
	defer app.db.Close(db)

	var backup string
	if app.config.Import.SafetyBackup {
		backup, err = app.safetyBackup(ctx, db)
		if err != nil {
			return nil, appErrors.WrapError(err, "safety backup failed, import not started")
		}
		app.display.Info("Safety backup written to " + backup)
	}

	result, err = app.runPinned(ctx, db, func(conn importer.Execer) (*importer.Result, error) {
		runner := importer.NewRunner(conn, importer.Options{
			ChunkSize: app.config.Import.ChunkSize,
			Logger:    app.logger,
			OnStatement: func(index int, bytesRead int64) {
				if index%1000 == 0 {
					app.display.Verbose(fmt.Sprintf("%d statements, %s read", index, display.FormatBytes(bytesRead)))
				}
			},
		})
		return run(ctx, runner)
	})
	if err == nil || backup == "" {
		return result, err
	}

	app.display.Warning("Import failed, restoring the safety backup")
	_, restoreErr := app.runPinned(context.WithoutCancel(ctx), db, func(conn importer.Execer) (*importer.Result, error) {
		restore := importer.NewRunner(conn, importer.Options{ChunkSize: app.config.Import.ChunkSize, Logger: app.logger})
		return restore.RunFile(context.WithoutCancel(ctx), backup)
	})
	if restoreErr != nil {
		app.logger.WithField("backup", backup).Error("Restoring the safety backup failed")
		return result, errors.Join(err, appErrors.WrapError(restoreErr, "failed to restore safety backup "+backup))
	}
	app.display.Info("Database restored from " + backup)
	return result, err
}

// runPinned runs fn on a single reserved connection so session settings
// issued by a dump (SET FOREIGN_KEY_CHECKS, SET NAMES, ...) apply to every
// statement that follows them.
func (app *Application) runPinned(ctx context.Context, db *sql.DB, fn func(conn importer.Execer) (*importer.Result, error)) (*importer.Result, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeConnection, "failed to reserve a database connection", err)
	}
	defer conn.Close()
	return fn(conn)
}

type importFunc func(ctx context.Context, runner *importer.Runner) (*importer.Result, error)

// importSource resolves the request into a function running the import.
func (app *Application) importSource(ctx context.Context, req ImportRequest) (importFunc, error) {
	if req.Token != "" {
		if app.tokenizer == nil {
			return nil, appErrors.NewAppError(appErrors.ErrorTypeValidation, "artifact tokens need artifacts.secret to be configured", nil)
		}
		path, err := app.tokenizer.Resolve(req.Token)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, runner *importer.Runner) (*importer.Result, error) {
			return runner.RunFile(ctx, path)
		}, nil
	}

	if req.Source == "" {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeValidation, "an import source or token is required", nil)
	}

	ref, remote, err := storage.ParseReference(req.Source)
	if err != nil {
		return nil, appErrors.NewAppError(appErrors.ErrorTypeValidation, "invalid import source", err)
	}
	if !remote {
		return func(ctx context.Context, runner *importer.Runner) (*importer.Result, error) {
			return runner.RunFile(ctx, req.Source)
		}, nil
	}

	provider, err := app.storage.ForReference(ctx, app.config.Storage, ref)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, runner *importer.Runner) (*importer.Result, error) {
		defer closeProvider(provider)
		return runner.RunObject(ctx, provider, ref.Key)
	}, nil
}

// safetyBackup exports the whole database verbatim and returns the file path.
func (app *Application) safetyBackup(ctx context.Context, db *sql.DB) (string, error) {
	dir := app.config.Import.BackupDir
	if dir == "" {
		dir = app.config.Artifacts.Root
	}
	path := filepath.Join(dir, fmt.Sprintf("backup_%s.sql", app.now().UTC().Format("20060102_150405")))

	sink, err := dump.NewFileSink(path, false)
	if err != nil {
		return "", err
	}
	writer := app.newWriter(db, policy.NewRegistry(), false)
	if _, err := writer.Export(ctx, sink, dump.ExportOptions{
		DropIfExists: true,
		BufferSize:   app.bufferSize(),
	}); err != nil {
		return "", err
	}
	return path, nil
}

// Replicate copies every object missing from the target bucket
func (app *Application) Replicate(ctx context.Context) (*replicate.Report, error) {
	if err := app.validate(config.OperationReplicate); err != nil {
		return nil, err
	}
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	rc := app.config.Replication

	source, err := app.storage.Create(ctx, rc.Source)
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to open source bucket")
	}
	defer closeProvider(source)
	target, err := app.storage.Create(ctx, rc.Target)
	if err != nil {
		return nil, appErrors.WrapError(err, "failed to open target bucket")
	}
	defer closeProvider(target)

	bar := app.display.NewProgressBar(0, "listing "+source.Bucket())
	replicator := replicate.New(replicate.Options{
		BatchSize:   rc.BatchSize,
		MaxAttempts: rc.MaxAttempts,
		RetryDelay:  rc.RetryDelay,
		Concurrency: rc.Concurrency,
		RateLimit:   rc.RateLimit,
		Logger:      app.logger,
		OnListed:    func(total int) { bar.SetTotal(int64(total)) },
		OnBatch:     app.display.BatchProgress(bar),
	})

	report, err := replicator.Replicate(ctx, source, target)
	if err != nil {
		bar.Finish("failed")
		return report, err
	}
	bar.Finish(fmt.Sprintf("%d copied, %d failed", report.Stats.Copied, report.Stats.Failed))
	return report, nil
}

// Token returns the download token of a local artifact
func (app *Application) Token(path string) (string, error) {
	if err := app.validate(config.OperationToken); err != nil {
		return "", err
	}
	if app.tokenizer == nil {
		return "", appErrors.NewAppError(appErrors.ErrorTypeValidation, "artifact tokens are disabled", nil)
	}
	return app.tokenizer.Token(path)
}

// ResolveToken returns the artifact path behind token
func (app *Application) ResolveToken(token string) (string, error) {
	if err := app.validate(config.OperationToken); err != nil {
		return "", err
	}
	if app.tokenizer == nil {
		return "", appErrors.NewAppError(appErrors.ErrorTypeValidation, "artifact tokens are disabled", nil)
	}
	return app.tokenizer.Resolve(token)
}

// validate checks the configuration sections op depends on.
func (app *Application) validate(op config.Operation) error {
	if err := app.config.ValidateFor(op); err != nil {
		return appErrors.NewAppError(appErrors.ErrorTypeValidation, fmt.Sprintf("invalid configuration for %s", op), err)
	}
	return nil
}

func (app *Application) newWriter(db *sql.DB, registry *policy.Registry, emptyAsNull bool) *dump.Writer {
	extractor := schema.NewExtractor(db)
	transformer := dump.NewTransformer(dump.NewSynthesizer(app.config.Export.Seed))
	generator := dump.NewGenerator(db, extractor, app.config.Database.Database, transformer, dump.GeneratorOptions{
		BatchSize:         app.config.Export.BatchSize,
		EmptyStringAsNull: emptyAsNull,
	})
	return dump.NewWriter(generator, registry, app.logger)
}

// bufferSize returns the configured flush threshold or one derived from the
// process memory limit.
func (app *Application) bufferSize() int {
	if app.config.Export.BufferSize > 0 {
		return app.config.Export.BufferSize
	}
	return dump.BufferSizeFor(uint64(debug.SetMemoryLimit(-1)))
}

// ReportError prints err for the user, followed by troubleshooting hints
// for its error type.
func (app *Application) ReportError(w io.Writer, err error) {
	if err == nil {
		return
	}
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Error: %s\n", appErrors.FormatUserError(err))

	var appErr *appErrors.AppError
	if !errors.As(err, &appErr) {
		return
	}
	app.logger.WithFields(map[string]interface{}{
		"error_type":  string(appErr.Type),
		"recoverable": appErr.IsRecoverable(),
		"context":     appErr.Context,
	}).Error("Operation failed")

	if hints := troubleshootingHints(appErr.Type); len(hints) > 0 {
		fmt.Fprintf(w, "\nTroubleshooting hints:\n")
		for _, hint := range hints {
			fmt.Fprintf(w, "- %s\n", hint)
		}
	}
}

func troubleshootingHints(t appErrors.ErrorType) []string {
	switch t {
	case appErrors.ErrorTypeConnection:
		return []string{
			"Check that the database server is running",
			"Verify the host and port are correct",
			"Ensure network connectivity to the database server",
		}
	case appErrors.ErrorTypePermission:
		return []string{
			"Verify the database username and password",
			"Check that the user can read INFORMATION_SCHEMA and the exported tables",
			"For object storage, check the bucket credentials and ACLs",
		}
	case appErrors.ErrorTypeValidation:
		return []string{
			"Review the configuration file and command line flags",
			"Run with --verbose to see which setting was rejected",
		}
	case appErrors.ErrorTypeTimeout:
		return []string{
			"The operation may be taking longer than expected",
			"Check database and object store latency",
		}
	case appErrors.ErrorTypeSQL:
		return []string{
			"The dump may target a different MySQL version",
			"Check that the user may create and drop the imported tables",
		}
	case appErrors.ErrorTypeStorage:
		return []string{
			"Verify the bucket exists and the region or endpoint is correct",
			"Check the storage credentials",
		}
	case appErrors.ErrorTypeFileSystem:
		return []string{
			"Check that the artifact root exists and is writable",
		}
	case appErrors.ErrorTypeInterruption:
		return []string{
			"The operation was interrupted; open uploads were aborted",
			"Use export.keep_partial to keep partial local dumps for inspection",
		}
	}
	return nil
}

func exportError(err error) error {
	if appErrors.GetErrorType(err) != appErrors.ErrorTypeUnknown {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return appErrors.NewAppError(appErrors.ErrorTypeInterruption, "export canceled", err)
	}
	return appErrors.WrapError(err, "export failed")
}

func contentType(t compression.Type) string {
	switch t {
	case compression.TypeGzip:
		return "application/gzip"
	case compression.TypeZstd:
		return "application/zstd"
	case compression.TypeLZ4:
		return "application/x-lz4"
	}
	return "application/sql"
}

func closeProvider(p storage.ObjectStore) {
	if c, ok := p.(io.Closer); ok {
		c.Close()
	}
}
