package importer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"mysql-porter/internal/compression"
	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/storage"
)

// Execer runs a single statement. *sql.DB, *sql.Conn and *sql.Tx satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Options configure a Runner
type Options struct {
	ChunkSize int
	Logger    *logging.Logger
	// OnStatement is called after every executed statement.
	OnStatement func(index int, bytesRead int64)
}

// Result summarizes a finished import
type Result struct {
	Source     string        `json:"source" yaml:"source"`
	Statements int           `json:"statements" yaml:"statements"`
	Bytes      int64         `json:"bytes" yaml:"bytes"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Runner executes every statement of a dump in order. The first failing
// statement stops the import.
type Runner struct {
	db          Execer
	compressors *compression.Manager
	options     Options
	logger      *logging.Logger
}

// NewRunner creates a Runner executing against db
func NewRunner(db Execer, options Options) *Runner {
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{
		db:          db,
		compressors: compression.NewManager(),
		options:     options,
		logger:      logger,
	}
}

// Run executes the statements read from r
func (r *Runner) Run(ctx context.Context, reader io.Reader) (*Result, error) {
	start := time.Now()
	splitter := NewSplitter(reader, r.options.ChunkSize)
	result := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			return result, apperrors.NewAppError(apperrors.ErrorTypeInterruption, "import canceled", err).
				WithContext("statements", result.Statements)
		}

		stmt, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, apperrors.WrapError(err, "failed to read dump")
		}

		index := result.Statements + 1
		stmtStart := time.Now()
		_, err = r.db.ExecContext(ctx, stmt)
		r.logger.LogStatementExecution(index, stmt, time.Since(stmtStart), err)
		if err != nil {
			return result, statementError(index, stmt, err)
		}

		result.Statements = index
		result.Bytes = splitter.BytesRead()
		if r.options.OnStatement != nil {
			r.options.OnStatement(index, result.Bytes)
		}
	}

	result.Bytes = splitter.BytesRead()
	result.Duration = time.Since(start)
	return result, nil
}

// RunFile imports a local dump, decompressing it by file extension
func (r *Runner) RunFile(ctx context.Context, path string) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to open %s", path))
	}
	defer file.Close()

	return r.runCompressed(ctx, path, file)
}

// RunObject imports a dump stored in an object store
func (r *Runner) RunObject(ctx context.Context, store storage.ObjectStore, key string) (*Result, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("failed to download %s", key))
	}
	defer body.Close()

	return r.runCompressed(ctx, fmt.Sprintf("%s/%s", store.Bucket(), key), body)
}

func (r *Runner) runCompressed(ctx context.Context, name string, body io.Reader) (*Result, error) {
	algorithm := r.compressors.DetectFromName(name)
	reader, err := r.compressors.Reader(body, algorithm)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("failed to open %s as %s", name, algorithm), err)
	}
	defer reader.Close()

	finish := r.logger.LogOperationStart("import", map[string]interface{}{
		"source":      name,
		"compression": string(algorithm),
	})
	result, err := r.Run(ctx, reader)
	if result != nil {
		result.Source = name
	}
	finish(err)
	return result, err
}

func statementError(index int, stmt string, cause error) error {
	appErr := apperrors.NewErrorClassifier().ClassifyError(cause)
	err := apperrors.NewAppError(apperrors.ErrorTypeSQL, fmt.Sprintf("statement %d failed", index), cause)
	if appErr != nil && appErr.Type != apperrors.ErrorTypeUnknown {
		err.Type = appErr.Type
	}
	err.WithContext("statement_index", index).
		WithContext("statement", logging.TruncateSQL(logging.SanitizeSQL(stmt), 200))
	err.UserMessage = fmt.Sprintf("Import stopped at statement %d (%s): %v",
		index, logging.TruncateSQL(logging.SanitizeSQL(stmt), 80), apperrors.RootCause(cause))
	return err
}
