package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel string

const (
	// LogLevelQuiet suppresses all output except errors
	LogLevelQuiet LogLevel = "quiet"
	// LogLevelNormal shows standard operational messages
	LogLevelNormal LogLevel = "normal"
	// LogLevelVerbose shows per-table, per-part and per-object detail
	LogLevelVerbose LogLevel = "verbose"
	// LogLevelDebug shows everything, including executed statements
	LogLevelDebug LogLevel = "debug"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Logger provides structured logging for export, import and replication runs
type Logger struct {
	logger *logrus.Logger
	level  LogLevel
}

// Config holds logger configuration
type Config struct {
	Level      LogLevel
	Output     io.Writer
	Format     string // "text" or "json"
	ShowCaller bool
	LogFile    string
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	logger := logrus.New()

	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	logger.SetOutput(output)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		formatter := &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
		if config.ShowCaller {
			formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			}
		}
		logger.SetFormatter(formatter)
	}

	logger.SetLevel(toLogrusLevel(config.Level))
	logger.SetReportCaller(config.ShowCaller)

	if config.LogFile != "" {
		file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFile, err)
		}
		logger.SetOutput(io.MultiWriter(output, file))
	}

	level := config.Level
	if level == "" {
		level = LogLevelNormal
	}

	return &Logger{
		logger: logger,
		level:  level,
	}, nil
}

// NewDefaultLogger creates a logger with default configuration
func NewDefaultLogger() *Logger {
	logger, _ := NewLogger(Config{
		Level:  LogLevelNormal,
		Output: os.Stderr,
		Format: "text",
	})
	return logger
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	logger, _ := NewLogger(Config{Level: LogLevelQuiet, Output: io.Discard})
	return logger
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case LogLevelQuiet:
		return logrus.ErrorLevel
	case LogLevelVerbose:
		return logrus.DebugLevel
	case LogLevelDebug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// WithContext returns a logger entry carrying the context's correlation id, if any
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.logger.WithContext(ctx)
	if id := CorrelationID(ctx); id != "" {
		entry = entry.WithField("correlation_id", id)
	}
	return entry
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(fields)
}

// WithField returns a logger with a single additional field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.logger.WithField(key, value)
}

// LogDatabaseConnection logs database connection attempts
func (l *Logger) LogDatabaseConnection(host string, database string, success bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "database_connection",
		"host":      host,
		"database":  database,
		"duration":  duration.String(),
		"success":   success,
	}

	if success {
		l.logger.WithFields(fields).Info("Database connection established")
		return
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.logger.WithFields(fields).Error("Database connection failed")
}

// LogStatementExecution logs one executed statement during an import
func (l *Logger) LogStatementExecution(index int, sql string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "statement_execution",
		"statement": index,
		"duration":  duration.String(),
		"sql":       TruncateSQL(SanitizeSQL(sql), 200),
	}
	if len(sql) > 200 {
		fields["sql_length"] = len(sql)
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Statement execution failed")
		return
	}
	l.logger.WithFields(fields).Trace("Statement executed")
}

// LogTableExport logs the outcome of exporting one table
func (l *Logger) LogTableExport(table string, rows int64, ignored bool, duration time.Duration, err error) {
	fields := logrus.Fields{
		"operation": "table_export",
		"table":     table,
		"rows":      rows,
		"ignored":   ignored,
		"duration":  duration.String(),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Table export failed")
		return
	}
	l.logger.WithFields(fields).Debug("Table exported")
}

// LogPartUpload logs a single multipart upload part
func (l *Logger) LogPartUpload(key string, partNumber int, size int, etag string, err error) {
	fields := logrus.Fields{
		"operation":   "part_upload",
		"key":         key,
		"part_number": partNumber,
		"bytes":       size,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Error("Part upload failed")
		return
	}
	fields["etag"] = etag
	l.logger.WithFields(fields).Debug("Part uploaded")
}

// LogObjectCopy logs one replication copy attempt
func (l *Logger) LogObjectCopy(key string, attempt int, err error) {
	fields := logrus.Fields{
		"operation": "object_copy",
		"key":       key,
		"attempt":   attempt,
	}

	if err != nil {
		fields["error"] = err.Error()
		l.logger.WithFields(fields).Warn("Object copy attempt failed")
		return
	}
	l.logger.WithFields(fields).Debug("Object copied")
}

// LogReplicationBatch logs the summary of one replication batch
func (l *Logger) LogReplicationBatch(batch, size, missing, failed int, duration time.Duration) {
	l.logger.WithFields(logrus.Fields{
		"operation": "replication_batch",
		"batch":     batch,
		"size":      size,
		"missing":   missing,
		"failed":    failed,
		"duration":  duration.String(),
	}).Info("Replication batch processed")
}

// Info logs an info message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) {
	l.logger.Debug(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.logger.SetLevel(toLogrusLevel(level))
}

// IsLevelEnabled checks if a log level is enabled
func (l *Logger) IsLevelEnabled(level LogLevel) bool {
	switch level {
	case LogLevelQuiet, LogLevelNormal, LogLevelVerbose, LogLevelDebug:
		return l.logger.IsLevelEnabled(toLogrusLevel(level))
	default:
		return false
	}
}

// LogOperationStart logs the start of an operation and returns a function to log completion
func (l *Logger) LogOperationStart(operation string, fields map[string]interface{}) func(error) {
	startTime := time.Now()

	logFields := logrus.Fields{
		"operation": operation,
		"status":    "started",
	}
	for k, v := range fields {
		logFields[k] = v
	}

	l.logger.WithFields(logFields).Debug("Operation started")

	return func(err error) {
		logFields["status"] = "completed"
		logFields["duration"] = time.Since(startTime).String()

		if err != nil {
			logFields["error"] = err.Error()
			logFields["success"] = false
			l.logger.WithFields(logFields).Error("Operation failed")
			return
		}
		logFields["success"] = true
		l.logger.WithFields(logFields).Info("Operation completed")
	}
}

// WithCorrelationID stores a correlation id used to tie together the log lines of one run
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID extracts the correlation id from ctx
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

var (
	identifiedByPattern = regexp.MustCompile(`(?i)(IDENTIFIED\s+(?:WITH\s+\S+\s+)?BY\s+)('[^']*'|"[^"]*")`)
	passwordPattern     = regexp.MustCompile(`(?i)(password\s*=\s*)('[^']*'|"[^"]*"|[^\s,;)]+)`)
)

// SanitizeSQL masks credentials before SQL reaches a log sink
func SanitizeSQL(sql string) string {
	sql = identifiedByPattern.ReplaceAllString(sql, "${1}'***'")
	return passwordPattern.ReplaceAllString(sql, "${1}***")
}

// TruncateSQL shortens sql to at most max bytes for display
func TruncateSQL(sql string, max int) string {
	if max <= 0 || len(sql) <= max {
		return sql
	}
	return sql[:max] + "..."
}
