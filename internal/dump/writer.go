package dump

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
	"time"

	"mysql-porter/internal/compression"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/policy"
	"mysql-porter/internal/schema"
)

// State is the phase of an export run.
type State int

const (
	StateIdle State = iota
	StateSchemaPhase
	StateDataPhase
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSchemaPhase:
		return "schema"
	case StateDataPhase:
		return "data"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	// MinBufferSize and MaxBufferSize bound the flush threshold.
	MinBufferSize = 5 << 20
	MaxBufferSize = 10 << 20

	preamble  = "SET NAMES utf8mb4;\nSET FOREIGN_KEY_CHECKS=0;\n"
	postamble = "\nSET FOREIGN_KEY_CHECKS=1;\n"
)

// BufferSizeFor sizes the flush threshold relative to available memory:
// a tenth of it, clamped to [MinBufferSize, MaxBufferSize].
func BufferSizeFor(availableMemory uint64) int {
	size := availableMemory / 10
	if size < MinBufferSize {
		return MinBufferSize
	}
	if size > MaxBufferSize {
		return MaxBufferSize
	}
	return int(size)
}

// Sink receives the flushed chunks of one export. Chunks are handed over in
// order and are not reused by the writer.
type Sink interface {
	WriteChunk(ctx context.Context, chunk []byte) error
	// Close finalizes the output and returns its location.
	Close(ctx context.Context) (string, error)
	// Abort discards or flags the partial output.
	Abort(ctx context.Context) error
}

// ExportOptions configures one export run.
type ExportOptions struct {
	DropIfExists  bool
	BufferSize    int
	Tables        []string
	ExcludeTables []string
	Compression   compression.Type
	// CompressionLevel zero selects the algorithm's default.
	CompressionLevel int
	ServerVersion    string
}

// TableStat summarizes one exported table.
type TableStat struct {
	Name     string        `json:"name" yaml:"name"`
	Rows     int64         `json:"rows" yaml:"rows"`
	Pages    int           `json:"pages" yaml:"pages"`
	Ignored  bool          `json:"ignored" yaml:"ignored"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Result describes a finished export.
type Result struct {
	Location     string      `json:"location" yaml:"location"`
	Tables       []TableStat `json:"tables" yaml:"tables"`
	Rows         int64       `json:"rows" yaml:"rows"`
	BytesWritten int64       `json:"bytes_written" yaml:"bytes_written"`
	BytesFlushed int64       `json:"bytes_flushed" yaml:"bytes_flushed"`
	Chunks       int         `json:"chunks" yaml:"chunks"`
	PeakBuffer   int         `json:"peak_buffer" yaml:"peak_buffer"`
	Checksum     string      `json:"sha256" yaml:"sha256"`
	StartedAt    time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time   `json:"finished_at" yaml:"finished_at"`
}

// Writer drives schema emission and data generation across every table of a
// schema and streams the dump into a Sink through a bounded buffer.
// A Writer runs one export at a time.
type Writer struct {
	generator   *Generator
	emitter     *schema.Emitter
	policies    *policy.Registry
	compressors *compression.Manager
	logger      *logging.Logger
	now         func() time.Time

	state    State
	observer func(state State, table string)
}

// NewWriter creates an export writer. A nil registry exports every table verbatim.
func NewWriter(generator *Generator, policies *policy.Registry, logger *logging.Logger) *Writer {
	if policies == nil {
		policies = policy.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Writer{
		generator:   generator,
		emitter:     schema.NewEmitter(generator.extractor),
		policies:    policies,
		compressors: compression.NewManager(),
		logger:      logger,
		now:         time.Now,
	}
}

// OnStateChange registers fn to be called on every state transition.
func (w *Writer) OnStateChange(fn func(state State, table string)) {
	w.observer = fn
}

// State returns the current state.
func (w *Writer) State() State {
	return w.state
}

func (w *Writer) transition(state State, table string) {
	w.state = state
	if w.observer != nil {
		w.observer(state, table)
	}
}

// run holds the output chain of one export:
// text -> (sha256, compressor -> chunkBuffer -> sink).
type run struct {
	out     io.Writer
	hasher  hash.Hash
	comp    io.WriteCloser
	buffer  *chunkBuffer
	written int64
	closed  bool
}

func (r *run) write(s string) error {
	n, err := io.WriteString(r.out, s)
	r.written += int64(n)
	return err
}

// Export writes the full dump into sink and returns the result. On failure
// the foreign key bracket is closed on a best-effort basis, the sink is
// aborted and the error is returned.
func (w *Writer) Export(ctx context.Context, sink Sink, opts ExportOptions) (*Result, error) {
	if w.state != StateIdle && w.state != StateDone && w.state != StateFailed {
		return nil, fmt.Errorf("export already in progress (state %s)", w.state)
	}
	w.transition(StateIdle, "")

	if opts.BufferSize <= 0 {
		opts.BufferSize = MinBufferSize
	}
	result := &Result{StartedAt: w.now()}

	buffer := &chunkBuffer{ctx: ctx, sink: sink, threshold: opts.BufferSize}
	comp, err := w.compressors.Writer(buffer, opts.Compression, opts.CompressionLevel)
	if err != nil {
		_ = sink.Abort(context.WithoutCancel(ctx))
		w.transition(StateFailed, "")
		return nil, err
	}
	hasher := sha256.New()
	r := &run{out: io.MultiWriter(hasher, comp), hasher: hasher, comp: comp, buffer: buffer}

	if err := w.export(ctx, r, opts, result); err != nil {
		w.fail(ctx, r, sink, err)
		return nil, err
	}

	w.transition(StateFinalizing, "")
	location, err := w.finalize(ctx, r, sink)
	if err != nil {
		w.fail(ctx, r, sink, err)
		return nil, err
	}

	result.Location = location
	result.BytesWritten = r.written
	result.BytesFlushed = buffer.flushed
	result.Chunks = buffer.chunks
	result.PeakBuffer = buffer.peak
	result.Checksum = hex.EncodeToString(hasher.Sum(nil))
	result.FinishedAt = w.now()
	w.transition(StateDone, "")
	return result, nil
}

func (w *Writer) export(ctx context.Context, r *run, opts ExportOptions, result *Result) error {
	all, err := w.generator.extractor.ListTables(ctx, w.generator.schemaName)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := selectTables(all, opts.Tables, opts.ExcludeTables)
	if err != nil {
		return err
	}

	if err := r.write(w.header(opts)); err != nil {
		return fmt.Errorf("failed to write dump header: %w", err)
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		stat, err := w.exportTable(ctx, r, table, opts.DropIfExists)
		w.logger.LogTableExport(table, stat.Rows, stat.Ignored, stat.Duration, err)
		if err != nil {
			return err
		}
		result.Tables = append(result.Tables, stat)
		result.Rows += stat.Rows
		w.transition(StateIdle, "")
	}
	return nil
}

func (w *Writer) exportTable(ctx context.Context, r *run, table string, dropIfExists bool) (TableStat, error) {
	start := w.now()
	stat := TableStat{Name: table}

	w.transition(StateSchemaPhase, table)
	ddl, err := w.emitter.Emit(ctx, table, dropIfExists)
	if err != nil {
		return stat, fmt.Errorf("failed to emit schema for table %s: %w", table, err)
	}
	if err := r.write(ddl); err != nil {
		return stat, fmt.Errorf("failed to write schema for table %s: %w", table, err)
	}

	p := w.policies.For(table)
	if p.Ignore {
		stat.Ignored = true
		stat.Duration = w.now().Sub(start)
		return stat, nil
	}

	w.transition(StateDataPhase, table)
	inserts, err := w.generator.Paginate(ctx, table, p)
	if err != nil {
		return stat, err
	}
	for inserts.Next(ctx) {
		if err := r.write(inserts.Statement()); err != nil {
			return stat, fmt.Errorf("failed to write data for table %s: %w", table, err)
		}
	}
	stat.Rows = inserts.Count()
	stat.Pages = inserts.Pages()
	stat.Duration = w.now().Sub(start)
	if err := inserts.Err(); err != nil {
		return stat, err
	}
	return stat, nil
}

func (w *Writer) finalize(ctx context.Context, r *run, sink Sink) (string, error) {
	if err := r.write(postamble); err != nil {
		return "", fmt.Errorf("failed to write dump footer: %w", err)
	}
	r.closed = true
	if err := r.comp.Close(); err != nil {
		return "", fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := r.buffer.flush(); err != nil {
		return "", err
	}
	location, err := sink.Close(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to finalize dump: %w", err)
	}
	return location, nil
}

// fail closes the foreign key bracket when the sink still accepts data, then
// aborts the sink. Cleanup ignores cancellation of ctx.
func (w *Writer) fail(ctx context.Context, r *run, sink Sink, cause error) {
	cleanup := context.WithoutCancel(ctx)
	if r.buffer.err == nil && !r.closed {
		r.closed = true
		r.buffer.ctx = cleanup
		_ = r.write(fmt.Sprintf("\n-- Dump aborted: %s\n", strings.ReplaceAll(cause.Error(), "\n", " ")))
		_ = r.write(postamble)
		if r.comp.Close() == nil {
			_ = r.buffer.flush()
		}
	}
	if err := sink.Abort(cleanup); err != nil {
		w.logger.WithField("error", err.Error()).Warn("Failed to abort export output")
	}
	w.transition(StateFailed, "")
}

func (w *Writer) header(opts ExportOptions) string {
	var b strings.Builder
	b.WriteString("-- mysql-porter SQL dump\n--\n")
	fmt.Fprintf(&b, "-- Database: %s\n", w.generator.schemaName)
	if opts.ServerVersion != "" {
		fmt.Fprintf(&b, "-- Server version: %s\n", opts.ServerVersion)
	}
	fmt.Fprintf(&b, "-- Generated: %s\n\n", w.now().UTC().Format(time.RFC3339))
	b.WriteString(preamble)
	return b.String()
}

// selectTables applies the include and exclude lists to the discovered tables,
// keeping discovery order. Included tables must exist.
func selectTables(all, include, exclude []string) ([]string, error) {
	known := make(map[string]string, len(all))
	for _, t := range all {
		known[strings.ToLower(t)] = t
	}

	selected := all
	if len(include) > 0 {
		wanted := make(map[string]struct{}, len(include))
		for _, t := range include {
			if _, ok := known[strings.ToLower(t)]; !ok {
				return nil, fmt.Errorf("table %s does not exist", t)
			}
			wanted[strings.ToLower(t)] = struct{}{}
		}
		selected = nil
		for _, t := range all {
			if _, ok := wanted[strings.ToLower(t)]; ok {
				selected = append(selected, t)
			}
		}
	}

	if len(exclude) == 0 {
		return selected, nil
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, t := range exclude {
		skip[strings.ToLower(t)] = struct{}{}
	}
	out := make([]string, 0, len(selected))
	for _, t := range selected {
		if _, ok := skip[strings.ToLower(t)]; !ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// chunkBuffer accumulates output and hands it to the sink whenever it reaches
// the threshold. After a failed flush every write returns the same error.
type chunkBuffer struct {
	ctx       context.Context
	sink      Sink
	threshold int
	buf       bytes.Buffer

	flushed int64
	chunks  int
	peak    int
	err     error
}

func (c *chunkBuffer) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.buf.Write(p)
	if c.buf.Len() > c.peak {
		c.peak = c.buf.Len()
	}
	if c.buf.Len() >= c.threshold {
		if err := c.flush(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (c *chunkBuffer) flush() error {
	if c.err != nil {
		return c.err
	}
	if c.buf.Len() == 0 {
		return nil
	}
	chunk := bytes.Clone(c.buf.Bytes())
	if err := c.sink.WriteChunk(c.ctx, chunk); err != nil {
		c.err = fmt.Errorf("failed to flush chunk %d: %w", c.chunks+1, err)
		return c.err
	}
	c.flushed += int64(len(chunk))
	c.chunks++
	c.buf.Reset()
	return nil
}
