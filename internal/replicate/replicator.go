// Package replicate copies every object of a source bucket that is missing
// from a target bucket.
package replicate

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/storage"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Options configure a Replicator
type Options struct {
	BatchSize   int
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts. Negative disables waiting.
	RetryDelay time.Duration
	// Concurrency bounds the copies running at once within a batch.
	Concurrency int
	// RateLimit caps copy attempts per second. Zero disables the limit.
	RateLimit float64
	Logger    *logging.Logger
	// OnListed is called once with the number of source keys.
	OnListed func(total int)
	// OnBatch is called after every batch.
	OnBatch func(BatchReport)
}

// BatchReport summarizes one processed batch
type BatchReport struct {
	Number   int           `json:"number" yaml:"number"`
	Size     int           `json:"size" yaml:"size"`
	Missing  int           `json:"missing" yaml:"missing"`
	Copied   int           `json:"copied" yaml:"copied"`
	Failed   int           `json:"failed" yaml:"failed"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Stats counts the work of one run
type Stats struct {
	Listed       int   `json:"listed" yaml:"listed"`
	Batches      int   `json:"batches" yaml:"batches"`
	BatchSizes   []int `json:"batch_sizes" yaml:"batch_sizes"`
	Checked      int   `json:"existence_checks" yaml:"existence_checks"`
	CheckErrors  int   `json:"existence_check_errors" yaml:"existence_check_errors"`
	Present      int   `json:"present" yaml:"present"`
	Missing      int   `json:"missing" yaml:"missing"`
	CopyAttempts int   `json:"copy_attempts" yaml:"copy_attempts"`
	Copied       int   `json:"copied" yaml:"copied"`
	Failed       int   `json:"failed" yaml:"failed"`
	Bytes        int64 `json:"bytes" yaml:"bytes"`
}

// Report is the outcome of a run. Failures never make the run fail.
type Report struct {
	Source     string         `json:"source" yaml:"source"`
	Target     string         `json:"target" yaml:"target"`
	Stats      Stats          `json:"stats" yaml:"stats"`
	Ledger     *FailureLedger `json:"-" yaml:"-"`
	Failures   []Failure      `json:"failures" yaml:"failures"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
}

// Replicator copies missing objects between buckets in batches, retrying
// each object a bounded number of times.
type Replicator struct {
	options Options
	logger  *logging.Logger
}

// New creates a Replicator, filling unset options with defaults
func New(options Options) *Replicator {
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}
	if options.RetryDelay == 0 {
		options.RetryDelay = DefaultRetryDelay
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 1
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Replicator{options: options, logger: logger}
}

// Options returns the effective options
func (r *Replicator) Options() Options {
	return r.options
}

// run holds the state scoped to one Replicate call.
type run struct {
	source  storage.ObjectStore
	target  storage.ObjectStore
	cache   *ExistenceCache
	ledger  *FailureLedger
	limiter *rate.Limiter
	retry   *apperrors.RetryHandler

	mu    sync.Mutex
	stats Stats
}

// Replicate copies every key of source that target lacks. It fails only when
// a bucket is unreachable, the listing fails or ctx is canceled; per-object
// failures are collected in the report's ledger.
func (r *Replicator) Replicate(ctx context.Context, source, target storage.ObjectStore) (*Report, error) {
	report := &Report{
		Source:    source.Bucket(),
		Target:    target.Bucket(),
		StartedAt: time.Now(),
	}
	finish := r.logger.LogOperationStart("replicate", map[string]interface{}{
		"source": source.Bucket(),
		"target": target.Bucket(),
	})

	err := r.replicate(ctx, source, target, report)
	report.FinishedAt = time.Now()
	finish(err)
	return report, err
}

func (r *Replicator) replicate(ctx context.Context, source, target storage.ObjectStore, report *Report) error {
	if err := source.HealthCheck(ctx); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("source bucket %s failed the connection test", source.Bucket()))
	}
	if err := target.HealthCheck(ctx); err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("target bucket %s failed the connection test", target.Bucket()))
	}

	keys, err := source.List(ctx)
	if err != nil {
		return apperrors.WrapError(err, fmt.Sprintf("failed to list source bucket %s", source.Bucket()))
	}

	state := &run{
		source: source,
		target: target,
		cache:  NewExistenceCache(),
		ledger: NewFailureLedger(),
		retry:  apperrors.NewRetryHandler(apperrors.FixedRetryConfig(r.options.MaxAttempts, r.options.RetryDelay)),
	}
	if r.options.RateLimit > 0 {
		state.limiter = rate.NewLimiter(rate.Limit(r.options.RateLimit), 1)
	}
	state.stats.Listed = len(keys)
	report.Ledger = state.ledger
	if r.options.OnListed != nil {
		r.options.OnListed(len(keys))
	}

	defer func() {
		state.mu.Lock()
		report.Stats = state.stats
		state.mu.Unlock()
		report.Failures = state.ledger.Failures()
	}()

	for i, batch := range Batches(keys, r.options.BatchSize) {
		if err := ctx.Err(); err != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeInterruption, "replication canceled", err)
		}
		if err := r.processBatch(ctx, state, i+1, batch); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replicator) processBatch(ctx context.Context, state *run, number int, batch []string) error {
	start := time.Now()

	missing := r.resolveMissing(ctx, state, batch)

	failedBefore := state.ledger.Len()
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(r.options.Concurrency)
	for _, key := range missing {
		key := key
		group.Go(func() error {
			return r.copyObject(gctx, state, key)
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	failed := state.ledger.Len() - failedBefore

	batchReport := BatchReport{
		Number:   number,
		Size:     len(batch),
		Missing:  len(missing),
		Copied:   len(missing) - failed,
		Failed:   failed,
		Duration: time.Since(start),
	}

	state.mu.Lock()
	state.stats.Batches++
	state.stats.BatchSizes = append(state.stats.BatchSizes, len(batch))
	state.mu.Unlock()

	r.logger.LogReplicationBatch(number, len(batch), len(missing), failed, batchReport.Duration)
	if r.options.OnBatch != nil {
		r.options.OnBatch(batchReport)
	}
	return nil
}

// resolveMissing returns the keys of batch that are not in the target.
// A failed existence check counts as missing.
func (r *Replicator) resolveMissing(ctx context.Context, state *run, batch []string) []string {
	var missing []string
	for _, key := range batch {
		exists, cached := state.cache.Lookup(key)
		if !cached {
			var err error
			exists, err = state.target.Exists(ctx, key)

			state.mu.Lock()
			state.stats.Checked++
			if err != nil {
				state.stats.CheckErrors++
			}
			state.mu.Unlock()

			if err != nil {
				r.logger.WithFields(map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				}).Warn("Existence check failed, assuming object is missing")
				exists = false
			}
			state.cache.Store(key, exists)
		}

		state.mu.Lock()
		if exists {
			state.stats.Present++
		} else {
			state.stats.Missing++
		}
		state.mu.Unlock()

		if !exists {
			missing = append(missing, key)
		}
	}
	return missing
}

// copyObject copies key with retries. Exhausted retries land in the ledger;
// only cancellation is returned as an error.
func (r *Replicator) copyObject(ctx context.Context, state *run, key string) error {
	attempts := 0
	var written int64

	err := state.retry.Retry(ctx, func() error {
		if state.limiter != nil {
			if err := state.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attempts++
		state.mu.Lock()
		state.stats.CopyAttempts++
		state.mu.Unlock()

		n, err := r.copyOnce(ctx, state, key)
		if err != nil {
			r.logger.LogObjectCopy(key, attempts, err)
			return err
		}
		written = n
		return nil
	})

	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewAppError(apperrors.ErrorTypeInterruption, "replication canceled", ctx.Err())
		}
		state.ledger.Record(key, apperrors.RootCause(err), attempts)
		state.mu.Lock()
		state.stats.Failed++
		state.mu.Unlock()
		return nil
	}

	state.cache.Store(key, true)
	state.mu.Lock()
	state.stats.Copied++
	state.stats.Bytes += written
	state.mu.Unlock()
	return nil
}

func (r *Replicator) copyOnce(ctx context.Context, state *run, key string) (int64, error) {
	attrs, err := state.source.Attributes(ctx, key)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		}).Debug("Could not read object metadata, using defaults")
		attrs = storage.DefaultAttributes()
	}
	if attrs.ContentType == "" {
		attrs.ContentType = storage.DefaultContentType
	}
	if attrs.Visibility == "" {
		attrs.Visibility = storage.VisibilityPrivate
	}

	body, err := state.source.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s from source: %w", key, err)
	}
	defer body.Close()

	counter := &countingReader{r: body}
	if err := state.target.Put(ctx, key, counter, attrs); err != nil {
		return 0, fmt.Errorf("failed to write %s to target: %w", key, err)
	}
	return counter.n, nil
}

// Batches splits keys into consecutive slices of at most size keys.
func Batches(keys []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	batches := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := min(start+size, len(keys))
		batches = append(batches, keys[start:end])
	}
	return batches
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
