package replicate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "mysql-porter/internal/errors"
	"mysql-porter/internal/storage"
	"mysql-porter/internal/storage/storagetest"
)

func objectKey(i int) string {
	return fmt.Sprintf("images/obj-%03d.png", i)
}

func seededBuckets(total, present int) (*storagetest.MemoryStore, *storagetest.MemoryStore) {
	source := storagetest.NewMemoryStore("source")
	target := storagetest.NewMemoryStore("target")
	for i := 0; i < total; i++ {
		source.Seed(objectKey(i), []byte(fmt.Sprintf("data-%d", i)), storage.Attributes{
			ContentType: "image/png",
			Visibility:  storage.VisibilityPublic,
		})
	}
	for i := 0; i < present; i++ {
		target.Seed(objectKey(i), []byte(fmt.Sprintf("data-%d", i)), storage.Attributes{ContentType: "image/png"})
	}
	return source, target
}

func newTestReplicator(opts Options) *Replicator {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	return New(opts)
}

func TestReplicate_CopiesMissingObjectsInBatches(t *testing.T) {
	source, target := seededBuckets(250, 50)
	var batches []BatchReport
	replicator := newTestReplicator(Options{
		BatchSize: 100,
		OnBatch:   func(b BatchReport) { batches = append(batches, b) },
	})

	report, err := replicator.Replicate(context.Background(), source, target)
	require.NoError(t, err)

	assert.Equal(t, 250, report.Stats.Listed)
	assert.Equal(t, []int{100, 100, 50}, report.Stats.BatchSizes)
	assert.Equal(t, 200, report.Stats.CopyAttempts)
	assert.Equal(t, 200, report.Stats.Copied)
	assert.Equal(t, 50, report.Stats.Present)
	assert.Equal(t, 200, target.TotalPuts())
	assert.True(t, report.Ledger.Empty())

	require.Len(t, batches, 3)
	assert.Equal(t, 50, batches[0].Missing)
	assert.Equal(t, 100, batches[1].Missing)
	assert.Equal(t, 50, batches[2].Missing)

	assert.Len(t, target.Keys(), 250)
	obj, ok := target.Object(objectKey(120))
	require.True(t, ok)
	assert.Equal(t, "data-120", string(obj.Data))
	assert.Equal(t, "image/png", obj.Attributes.ContentType)
	assert.Equal(t, storage.VisibilityPublic, obj.Attributes.Visibility)
}

func TestReplicate_FailureLedgerIsolatesObjects(t *testing.T) {
	source, target := seededBuckets(250, 0)
	failing := objectKey(7)
	target.PutFailures[failing] = 3

	replicator := newTestReplicator(Options{BatchSize: 100})
	report, err := replicator.Replicate(context.Background(), source, target)
	require.NoError(t, err)

	require.Equal(t, 1, report.Ledger.Len())
	failure, ok := report.Ledger.Lookup(failing)
	require.True(t, ok)
	assert.Equal(t, 3, failure.Attempts)
	assert.Contains(t, failure.Error, "injected put failure for "+failing)
	assert.Equal(t, 3, target.Puts(failing))

	assert.Equal(t, 249, report.Stats.Copied)
	assert.Equal(t, 1, report.Stats.Failed)
	assert.Equal(t, 252, report.Stats.CopyAttempts)
	assert.Len(t, report.Failures, 1)
	_, ok = target.Object(failing)
	assert.False(t, ok)
}

func TestReplicate_TransientFailureIsRetried(t *testing.T) {
	source, target := seededBuckets(3, 0)
	target.PutFailures[objectKey(1)] = 2

	report, err := newTestReplicator(Options{}).Replicate(context.Background(), source, target)
	require.NoError(t, err)

	assert.True(t, report.Ledger.Empty())
	assert.Equal(t, 3, target.Puts(objectKey(1)))
	assert.Equal(t, 3, report.Stats.Copied)
	assert.Equal(t, 5, report.Stats.CopyAttempts)
}

func TestReplicate_IsIdempotent(t *testing.T) {
	source, target := seededBuckets(120, 20)
	target.PutFailures[objectKey(50)] = 3
	replicator := newTestReplicator(Options{BatchSize: 50})

	first, err := replicator.Replicate(context.Background(), source, target)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Ledger.Len())
	putsAfterFirst := target.TotalPuts()

	second, err := replicator.Replicate(context.Background(), source, target)
	require.NoError(t, err)
	assert.True(t, second.Ledger.Empty())
	assert.Equal(t, 1, second.Stats.CopyAttempts)
	assert.Equal(t, putsAfterFirst+1, target.TotalPuts())

	third, err := replicator.Replicate(context.Background(), source, target)
	require.NoError(t, err)
	assert.Zero(t, third.Stats.CopyAttempts)
	assert.Equal(t, 120, third.Stats.Present)
}

func TestReplicate_ExistenceCheckErrorMeansMissing(t *testing.T) {
	source, target := seededBuckets(2, 2)
	target.ExistsErrors[objectKey(0)] = errors.New("503 slow down")

	report, err := newTestReplicator(Options{}).Replicate(context.Background(), source, target)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.CheckErrors)
	assert.Equal(t, 1, report.Stats.CopyAttempts)
	assert.Equal(t, 1, target.Puts(objectKey(0)))
	assert.Zero(t, target.Puts(objectKey(1)))
}

func TestReplicate_ChecksEachKeyOnce(t *testing.T) {
	source, target := seededBuckets(30, 10)

	_, err := newTestReplicator(Options{BatchSize: 7}).Replicate(context.Background(), source, target)
	require.NoError(t, err)
	assert.Equal(t, 30, target.ExistsCalls())
}

func TestReplicate_MetadataFallback(t *testing.T) {
	source, target := seededBuckets(1, 0)
	source.AttributesErrors[objectKey(0)] = errors.New("acl read denied")

	report, err := newTestReplicator(Options{}).Replicate(context.Background(), source, target)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Copied)

	obj, ok := target.Object(objectKey(0))
	require.True(t, ok)
	assert.Equal(t, storage.DefaultContentType, obj.Attributes.ContentType)
	assert.Equal(t, storage.VisibilityPrivate, obj.Attributes.Visibility)
}

func TestReplicate_PreflightFailureIsFatal(t *testing.T) {
	source, target := seededBuckets(5, 0)
	target.HealthError = errors.New("access denied")

	_, err := newTestReplicator(Options{}).Replicate(context.Background(), source, target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target bucket target failed the connection test")
	assert.Zero(t, target.TotalPuts())
}

func TestReplicate_ListingFailureIsFatal(t *testing.T) {
	source, target := seededBuckets(5, 0)
	source.ListError = errors.New("listing timed out")

	_, err := newTestReplicator(Options{}).Replicate(context.Background(), source, target)
	require.Error(t, err)
	assert.Zero(t, target.ExistsCalls())
}

func TestReplicate_ConcurrentCopies(t *testing.T) {
	source, target := seededBuckets(250, 50)
	target.PutFailures[objectKey(99)] = 3

	report, err := newTestReplicator(Options{BatchSize: 100, Concurrency: 8, RateLimit: 100000}).
		Replicate(context.Background(), source, target)
	require.NoError(t, err)

	assert.Equal(t, 202, report.Stats.CopyAttempts)
	assert.Equal(t, 199, report.Stats.Copied)
	assert.Equal(t, 1, report.Ledger.Len())
	assert.Len(t, target.Keys(), 249)
}

func TestReplicate_CancelBetweenBatches(t *testing.T) {
	source, target := seededBuckets(250, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replicator := newTestReplicator(Options{
		BatchSize: 100,
		OnBatch:   func(BatchReport) { cancel() },
	})
	report, err := replicator.Replicate(ctx, source, target)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeInterruption, apperrors.GetErrorType(err))
	assert.Equal(t, 1, report.Stats.Batches)
	assert.Equal(t, 100, target.TotalPuts())
}

func TestBatches(t *testing.T) {
	keys := make([]string, 250)
	for i := range keys {
		keys[i] = objectKey(i)
	}

	batches := Batches(keys, 100)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 100)
	assert.Len(t, batches[2], 50)
	assert.Equal(t, objectKey(200), batches[2][0])

	assert.Empty(t, Batches(nil, 100))
	assert.Len(t, Batches(keys[:5], 0), 1)
}

func TestNewAppliesDefaults(t *testing.T) {
	opts := New(Options{}).Options()
	assert.Equal(t, 100, opts.BatchSize)
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, opts.RetryDelay)
	assert.Equal(t, 1, opts.Concurrency)
}
