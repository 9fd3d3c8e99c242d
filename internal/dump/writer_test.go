package dump

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-porter/internal/compression"
	"mysql-porter/internal/logging"
	"mysql-porter/internal/policy"
	"mysql-porter/internal/schema"
)

func newTestWriter(t *testing.T, registry *policy.Registry) (*Writer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g := NewGenerator(db, schema.NewExtractor(db), testSchema, NewTransformer(NewSynthesizer(1)), GeneratorOptions{})
	w := NewWriter(g, registry, logging.NewNopLogger())
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return w, mock
}

func userRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "email"})
	for i := 1; i <= n; i++ {
		rows.AddRow(int64(i), fmt.Sprintf("user%d@example.com", i))
	}
	return rows
}

func expectUsersData(mock sqlmock.Sqlmock, n int) {
	expectCreate(mock, "users")
	expectStructure(mock, "users", "id", "", usersColumns...)
	mock.ExpectQuery(exactQuery("SELECT `id`, `email` FROM `users` ORDER BY `id` LIMIT 1000")).
		WillReturnRows(userRows(n))
}

type transition struct {
	state State
	table string
}

// An ignored table keeps its structure in the dump but contributes no rows.
func TestExport_IgnoredTableKeepsSchemaOnly(t *testing.T) {
	registry := policy.NewRegistry()
	require.NoError(t, registry.Register("audit_logs", policy.Ignored()))

	w, mock := newTestWriter(t, registry)
	var transitions []transition
	w.OnStateChange(func(state State, table string) {
		transitions = append(transitions, transition{state, table})
	})

	expectTables(mock, "audit_logs", "users")
	expectCreate(mock, "audit_logs")
	expectUsersData(mock, 2)

	sink := &memorySink{}
	result, err := w.Export(context.Background(), sink, ExportOptions{DropIfExists: true, ServerVersion: "8.0.36"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	out := sink.String()
	assert.Contains(t, out, "DROP TABLE IF EXISTS `audit_logs`;")
	assert.Contains(t, out, "CREATE TABLE `audit_logs`")
	assert.NotContains(t, out, "INSERT INTO `audit_logs`")
	assert.Equal(t, 2, strings.Count(out, "INSERT INTO `users`"))
	assert.Contains(t, out, "-- Server version: 8.0.36")

	fkOff := strings.Index(out, "SET FOREIGN_KEY_CHECKS=0;")
	fkOn := strings.LastIndex(out, "SET FOREIGN_KEY_CHECKS=1;")
	require.True(t, fkOff >= 0 && fkOn > fkOff)
	assert.Less(t, fkOff, strings.Index(out, "CREATE TABLE"))
	assert.True(t, strings.HasSuffix(out, "SET FOREIGN_KEY_CHECKS=1;\n"))

	assert.True(t, sink.closed)
	assert.False(t, sink.aborted)
	assert.Equal(t, "memory://dump.sql", result.Location)
	assert.Equal(t, int64(2), result.Rows)
	require.Len(t, result.Tables, 2)
	assert.True(t, result.Tables[0].Ignored)
	assert.Equal(t, int64(0), result.Tables[0].Rows)
	assert.Equal(t, int64(len(out)), result.BytesWritten)

	sum := sha256.Sum256([]byte(out))
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Checksum)

	assert.Contains(t, transitions, transition{StateSchemaPhase, "audit_logs"})
	assert.NotContains(t, transitions, transition{StateDataPhase, "audit_logs"})
	assert.Contains(t, transitions, transition{StateDataPhase, "users"})
	assert.Equal(t, transition{StateDone, ""}, transitions[len(transitions)-1])
	assert.Equal(t, transition{StateFinalizing, ""}, transitions[len(transitions)-2])
	assert.Equal(t, StateDone, w.State())
}

func TestExport_BufferNeverExceedsThresholdByMoreThanOneWrite(t *testing.T) {
	const threshold = 256
	// longest single write in this dump: header or the users table structure
	const maxWrite = 200

	w, mock := newTestWriter(t, nil)
	expectTables(mock, "users")
	expectUsersData(mock, 60)

	sink := &memorySink{}
	result, err := w.Export(context.Background(), sink, ExportOptions{BufferSize: threshold})
	require.NoError(t, err)

	require.Greater(t, len(sink.chunks), 2)
	assert.Equal(t, len(sink.chunks), result.Chunks)
	assert.LessOrEqual(t, result.PeakBuffer, threshold+maxWrite)
	for i, chunk := range sink.chunks {
		assert.Less(t, len(chunk), threshold+maxWrite, "chunk %d", i)
		if i < len(sink.chunks)-1 {
			assert.GreaterOrEqual(t, len(chunk), threshold, "chunk %d flushed early", i)
		}
	}
	assert.Equal(t, int64(len(sink.bytes())), result.BytesFlushed)
	assert.Equal(t, 60, strings.Count(sink.String(), "INSERT INTO"))
}

func TestExport_TableFailureClosesBracketAndAborts(t *testing.T) {
	w, mock := newTestWriter(t, nil)
	expectTables(mock, "users")
	expectCreate(mock, "users")
	expectStructure(mock, "users", "id", "", usersColumns...)
	mock.ExpectQuery("SELECT `id`, `email` FROM `users`").WillReturnError(errors.New("server has gone away"))

	sink := &memorySink{}
	_, err := w.Export(context.Background(), sink, ExportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server has gone away")

	assert.True(t, sink.aborted)
	assert.False(t, sink.closed)
	assert.Equal(t, StateFailed, w.State())

	out := sink.String()
	assert.Contains(t, out, "-- Dump aborted:")
	assert.True(t, strings.HasSuffix(out, "SET FOREIGN_KEY_CHECKS=1;\n"))
}

func TestExport_SinkFailureAborts(t *testing.T) {
	w, mock := newTestWriter(t, nil)
	expectTables(mock, "users")
	expectUsersData(mock, 20)

	sink := &memorySink{failAfter: 2}
	_, err := w.Export(context.Background(), sink, ExportOptions{BufferSize: 128})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink unavailable")
	assert.True(t, sink.aborted)
	assert.False(t, sink.closed)
	assert.Len(t, sink.chunks, 1)
}

func TestExport_CancelledBeforeStart(t *testing.T) {
	w, mock := newTestWriter(t, nil)
	expectTables(mock, "users")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &memorySink{}
	_, err := w.Export(ctx, sink, ExportOptions{})
	require.Error(t, err)
	assert.True(t, sink.aborted)
}

func TestExport_Compressed(t *testing.T) {
	w, mock := newTestWriter(t, nil)
	expectTables(mock, "users")
	expectUsersData(mock, 5)

	sink := &memorySink{}
	result, err := w.Export(context.Background(), sink, ExportOptions{Compression: compression.TypeGzip})
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(sink.bytes()))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)

	assert.Equal(t, 5, strings.Count(string(plain), "INSERT INTO `users`"))
	assert.Equal(t, int64(len(plain)), result.BytesWritten)
	sum := sha256.Sum256(plain)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.Checksum)
}

func TestExport_TableSelection(t *testing.T) {
	w, mock := newTestWriter(t, nil)
	expectTables(mock, "audit_logs", "users")
	expectUsersData(mock, 1)

	sink := &memorySink{}
	result, err := w.Export(context.Background(), sink, ExportOptions{Tables: []string{"USERS"}})
	require.NoError(t, err)
	require.Len(t, result.Tables, 1)
	assert.Equal(t, "users", result.Tables[0].Name)
	assert.NotContains(t, sink.String(), "audit_logs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectTables(t *testing.T) {
	all := []string{"audit_logs", "orders", "users"}

	got, err := selectTables(all, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, all, got)

	got, err = selectTables(all, []string{"users", "orders"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, got)

	got, err = selectTables(all, nil, []string{"AUDIT_LOGS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, got)

	_, err = selectTables(all, []string{"missing"}, nil)
	assert.Error(t, err)
}

func TestBufferSizeFor(t *testing.T) {
	assert.Equal(t, MinBufferSize, BufferSizeFor(0))
	assert.Equal(t, MinBufferSize, BufferSizeFor(20<<20))
	assert.Equal(t, 8<<20, BufferSizeFor(80<<20))
	assert.Equal(t, MaxBufferSize, BufferSizeFor(16<<30))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "schema", StateSchemaPhase.String())
	assert.Equal(t, "data", StateDataPhase.String())
	assert.Equal(t, "state(42)", State(42).String())
}
