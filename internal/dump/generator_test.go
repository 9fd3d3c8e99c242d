package dump

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-porter/internal/policy"
	"mysql-porter/internal/schema"
)

func newTestGenerator(t *testing.T, batchSize int, emptyAsNull bool) (*Generator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	g := NewGenerator(db, schema.NewExtractor(db), testSchema, NewTransformer(NewSynthesizer(1)), GeneratorOptions{
		BatchSize:         batchSize,
		EmptyStringAsNull: emptyAsNull,
	})
	return g, mock
}

func collect(t *testing.T, it *Inserts) []string {
	t.Helper()
	var out []string
	for it.Next(context.Background()) {
		out = append(out, it.Statement())
	}
	return out
}

func TestPaginate_KeysetPaging(t *testing.T) {
	g, mock := newTestGenerator(t, 2, false)
	expectStructure(mock, "users", "id", "", usersColumns...)

	mock.ExpectQuery(exactQuery("SELECT `id`, `email` FROM `users` ORDER BY `id` LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), "a@example.com").
			AddRow(int64(2), "b@example.com"))
	mock.ExpectQuery(exactQuery("SELECT `id`, `email` FROM `users` WHERE `id` > ? ORDER BY `id` LIMIT 2")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(3), "c@example.com"))

	it, err := g.Paginate(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderPrimary, it.Ordering().Source)
	assert.True(t, it.Ordering().Keyset)

	statements := collect(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []string{
		"INSERT INTO `users` (`id`, `email`) VALUES (1, 'a@example.com');\n",
		"INSERT INTO `users` (`id`, `email`) VALUES (2, 'b@example.com');\n",
		"INSERT INTO `users` (`id`, `email`) VALUES (3, 'c@example.com');\n",
	}, statements)
	assert.Equal(t, int64(3), it.Count())
	assert.Equal(t, 2, it.Pages())
	assert.NoError(t, mock.ExpectationsWereMet())

	// exhausted iterators stay exhausted
	assert.False(t, it.Next(context.Background()))
}

func TestPaginate_FullLastPageNeedsOneMoreFetch(t *testing.T) {
	g, mock := newTestGenerator(t, 2, false)
	expectStructure(mock, "users", "id", "", usersColumns...)

	mock.ExpectQuery(exactQuery("SELECT `id`, `email` FROM `users` ORDER BY `id` LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), "a@example.com").
			AddRow(int64(2), "b@example.com"))
	mock.ExpectQuery(exactQuery("SELECT `id`, `email` FROM `users` WHERE `id` > ? ORDER BY `id` LIMIT 2")).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}))

	it, err := g.Paginate(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.Len(t, collect(t, it), 2)
	require.NoError(t, it.Err())
	assert.Equal(t, 2, it.Pages())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaginate_OffsetPagingOnPlainIndex(t *testing.T) {
	g, mock := newTestGenerator(t, 2, false)
	expectStructure(mock, "events", "", "created_at",
		columnDef{name: "name", dataType: "varchar"},
		columnDef{name: "created_at", dataType: "datetime", nullable: true},
	)

	mock.ExpectQuery(exactQuery("SELECT `name`, `created_at` FROM `events` ORDER BY `created_at` LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "created_at"}).
			AddRow("signup", "2024-01-01 00:00:00").
			AddRow("login", "2024-01-02 00:00:00"))
	mock.ExpectQuery(exactQuery("SELECT `name`, `created_at` FROM `events` ORDER BY `created_at` LIMIT 2 OFFSET 2")).
		WillReturnRows(sqlmock.NewRows([]string{"name", "created_at"}).
			AddRow("logout", nil))

	it, err := g.Paginate(context.Background(), "events", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderIndex, it.Ordering().Source)
	assert.False(t, it.Ordering().Keyset)

	statements := collect(t, it)
	require.NoError(t, it.Err())
	require.Len(t, statements, 3)
	assert.Equal(t, "INSERT INTO `events` (`name`, `created_at`) VALUES ('logout', NULL);\n", statements[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaginate_CompositePrimaryKeyOrdersByEveryColumn(t *testing.T) {
	g, mock := newTestGenerator(t, 2, false)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").WithArgs(testSchema, "tenant_users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "ORDINAL_POSITION"}).
			AddRow("tenant_id", "int", "int", "NO", 1).
			AddRow("id", "int", "int", "NO", 2))
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").WithArgs(testSchema, "tenant_users").
		WillReturnRows(sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE", "NULLABLE", "SEQ_IN_INDEX"}).
			AddRow("PRIMARY", "tenant_id", 0, "", 1).
			AddRow("PRIMARY", "id", 0, "", 2))

	mock.ExpectQuery(exactQuery("SELECT `tenant_id`, `id` FROM `tenant_users` ORDER BY `tenant_id`, `id` LIMIT 2")).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}).
			AddRow(int64(1), int64(1)).
			AddRow(int64(1), int64(2)))
	mock.ExpectQuery(exactQuery("SELECT `tenant_id`, `id` FROM `tenant_users` ORDER BY `tenant_id`, `id` LIMIT 2 OFFSET 2")).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}).
			AddRow(int64(1), int64(3)))

	it, err := g.Paginate(context.Background(), "tenant_users", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant_id", "id"}, it.Ordering().Columns)
	assert.False(t, it.Ordering().Keyset)

	statements := collect(t, it)
	require.NoError(t, it.Err())
	assert.Len(t, statements, 3)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaginate_NoIndexUsesEngineOrder(t *testing.T) {
	g, mock := newTestGenerator(t, 10, false)
	expectStructure(mock, "kv", "", "",
		columnDef{name: "k", dataType: "varchar"},
		columnDef{name: "v", dataType: "blob", nullable: true},
	)

	mock.ExpectQuery(exactQuery("SELECT `k`, `v` FROM `kv` LIMIT 10")).
		WillReturnRows(sqlmock.NewRows([]string{"k", "v"}).
			AddRow("a", []byte{0x01, 0x02}))

	it, err := g.Paginate(context.Background(), "kv", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderNone, it.Ordering().Source)

	statements := collect(t, it)
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"INSERT INTO `kv` (`k`, `v`) VALUES ('a', 0x0102);\n"}, statements)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaginate_EmptyStringAsNull(t *testing.T) {
	columns := []columnDef{
		{name: "id", dataType: "int"},
		{name: "nickname", dataType: "varchar", nullable: true},
		{name: "code", dataType: "varchar"},
	}

	tests := []struct {
		name        string
		emptyAsNull bool
		want        string
	}{
		{"disabled", false, "INSERT INTO `people` (`id`, `nickname`, `code`) VALUES (1, '', '');\n"},
		{"enabled only touches nullable columns", true, "INSERT INTO `people` (`id`, `nickname`, `code`) VALUES (1, NULL, '');\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mock := newTestGenerator(t, 100, tt.emptyAsNull)
			expectStructure(mock, "people", "id", "", columns...)
			mock.ExpectQuery("SELECT `id`, `nickname`, `code` FROM `people`").
				WillReturnRows(sqlmock.NewRows([]string{"id", "nickname", "code"}).AddRow(int64(1), "", ""))

			it, err := g.Paginate(context.Background(), "people", nil)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, collect(t, it))
			require.NoError(t, it.Err())
		})
	}
}

func TestPaginate_NormalizesDriverBytes(t *testing.T) {
	g, mock := newTestGenerator(t, 100, false)
	expectStructure(mock, "orders", "id", "",
		columnDef{name: "id", dataType: "bigint"},
		columnDef{name: "total", dataType: "double"},
		columnDef{name: "note", dataType: "text", nullable: true},
	)
	mock.ExpectQuery("SELECT `id`, `total`, `note` FROM `orders`").
		WillReturnRows(sqlmock.NewRows([]string{"id", "total", "note"}).
			AddRow([]byte("7"), []byte("12.5"), []byte("it's")))

	it, err := g.Paginate(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"INSERT INTO `orders` (`id`, `total`, `note`) VALUES (7, 12.5, 'it\\'s');\n"}, collect(t, it))
	require.NoError(t, it.Err())
}

func TestPaginate_IgnoredPolicyIsRejected(t *testing.T) {
	g, _ := newTestGenerator(t, 100, false)

	_, err := g.Paginate(context.Background(), "audit_logs", policy.Ignored())
	assert.Error(t, err)
}

func TestPaginate_QueryFailureStopsIteration(t *testing.T) {
	g, mock := newTestGenerator(t, 100, false)
	expectStructure(mock, "users", "id", "", usersColumns...)
	mock.ExpectQuery("SELECT `id`, `email` FROM `users`").WillReturnError(errors.New("lost connection"))

	it, err := g.Paginate(context.Background(), "users", nil)
	require.NoError(t, err)
	assert.False(t, it.Next(context.Background()))
	require.Error(t, it.Err())
	assert.Contains(t, it.Err().Error(), "lost connection")
	assert.Contains(t, it.Err().Error(), "page 1")
}

func TestPaginate_CancelledContext(t *testing.T) {
	g, mock := newTestGenerator(t, 100, false)
	expectStructure(mock, "users", "id", "", usersColumns...)

	it, err := g.Paginate(context.Background(), "users", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

// users(email) redacted except for the retained row with id 1.
func TestPaginate_RedactsUnlessRetained(t *testing.T) {
	g, mock := newTestGenerator(t, 100, false)
	expectStructure(mock, "users", "id", "", usersColumns...)
	mock.ExpectQuery("SELECT `id`, `email` FROM `users` ORDER BY `id` LIMIT 100").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email"}).
			AddRow(int64(1), "alice@example.com").
			AddRow(int64(2), "bob@example.com"))

	it, err := g.Paginate(context.Background(), "users", policy.New("email").Retain(1))
	require.NoError(t, err)

	statements := collect(t, it)
	require.NoError(t, it.Err())
	require.Len(t, statements, 2)

	assert.Equal(t, "INSERT INTO `users` (`id`, `email`) VALUES (1, 'alice@example.com');\n", statements[0])
	assert.NotContains(t, statements[1], "bob@example.com")

	m := regexp.MustCompile(`VALUES \(2, '((?:[^'\\]|\\.)+)'\);`).FindStringSubmatch(statements[1])
	require.Len(t, m, 2, "unexpected statement %q", statements[1])
	assert.Regexp(t, emailPattern, m[1])
	assert.True(t, strings.HasPrefix(statements[1], "INSERT INTO `users`"))
}
