package dump

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/DATA-DOG/go-sqlmock"
)

const testSchema = "shop"

type columnDef struct {
	name     string
	dataType string
	nullable bool
}

func expectTables(mock sqlmock.Sqlmock, tables ...string) {
	rows := sqlmock.NewRows([]string{"TABLE_NAME"})
	for _, t := range tables {
		rows.AddRow(t)
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.TABLES").WithArgs(testSchema).WillReturnRows(rows)
}

func expectCreate(mock sqlmock.Sqlmock, table string) {
	ddl := fmt.Sprintf("CREATE TABLE `%s` (\n  `id` int NOT NULL,\n  PRIMARY KEY (`id`)\n) ENGINE=InnoDB", table)
	mock.ExpectQuery(regexp.QuoteMeta("SHOW CREATE TABLE `" + table + "`")).
		WillReturnRows(sqlmock.NewRows([]string{"Table", "Create Table"}).AddRow(table, ddl))
}

// expectStructure registers the COLUMNS and STATISTICS queries of ExtractTable.
// pk may be empty; index adds a non-unique index on that column.
func expectStructure(mock sqlmock.Sqlmock, table, pk, index string, columns ...columnDef) {
	colRows := sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "COLUMN_TYPE", "IS_NULLABLE", "ORDINAL_POSITION"})
	for i, c := range columns {
		nullable := "NO"
		if c.nullable {
			nullable = "YES"
		}
		colRows.AddRow(c.name, c.dataType, c.dataType, nullable, i+1)
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").WithArgs(testSchema, table).WillReturnRows(colRows)

	idxRows := sqlmock.NewRows([]string{"INDEX_NAME", "COLUMN_NAME", "NON_UNIQUE", "NULLABLE", "SEQ_IN_INDEX"})
	if pk != "" {
		idxRows.AddRow("PRIMARY", pk, 0, "", 1)
	}
	if index != "" {
		idxRows.AddRow("idx_"+index, index, 1, "YES", 1)
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.STATISTICS").WithArgs(testSchema, table).WillReturnRows(idxRows)
}

func exactQuery(q string) string {
	return "^" + regexp.QuoteMeta(q) + "$"
}

var usersColumns = []columnDef{
	{name: "id", dataType: "int"},
	{name: "email", dataType: "varchar", nullable: true},
}

// memorySink records chunks in memory. failAfter > 0 makes the n-th WriteChunk fail.
type memorySink struct {
	mu        sync.Mutex
	chunks    [][]byte
	closed    bool
	aborted   bool
	failAfter int
	location  string
}

func (s *memorySink) WriteChunk(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.chunks)+1 >= s.failAfter {
		return fmt.Errorf("sink unavailable")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *memorySink) Close(_ context.Context) (string, error) {
	s.closed = true
	if s.location == "" {
		return "memory://dump.sql", nil
	}
	return s.location, nil
}

func (s *memorySink) Abort(_ context.Context) error {
	s.aborted = true
	return nil
}

func (s *memorySink) bytes() []byte {
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

func (s *memorySink) String() string {
	return string(s.bytes())
}
