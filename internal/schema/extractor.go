package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Querier is the read side of a database connection. *sql.DB, *sql.Conn and
// *sql.Tx all satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Extractor reads table structure from a MySQL database
type Extractor struct {
	db           Querier
	queryTimeout time.Duration
}

// NewExtractor creates a new schema extractor
func NewExtractor(db Querier) *Extractor {
	return NewExtractorWithTimeout(db, 30*time.Second)
}

// NewExtractorWithTimeout creates a new schema extractor with custom timeout
func NewExtractorWithTimeout(db Querier, timeout time.Duration) *Extractor {
	return &Extractor{
		db:           db,
		queryTimeout: timeout,
	}
}

// GetCurrentSchema retrieves the schema selected by the connection
func (e *Extractor) GetCurrentSchema(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	var schemaName sql.NullString
	if err := e.db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&schemaName); err != nil {
		return "", fmt.Errorf("failed to get current schema: %w", err)
	}
	if !schemaName.Valid || schemaName.String == "" {
		return "", fmt.Errorf("no schema selected")
	}
	return schemaName.String, nil
}

// ListTables returns the base tables of schemaName in name order. Views are skipped.
func (e *Extractor) ListTables(ctx context.Context, schemaName string) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, query, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating table rows: %w", err)
	}

	return tables, nil
}

// ExtractTable reads the columns and indexes of one table
func (e *Extractor) ExtractTable(ctx context.Context, schemaName, tableName string) (*Table, error) {
	table := NewTable(tableName)

	columns, err := e.extractColumns(ctx, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns for table %s: %w", tableName, err)
	}
	table.Columns = columns

	indexes, err := e.extractIndexes(ctx, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to extract indexes for table %s: %w", tableName, err)
	}
	table.Indexes = indexes

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("extracted table is invalid: %w", err)
	}
	return table, nil
}

func (e *Extractor) extractColumns(ctx context.Context, schemaName, tableName string) ([]*Column, error) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			COLUMN_TYPE,
			IS_NULLABLE,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []*Column
	for rows.Next() {
		var name, dataType, columnType, isNullable string
		var position int
		if err := rows.Scan(&name, &dataType, &columnType, &isNullable, &position); err != nil {
			return nil, fmt.Errorf("failed to scan column data: %w", err)
		}
		columns = append(columns, &Column{
			Name:       name,
			DataType:   strings.ToLower(dataType),
			ColumnType: columnType,
			IsNullable: isNullable == "YES",
			Position:   position,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column rows: %w", err)
	}

	return columns, nil
}

func (e *Extractor) extractIndexes(ctx context.Context, schemaName, tableName string) ([]*Index, error) {
	query := `
		SELECT
			INDEX_NAME,
			COLUMN_NAME,
			NON_UNIQUE,
			NULLABLE,
			SEQ_IN_INDEX
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := e.db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes for table %s: %w", tableName, err)
	}
	defer rows.Close()

	var indexes []*Index
	byName := make(map[string]*Index)
	expression := make(map[string]bool)
	for rows.Next() {
		var indexName, nullable string
		var columnName sql.NullString // NULL for functional key parts
		var nonUnique, seqInIndex int
		if err := rows.Scan(&indexName, &columnName, &nonUnique, &nullable, &seqInIndex); err != nil {
			return nil, fmt.Errorf("failed to scan index data: %w", err)
		}

		if !columnName.Valid {
			expression[indexName] = true
			continue
		}

		idx, exists := byName[indexName]
		if !exists {
			idx = &Index{
				Name:      indexName,
				TableName: tableName,
				IsUnique:  nonUnique == 0,
				IsPrimary: indexName == "PRIMARY",
			}
			byName[indexName] = idx
			indexes = append(indexes, idx)
		}
		idx.Columns = append(idx.Columns, columnName.String)
		if nullable == "YES" {
			idx.Nullable = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}

	// an index with an expression key part can't drive a cursor
	usable := make([]*Index, 0, len(indexes))
	for _, idx := range indexes {
		if !expression[idx.Name] {
			usable = append(usable, idx)
		}
	}
	return usable, nil
}

// CreateStatement returns the CREATE TABLE statement exactly as reported by the server
func (e *Extractor) CreateStatement(ctx context.Context, tableName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	var name, ddl string
	query := "SHOW CREATE TABLE " + QuoteIdentifier(tableName)
	if err := e.db.QueryRowContext(ctx, query).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("failed to read definition of table %s: %w", tableName, err)
	}
	return ddl, nil
}

// QuoteIdentifier wraps name in backticks, doubling embedded backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
