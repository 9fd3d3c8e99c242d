package dump

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mysql-porter/internal/policy"
	"mysql-porter/internal/schema"
)

// DefaultBatchSize is the number of rows fetched per page.
const DefaultBatchSize = 1000

// GeneratorOptions tunes how table data is paged and rendered.
type GeneratorOptions struct {
	BatchSize int
	// EmptyStringAsNull writes NULL for empty strings in nullable columns.
	EmptyStringAsNull bool
}

// Generator pages through tables and renders their rows as INSERT statements.
type Generator struct {
	db          schema.Querier
	extractor   *schema.Extractor
	transformer *Transformer
	schemaName  string
	options     GeneratorOptions
}

// NewGenerator creates a table data generator for the tables of schemaName.
func NewGenerator(db schema.Querier, extractor *schema.Extractor, schemaName string, transformer *Transformer, options GeneratorOptions) *Generator {
	if options.BatchSize <= 0 {
		options.BatchSize = DefaultBatchSize
	}
	if transformer == nil {
		transformer = NewTransformer(nil)
	}
	return &Generator{
		db:          db,
		extractor:   extractor,
		transformer: transformer,
		schemaName:  schemaName,
		options:     options,
	}
}

// Paginate returns a single-pass iterator over the INSERT statements of
// tableName. Rows are fetched lazily, one page at a time.
func (g *Generator) Paginate(ctx context.Context, tableName string, p *policy.Policy) (*Inserts, error) {
	if p != nil && p.Ignore {
		return nil, fmt.Errorf("table %s is ignored by its export policy", tableName)
	}

	table, err := g.extractor.ExtractTable(ctx, g.schemaName, tableName)
	if err != nil {
		return nil, err
	}

	keyColumns := table.KeyColumns()
	if p != nil && len(p.KeyColumns) > 0 {
		keyColumns = p.KeyColumns
	}

	return &Inserts{
		g:          g,
		table:      table,
		policy:     p,
		ordering:   table.Ordering(),
		keyColumns: keyColumns,
		keyIndex:   columnPositions(table, keyColumns),
		names:      table.ColumnNames(),
	}, nil
}

// Inserts iterates over the INSERT statements of one table. It is finite and
// cannot be restarted.
type Inserts struct {
	g          *Generator
	table      *schema.Table
	policy     *policy.Policy
	ordering   schema.Ordering
	keyColumns []string
	keyIndex   []int
	names      []string

	page    []*Row
	pos     int
	offset  int64
	cursor  any
	pages   int
	done    bool
	stmt    string
	count   int64
	skipped int64
	err     error
}

// Next advances to the next statement. It returns false when the table is
// exhausted or an error occurred; check Err afterwards.
func (it *Inserts) Next(ctx context.Context) bool {
	for it.err == nil {
		if it.pos < len(it.page) {
			row := it.page[it.pos]
			it.page[it.pos] = nil
			it.pos++

			out, ok := it.g.transformer.Transform(it.policy, it.keyColumns, row)
			if !ok {
				it.skipped++
				continue
			}
			it.stmt = InsertStatement(out)
			it.count++
			return true
		}
		if it.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = fmt.Errorf("failed to read page %d of table %s: %w", it.pages+1, it.table.Name, err)
		}
	}
	return false
}

// Statement returns the current INSERT statement, terminated by ";\n".
func (it *Inserts) Statement() string {
	return it.stmt
}

// Err returns the error that stopped the iteration, if any.
func (it *Inserts) Err() error {
	return it.err
}

// Count returns the number of statements produced so far.
func (it *Inserts) Count() int64 {
	return it.count
}

// Pages returns the number of pages fetched so far.
func (it *Inserts) Pages() int {
	return it.pages
}

// Ordering returns the row order used for paging.
func (it *Inserts) Ordering() schema.Ordering {
	return it.ordering
}

func (it *Inserts) query() (string, []any) {
	batch := it.g.options.BatchSize
	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range it.table.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(schema.QuoteIdentifier(c.Name))
	}
	b.WriteString(" FROM ")
	b.WriteString(schema.QuoteIdentifier(it.table.Name))

	var args []any
	if it.ordering.Source != schema.OrderNone {
		if it.ordering.Keyset && it.cursor != nil {
			b.WriteString(" WHERE ")
			b.WriteString(schema.QuoteIdentifier(it.ordering.Column))
			b.WriteString(" > ?")
			args = append(args, it.cursor)
		}
		columns := it.ordering.Columns
		if len(columns) == 0 {
			columns = []string{it.ordering.Column}
		}
		b.WriteString(" ORDER BY ")
		for i, c := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(schema.QuoteIdentifier(c))
		}
	}

	b.WriteString(" LIMIT ")
	b.WriteString(strconv.Itoa(batch))
	if !it.ordering.Keyset && it.offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.FormatInt(it.offset, 10))
	}
	return b.String(), args
}

func (it *Inserts) fetch(ctx context.Context) error {
	query, args := it.query()
	rows, err := it.g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	columns := it.table.Columns
	orderIdx := -1
	if it.ordering.Keyset {
		orderIdx = columnPositions(it.table, []string{it.ordering.Column})[0]
	}

	it.page = it.page[:0]
	it.pos = 0
	for rows.Next() {
		raw := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}

		values := make([]any, len(columns))
		for i, c := range columns {
			values[i] = normalize(c, raw[i], it.g.options.EmptyStringAsNull)
		}
		if orderIdx >= 0 {
			it.cursor = raw[orderIdx]
		}

		it.page = append(it.page, &Row{
			Table:   it.table.Name,
			Columns: it.names,
			Values:  values,
			Key:     rowKey(values, it.keyIndex),
		})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	it.pages++
	it.offset += int64(len(it.page))
	if len(it.page) < it.g.options.BatchSize {
		it.done = true
	}
	return nil
}

func columnPositions(table *schema.Table, names []string) []int {
	positions := make([]int, len(names))
	for i, name := range names {
		positions[i] = -1
		for j, c := range table.Columns {
			if strings.EqualFold(c.Name, name) {
				positions[i] = j
				break
			}
		}
	}
	return positions
}

func rowKey(values []any, positions []int) string {
	if len(positions) == 0 {
		return ""
	}
	parts := make([]any, 0, len(positions))
	for _, p := range positions {
		if p < 0 {
			return ""
		}
		parts = append(parts, values[p])
	}
	return policy.CompositeKey(parts...)
}

// normalize converts a scanned driver value into the Go type matching the
// column: integers, floats, strings, []byte for binary data, or time.Time.
func normalize(c *schema.Column, v any, emptyAsNull bool) any {
	b, isBytes := v.([]byte)
	if !isBytes {
		if t, ok := v.(time.Time); ok && c.DataType == "date" && !t.IsZero() {
			return t.Format("2006-01-02")
		}
		if s, ok := v.(string); ok && s == "" && emptyAsNull && c.IsNullable {
			return nil
		}
		return v
	}

	switch c.DataType {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
			return n
		}
	case "float", "double", "real":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob", "bit", "geometry",
		"point", "linestring", "polygon", "multipoint", "multilinestring", "multipolygon", "geometrycollection":
		return b
	}

	s := string(b)
	if s == "" && emptyAsNull && c.IsNullable {
		return nil
	}
	return s
}
