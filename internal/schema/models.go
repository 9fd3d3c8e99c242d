package schema

import (
	"fmt"
	"strings"
)

// Table describes one base table as reported by INFORMATION_SCHEMA.
type Table struct {
	Name    string
	Columns []*Column
	Indexes []*Index
}

// Column describes one table column in ordinal order.
type Column struct {
	Name       string
	DataType   string // DATA_TYPE, lower case (e.g. "varchar")
	ColumnType string // COLUMN_TYPE (e.g. "varchar(255)")
	IsNullable bool
	Position   int
}

// Index describes one index and its columns in SEQ_IN_INDEX order.
type Index struct {
	Name      string
	TableName string
	Columns   []string
	IsUnique  bool
	IsPrimary bool
	Nullable  bool // any indexed column allows NULL
}

// OrderSource tells where the ordering column of a table came from.
type OrderSource string

const (
	OrderPrimary OrderSource = "primary"
	OrderUnique  OrderSource = "unique"
	OrderIndex   OrderSource = "index"
	OrderNone    OrderSource = "none"
)

// Ordering is the deterministic row order used to page through a table.
type Ordering struct {
	// Column is the leading order column, used as the keyset cursor.
	Column string
	// Columns is the full ORDER BY list; Column is its first entry.
	Columns []string
	Source  OrderSource
	// Keyset is true when Column alone identifies a row and never holds NULL,
	// so pages can resume with "Column > last" instead of an OFFSET.
	Keyset bool
}

// NewTable creates an empty table description.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// GetColumn returns the column with the given name (case-insensitive).
func (t *Table) GetColumn(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// GetPrimaryKey returns the primary key index, if any.
func (t *Table) GetPrimaryKey() *Index {
	for _, idx := range t.Indexes {
		if idx.IsPrimary {
			return idx
		}
	}
	return nil
}

// HasPrimaryKey reports whether the table has a primary key.
func (t *Table) HasPrimaryKey() bool {
	return t.GetPrimaryKey() != nil
}

// KeyColumns returns the columns identifying a row: the primary key, or an
// `id` column when the table has no primary key.
func (t *Table) KeyColumns() []string {
	if pk := t.GetPrimaryKey(); pk != nil {
		return pk.Columns
	}
	if c, ok := t.GetColumn("id"); ok {
		return []string{c.Name}
	}
	return nil
}

// Ordering picks the paging order: primary key, else the first unique index,
// else the first index, else none. Indexes are expected in name order.
func (t *Table) Ordering() Ordering {
	if pk := t.GetPrimaryKey(); pk != nil && len(pk.Columns) > 0 {
		return Ordering{Column: pk.Columns[0], Columns: pk.Columns, Source: OrderPrimary, Keyset: len(pk.Columns) == 1}
	}
	for _, idx := range t.Indexes {
		if idx.IsUnique && len(idx.Columns) > 0 {
			return Ordering{
				Column:  idx.Columns[0],
				Columns: idx.Columns,
				Source:  OrderUnique,
				Keyset:  len(idx.Columns) == 1 && !idx.Nullable,
			}
		}
	}
	for _, idx := range t.Indexes {
		if len(idx.Columns) > 0 {
			return Ordering{Column: idx.Columns[0], Columns: idx.Columns, Source: OrderIndex}
		}
	}
	return Ordering{Source: OrderNone}
}

// Validate checks the description is usable for an export.
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}
	for _, idx := range t.Indexes {
		for _, col := range idx.Columns {
			if _, ok := t.GetColumn(col); !ok {
				return fmt.Errorf("index %s on table %s references unknown column %s", idx.Name, t.Name, col)
			}
		}
	}
	return nil
}
