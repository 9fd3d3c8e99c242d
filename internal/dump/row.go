package dump

import "strings"

// Row is one table record: column names in ordinal order with their values.
// Values are nil, string, []byte, int64, uint64, float64, bool or time.Time.
type Row struct {
	Table   string
	Columns []string
	Values  []any
	// Key is the formatted primary key used to match retained rows.
	Key string
}

// Index returns the position of column, or -1.
func (r *Row) Index(column string) int {
	for i, c := range r.Columns {
		if strings.EqualFold(c, column) {
			return i
		}
	}
	return -1
}

// Get returns the value of column.
func (r *Row) Get(column string) (any, bool) {
	if i := r.Index(column); i >= 0 {
		return r.Values[i], true
	}
	return nil, false
}

// Clone copies the row. Byte slices are shared.
func (r *Row) Clone() *Row {
	return &Row{
		Table:   r.Table,
		Columns: r.Columns,
		Values:  append([]any(nil), r.Values...),
		Key:     r.Key,
	}
}
