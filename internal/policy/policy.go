// Package policy holds the per-table export rules that decide which tables are
// skipped, which columns are redacted, and which rows are exported verbatim.
package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Policy is the export rule set attached to one table.
type Policy struct {
	// Ignore excludes the table's rows from the export. Its schema is still written.
	Ignore bool `mapstructure:"ignore" yaml:"ignore"`
	// OmittedColumns are replaced with synthetic values of the same shape.
	OmittedColumns []string `mapstructure:"omitted_columns" yaml:"omitted_columns"`
	// RetainedRowKeys are primary keys of rows exported verbatim.
	RetainedRowKeys []string `mapstructure:"retained_row_keys" yaml:"retained_row_keys"`
	// KeyColumns overrides the primary key columns discovered from the schema.
	KeyColumns []string `mapstructure:"key_columns" yaml:"key_columns"`

	omitted  map[string]struct{}
	retained map[string]struct{}
}

// New builds a policy that redacts the given columns.
func New(omittedColumns ...string) *Policy {
	p := &Policy{OmittedColumns: omittedColumns}
	p.index()
	return p
}

// Ignored builds a policy that skips the table's rows.
func Ignored() *Policy {
	p := &Policy{Ignore: true}
	p.index()
	return p
}

// Retain marks the given primary keys as exempt from redaction.
func (p *Policy) Retain(keys ...any) *Policy {
	for _, k := range keys {
		p.RetainedRowKeys = append(p.RetainedRowKeys, FormatKey(k))
	}
	p.index()
	return p
}

func (p *Policy) index() {
	p.omitted = make(map[string]struct{}, len(p.OmittedColumns))
	for _, c := range p.OmittedColumns {
		p.omitted[strings.ToLower(c)] = struct{}{}
	}
	p.retained = make(map[string]struct{}, len(p.RetainedRowKeys))
	for _, k := range p.RetainedRowKeys {
		p.retained[k] = struct{}{}
	}
}

// Omits reports whether column must be redacted. Column names compare case-insensitively.
func (p *Policy) Omits(column string) bool {
	if p == nil {
		return false
	}
	_, ok := p.omitted[strings.ToLower(column)]
	return ok
}

// Retains reports whether the row with the given primary key is exported verbatim.
func (p *Policy) Retains(key string) bool {
	if p == nil {
		return false
	}
	_, ok := p.retained[key]
	return ok
}

// Redacts reports whether the policy changes any row at all.
func (p *Policy) Redacts() bool {
	return p != nil && !p.Ignore && len(p.omitted) > 0
}

// Validate rejects policies that cannot be applied consistently.
func (p *Policy) Validate() error {
	seen := make(map[string]struct{}, len(p.OmittedColumns))
	for _, c := range p.OmittedColumns {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("omitted column name cannot be empty")
		}
		lc := strings.ToLower(c)
		if _, dup := seen[lc]; dup {
			return fmt.Errorf("column %q listed twice", c)
		}
		seen[lc] = struct{}{}
	}
	for _, k := range p.KeyColumns {
		if _, omitted := seen[strings.ToLower(k)]; omitted {
			return fmt.Errorf("key column %q cannot be omitted", k)
		}
	}
	return nil
}

// clone returns an indexed copy so registered policies cannot be mutated by callers.
func (p *Policy) clone() *Policy {
	c := &Policy{
		Ignore:          p.Ignore,
		OmittedColumns:  append([]string(nil), p.OmittedColumns...),
		RetainedRowKeys: append([]string(nil), p.RetainedRowKeys...),
		KeyColumns:      append([]string(nil), p.KeyColumns...),
	}
	sort.Strings(c.OmittedColumns)
	c.index()
	return c
}
