package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableOrdering(t *testing.T) {
	cols := func(names ...string) []*Column {
		out := make([]*Column, len(names))
		for i, n := range names {
			out[i] = &Column{Name: n, Position: i + 1}
		}
		return out
	}

	tests := []struct {
		name  string
		table *Table
		want  Ordering
	}{
		{
			name: "single column primary key",
			table: &Table{Name: "users", Columns: cols("id", "email"), Indexes: []*Index{
				{Name: "email_idx", Columns: []string{"email"}},
				{Name: "PRIMARY", Columns: []string{"id"}, IsPrimary: true, IsUnique: true},
			}},
			want: Ordering{Column: "id", Columns: []string{"id"}, Source: OrderPrimary, Keyset: true},
		},
		{
			name: "composite primary key orders by every key column",
			table: &Table{Name: "role_user", Columns: cols("role_id", "user_id"), Indexes: []*Index{
				{Name: "PRIMARY", Columns: []string{"role_id", "user_id"}, IsPrimary: true, IsUnique: true},
			}},
			want: Ordering{Column: "role_id", Columns: []string{"role_id", "user_id"}, Source: OrderPrimary},
		},
		{
			name: "unique index without primary key",
			table: &Table{Name: "settings", Columns: cols("key", "value"), Indexes: []*Index{
				{Name: "a_value_idx", Columns: []string{"value"}},
				{Name: "b_key_unique", Columns: []string{"key"}, IsUnique: true},
			}},
			want: Ordering{Column: "key", Columns: []string{"key"}, Source: OrderUnique, Keyset: true},
		},
		{
			name: "nullable unique index pages by offset",
			table: &Table{Name: "profiles", Columns: cols("handle"), Indexes: []*Index{
				{Name: "handle_unique", Columns: []string{"handle"}, IsUnique: true, Nullable: true},
			}},
			want: Ordering{Column: "handle", Columns: []string{"handle"}, Source: OrderUnique},
		},
		{
			name: "plain index",
			table: &Table{Name: "logs", Columns: cols("level", "message"), Indexes: []*Index{
				{Name: "level_idx", Columns: []string{"level"}},
			}},
			want: Ordering{Column: "level", Columns: []string{"level"}, Source: OrderIndex},
		},
		{
			name: "composite unique index",
			table: &Table{Name: "memberships", Columns: cols("team_id", "user_id"), Indexes: []*Index{
				{Name: "team_user_unique", Columns: []string{"team_id", "user_id"}, IsUnique: true},
			}},
			want: Ordering{Column: "team_id", Columns: []string{"team_id", "user_id"}, Source: OrderUnique},
		},
		{
			name:  "no index",
			table: &Table{Name: "scratch", Columns: cols("note")},
			want:  Ordering{Source: OrderNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.table.Ordering())
		})
	}
}

func TestTableKeyColumns(t *testing.T) {
	withPK := &Table{Name: "t", Columns: []*Column{{Name: "uuid"}}, Indexes: []*Index{{Name: "PRIMARY", Columns: []string{"uuid"}, IsPrimary: true}}}
	if got := withPK.KeyColumns(); len(got) != 1 || got[0] != "uuid" {
		t.Errorf("KeyColumns() = %v", got)
	}

	withID := &Table{Name: "t", Columns: []*Column{{Name: "ID"}, {Name: "x"}}}
	if got := withID.KeyColumns(); len(got) != 1 || got[0] != "ID" {
		t.Errorf("KeyColumns() = %v", got)
	}

	none := &Table{Name: "t", Columns: []*Column{{Name: "x"}}}
	if got := none.KeyColumns(); got != nil {
		t.Errorf("KeyColumns() = %v, want nil", got)
	}
}

func TestTableValidate(t *testing.T) {
	if err := (&Table{}).Validate(); err == nil {
		t.Error("expected error for empty name")
	}
	if err := (&Table{Name: "t"}).Validate(); err == nil {
		t.Error("expected error for table without columns")
	}
	bad := &Table{Name: "t", Columns: []*Column{{Name: "a"}}, Indexes: []*Index{{Name: "i", Columns: []string{"b"}}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for index on unknown column")
	}
}
