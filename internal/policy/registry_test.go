package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userEntity struct{}

func (userEntity) TableName() string { return "users" }

func (userEntity) ExportPolicy() *Policy { return New("email").Retain(1) }

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("audit_logs", Ignored()))
	require.NoError(t, r.RegisterEntity(userEntity{}))

	p, ok := r.Lookup("Users")
	require.True(t, ok)
	assert.True(t, p.Omits("email"))
	assert.True(t, p.Retains("1"))

	p, ok = r.Lookup("audit_logs")
	require.True(t, ok)
	assert.True(t, p.Ignore)

	_, ok = r.Lookup("orders")
	assert.False(t, ok)
	assert.False(t, r.For("orders").Redacts())

	assert.Equal(t, []string{"audit_logs", "users"}, r.Tables())
}

func TestRegistry_RejectsDuplicatesAndInvalid(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("users", New("email")))

	assert.Error(t, r.Register("USERS", New("name")))
	assert.Error(t, r.Register("", New()))
	assert.Error(t, r.Register("orders", nil))
	assert.Error(t, r.Register("orders", &Policy{OmittedColumns: []string{""}}))
}

func TestRegistry_PoliciesAreCopied(t *testing.T) {
	r := NewRegistry()
	p := New("email")
	require.NoError(t, r.Register("users", p))

	p.OmittedColumns = append(p.OmittedColumns, "name")
	p.index()

	registered, _ := r.Lookup("users")
	assert.False(t, registered.Omits("name"))
}

func TestRegistry_DecodedPolicyIsIndexed(t *testing.T) {
	// Policies decoded from configuration only have their exported fields set.
	r := NewRegistry()
	require.NoError(t, r.RegisterAll(map[string]*Policy{
		"users": {OmittedColumns: []string{"email"}, RetainedRowKeys: []string{"1"}},
	}))

	p, ok := r.Lookup("users")
	require.True(t, ok)
	assert.True(t, p.Omits("email"))
	assert.True(t, p.Retains("1"))
}

func TestRegistry_Merge(t *testing.T) {
	base := NewRegistry()
	require.NoError(t, base.Register("users", New("email")))

	extra := NewRegistry()
	require.NoError(t, extra.Register("sessions", Ignored()))

	require.NoError(t, base.Merge(extra))
	assert.Equal(t, []string{"sessions", "users"}, base.Tables())

	conflicting := NewRegistry()
	require.NoError(t, conflicting.Register("users", New("name")))
	assert.Error(t, base.Merge(conflicting))
}

func TestRegisterPolicyUsesDefaultRegistry(t *testing.T) {
	require.NoError(t, RegisterPolicy("default_registry_probe", Ignored()))
	p, ok := Default().Lookup("default_registry_probe")
	require.True(t, ok)
	assert.True(t, p.Ignore)
}
