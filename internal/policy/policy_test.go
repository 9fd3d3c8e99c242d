package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_OmitsAndRetains(t *testing.T) {
	p := New("email", "Password").Retain(1, "admin")

	assert.True(t, p.Omits("email"))
	assert.True(t, p.Omits("EMAIL"))
	assert.True(t, p.Omits("password"))
	assert.False(t, p.Omits("name"))

	assert.True(t, p.Retains("1"))
	assert.True(t, p.Retains("admin"))
	assert.False(t, p.Retains("2"))
	assert.True(t, p.Redacts())
}

func TestPolicy_NilIsPassThrough(t *testing.T) {
	var p *Policy
	assert.False(t, p.Omits("email"))
	assert.False(t, p.Retains("1"))
	assert.False(t, p.Redacts())
}

func TestPolicy_IgnoredDoesNotRedact(t *testing.T) {
	p := Ignored()
	assert.True(t, p.Ignore)
	assert.False(t, p.Redacts())
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "valid", policy: Policy{OmittedColumns: []string{"email"}}},
		{name: "empty column", policy: Policy{OmittedColumns: []string{" "}}, wantErr: true},
		{name: "duplicate column", policy: Policy{OmittedColumns: []string{"email", "Email"}}, wantErr: true},
		{name: "omitted key column", policy: Policy{OmittedColumns: []string{"id"}, KeyColumns: []string{"id"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFormatKey(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(42), "42"},
		{uint64(7), "7"},
		{int(3), "3"},
		{"abc", "abc"},
		{[]byte("xyz"), "xyz"},
		{1.5, "1.5"},
		{nil, ""},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02 03:04:05"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatKey(tt.in))
	}

	assert.Equal(t, "1,eu", CompositeKey(int64(1), []byte("eu")))
}
