package dump

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func TestCategoryFor(t *testing.T) {
	tests := []struct {
		column string
		want   Category
	}{
		{"email", CategoryEmail},
		{"contact_email", CategoryEmail},
		{"first_name", CategoryName},
		{"UserName", CategoryName},
		{"phone_number", CategoryPhone},
		{"mobile", CategoryPhone},
		{"billing_address", CategoryAddress},
		{"city", CategoryAddress},
		{"birth_date", CategoryDate},
		{"created_at", CategoryDate},
		{"dob", CategoryDate},
		{"website_url", CategoryURL},
		{"avatar", CategoryURL},
		{"password", CategorySecret},
		{"api_token", CategorySecret},
		{"password_hash", CategorySecret},
		{"title", CategoryWord},
		{"amount", CategoryNone},
		{"status", CategoryNone},
	}

	for _, tt := range tests {
		t.Run(tt.column, func(t *testing.T) {
			assert.Equal(t, tt.want, CategoryFor(tt.column))
		})
	}
}

func TestSynthesizer_ValueByCategory(t *testing.T) {
	s := NewSynthesizer(42)

	email := s.Value("email", "alice@example.com")
	require.IsType(t, "", email)
	assert.Regexp(t, emailPattern, email)
	assert.NotEqual(t, "alice@example.com", email)

	name := s.Value("full_name", "Alice Liddell")
	require.IsType(t, "", name)
	assert.Contains(t, name.(string), " ")

	phone := s.Value("phone", "+1 555 0100")
	require.IsType(t, "", phone)
	assert.NotEqual(t, "+1 555 0100", phone)

	url := s.Value("homepage_url", "https://example.com")
	require.IsType(t, "", url)
	assert.True(t, strings.HasPrefix(url.(string), "http"), "url = %v", url)

	address := s.Value("address", "1 Main St")
	require.IsType(t, "", address)
	assert.NotEmpty(t, address)
}

func TestSynthesizer_SecretsHaveMinimumLength(t *testing.T) {
	s := NewSynthesizer(7)

	for _, original := range []string{"x", "hunter2", strings.Repeat("a", 60)} {
		v := s.Value("password", original)
		require.IsType(t, "", v)
		got := v.(string)
		assert.GreaterOrEqual(t, utf8.RuneCountInString(got), MinSecretLength)
		assert.GreaterOrEqual(t, utf8.RuneCountInString(got), utf8.RuneCountInString(original))
		assert.NotEqual(t, original, got)
	}
}

func TestSynthesizer_ValueByType(t *testing.T) {
	s := NewSynthesizer(99)

	tests := []struct {
		name     string
		column   string
		original any
		check    func(t *testing.T, v any)
	}{
		{"integer", "amount", int64(10), func(t *testing.T, v any) {
			assert.IsType(t, int64(0), v)
		}},
		{"unsigned", "amount", uint64(10), func(t *testing.T, v any) {
			assert.IsType(t, uint64(0), v)
		}},
		{"float", "price", 19.99, func(t *testing.T, v any) {
			assert.IsType(t, float64(0), v)
		}},
		{"string", "status", "active", func(t *testing.T, v any) {
			assert.IsType(t, "", v)
		}},
		{"boolean", "verified", true, func(t *testing.T, v any) {
			assert.IsType(t, true, v)
		}},
		{"binary", "payload", []byte{0xff, 0x00, 0xfe}, func(t *testing.T, v any) {
			require.IsType(t, []byte{}, v)
			assert.Len(t, v.([]byte), 3)
		}},
		{"time", "expires", time.Date(2020, 5, 1, 10, 0, 0, 0, time.UTC), func(t *testing.T, v any) {
			assert.IsType(t, time.Time{}, v)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := s.Value(tt.column, tt.original)
			tt.check(t, v)
			if _, isBool := tt.original.(bool); !isBool {
				assert.NotEqual(t, tt.original, v)
			}
		})
	}
}

func TestSynthesizer_NullStaysNull(t *testing.T) {
	assert.Nil(t, NewSynthesizer(1).Value("email", nil))
}

func TestSynthesizer_DateKeepsLayout(t *testing.T) {
	s := NewSynthesizer(3)

	v := s.Value("birth_date", "1990-04-12")
	_, err := time.Parse("2006-01-02", v.(string))
	assert.NoError(t, err)

	v = s.Value("status_changed", "2021-01-01 12:30:00")
	_, err = time.Parse("2006-01-02 15:04:05", v.(string))
	assert.NoError(t, err)
}

func TestSynthesizer_SeedIsDeterministic(t *testing.T) {
	a := NewSynthesizer(1234)
	b := NewSynthesizer(1234)
	for i := 0; i < 5; i++ {
		assert.Equal(t, a.Value("email", "x@example.com"), b.Value("email", "x@example.com"))
	}
}
