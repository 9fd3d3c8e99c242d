package dump

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/brianvoe/gofakeit/v6"
)

// Category is the kind of synthetic value chosen for a redacted column.
type Category string

const (
	CategoryEmail   Category = "email"
	CategoryName    Category = "name"
	CategoryPhone   Category = "phone"
	CategoryAddress Category = "address"
	CategoryDate    Category = "date"
	CategoryURL     Category = "url"
	CategorySecret  Category = "secret"
	CategoryWord    Category = "word"
	// CategoryNone means the value's runtime type picks the generator.
	CategoryNone Category = ""
)

// MinSecretLength is the shortest password or token the synthesizer produces.
const MinSecretLength = 16

const maxRegenerate = 5

// Synthesizer produces fake values shaped like the ones they replace.
// It is not safe for concurrent use.
type Synthesizer struct {
	faker *gofakeit.Faker
}

// NewSynthesizer returns a synthesizer. A zero seed picks a random one.
func NewSynthesizer(seed int64) *Synthesizer {
	return &Synthesizer{faker: gofakeit.New(seed)}
}

// CategoryFor picks a generator category from a column name.
func CategoryFor(column string) Category {
	name := strings.ToLower(column)
	tokens := strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	has := func(words ...string) bool {
		for _, t := range tokens {
			for _, w := range words {
				if t == w {
					return true
				}
			}
		}
		return false
	}
	contains := func(parts ...string) bool {
		for _, p := range parts {
			if strings.Contains(name, p) {
				return true
			}
		}
		return false
	}

	switch {
	case contains("password", "passwd", "secret", "token", "apikey", "api_key") || has("pwd", "hash", "salt"):
		return CategorySecret
	case contains("email") || has("mail"):
		return CategoryEmail
	case contains("phone") || has("mobile", "tel", "telephone", "fax", "cell", "msisdn"):
		return CategoryPhone
	case contains("url", "website", "homepage") || has("link", "href", "avatar"):
		return CategoryURL
	case contains("address") || has("street", "city", "addr", "zip", "zipcode", "postcode", "postal"):
		return CategoryAddress
	case contains("birthday", "date") || has("dob", "at", "on", "timestamp"):
		return CategoryDate
	case contains("name"):
		return CategoryName
	case has("title", "word", "tag", "label", "slug", "keyword"):
		return CategoryWord
	default:
		return CategoryNone
	}
}

// Value returns a synthetic replacement for original in column. NULL stays NULL.
// The replacement differs from the original unless the value space is tiny (booleans).
func (s *Synthesizer) Value(column string, original any) any {
	if original == nil {
		return nil
	}
	if _, isBool := original.(bool); isBool {
		return s.faker.Bool()
	}

	var v any
	for i := 0; i < maxRegenerate; i++ {
		v = s.generate(CategoryFor(column), original)
		if !sameValue(v, original) {
			break
		}
	}
	return v
}

func (s *Synthesizer) generate(category Category, original any) any {
	if text, ok := textOf(original); ok {
		if looksLikeDate(text) {
			category = CategoryDate
		}
		if v, ok := s.byCategory(category, text); ok {
			return v
		}
	}
	if t, ok := original.(time.Time); ok && category == CategoryDate {
		return s.date(t)
	}
	return s.byType(original)
}

func (s *Synthesizer) byCategory(category Category, original string) (string, bool) {
	f := s.faker
	switch category {
	case CategoryEmail:
		return f.Email(), true
	case CategoryName:
		if strings.Contains(original, " ") {
			return f.Name(), true
		}
		return f.FirstName(), true
	case CategoryPhone:
		return f.Phone(), true
	case CategoryAddress:
		return f.Address().Address, true
	case CategoryDate:
		return s.dateString(original), true
	case CategoryURL:
		return f.URL(), true
	case CategorySecret:
		n := utf8.RuneCountInString(original)
		if n < MinSecretLength {
			n = MinSecretLength + 4
		}
		if n > 128 {
			n = 128
		}
		return f.Password(true, true, true, false, false, n), true
	case CategoryWord:
		return f.Word(), true
	default:
		return "", false
	}
}

func (s *Synthesizer) byType(original any) any {
	f := s.faker
	switch v := original.(type) {
	case int64, int, int32, int16, int8:
		return int64(f.IntRange(1, math.MaxInt32))
	case uint64, uint, uint32, uint16, uint8:
		return uint64(f.Uint32())
	case float64, float32:
		return math.Round(f.Float64Range(0, 100000)*100) / 100
	case string:
		return f.Word()
	case []byte:
		if utf8.Valid(v) {
			return f.Word()
		}
		out := make([]byte, len(v))
		for i := range out {
			out[i] = f.Uint8()
		}
		return out
	case time.Time:
		return s.date(v)
	default:
		return f.Sentence(6)
	}
}

func (s *Synthesizer) date(original time.Time) time.Time {
	start := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC)
	return s.faker.DateRange(start, end).In(original.Location()).Truncate(time.Second)
}

var dateLayouts = []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02", "15:04:05"}

func looksLikeDate(text string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, text); err == nil {
			return true
		}
	}
	return false
}

// dateString keeps the layout of the original text when it is recognisable.
func (s *Synthesizer) dateString(original string) string {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, original); err == nil {
			return s.date(time.Time{}.UTC()).Format(layout)
		}
	}
	return s.date(time.Time{}.UTC()).Format("2006-01-02 15:04:05")
}

func textOf(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		if utf8.Valid(val) {
			return string(val), true
		}
	}
	return "", false
}

func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
