package keyword

import (
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should reject an empty keyword set", func(t *testing.T) {
		_, err := New(nil, DefaultPlaceholder)
		assert.ErrorIs(t, err, ErrEmptyKeywordSet)
	})

	t.Run("should reject a blank term", func(t *testing.T) {
		_, err := New([]string{"pride", "  "}, DefaultPlaceholder)
		assert.ErrorIs(t, err, ErrEmptyKeyword)
		assert.Contains(t, err.Error(), "index 1")
	})

	t.Run("should reject a placeholder that would be redacted", func(t *testing.T) {
		_, err := New([]string{"removed"}, DefaultPlaceholder)
		assert.ErrorIs(t, err, ErrPlaceholderMatches)
	})

	t.Run("should escape pattern syntax in terms", func(t *testing.T) {
		m, err := New([]string{"c++", "a.b"}, "***")
		require.NoError(t, err)
		assert.False(t, m.Matches("axb"), "dot must be literal")
		assert.True(t, m.Matches("we like a.b here"))
	})

	t.Run("should normalize terms to lowercase", func(t *testing.T) {
		m, err := New([]string{"  Pride "}, DefaultPlaceholder)
		require.NoError(t, err)
		assert.Equal(t, []string{"pride"}, m.Terms())
	})
}

func TestMatches(t *testing.T) {
	m := Default()

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty string", "", false},
		{"standalone word", "happy pride month", true},
		{"upper case", "PRIDE", true},
		{"mixed case", "We support the LgBt community", true},
		{"surrounded by punctuation", "(queer)", true},
		{"hyphenated term", "a non-binary person", true},
		{"longer term after shorter prefix", "lgbtqia+", true},
		{"substring of larger word", "Gaylord Perry", false},
		{"prefix of larger word", "transport", false},
		{"suffix of larger word", "bigay", false},
		{"underscore joins words", "pride_parade", false},
		{"digits join words", "pride2024", false},
		{"no keyword", "a quiet afternoon", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.text))
		})
	}
}

func TestRedact(t *testing.T) {
	m := Default()

	t.Run("should replace exactly the matched occurrence", func(t *testing.T) {
		assert.Equal(t, "We support the [removed] community", m.Redact("We support the lgbt community"))
	})

	t.Run("should replace every occurrence in any case", func(t *testing.T) {
		assert.Equal(t, "[removed] and [removed]!", m.Redact("Pride and GAY!"))
	})

	t.Run("should preserve whitespace and structure", func(t *testing.T) {
		in := "  line one\n\tqueer\n  line three  "
		assert.Equal(t, "  line one\n\t[removed]\n  line three  ", m.Redact(in))
	})

	t.Run("should leave larger words untouched", func(t *testing.T) {
		in := "Gaylord took the transit"
		assert.Equal(t, in, m.Redact(in))
	})

	t.Run("should be idempotent", func(t *testing.T) {
		inputs := []string{
			"", "pride", "gay-pride parade", "[removed] lgbt", "trans-atlantic trans",
		}
		for _, in := range inputs {
			once := m.Redact(in)
			assert.Equal(t, once, m.Redact(once), "input %q", in)
		}
	})

	t.Run("should not fold diacritics", func(t *testing.T) {
		assert.False(t, m.Matches("prïde"))
	})

	t.Run("should not fold non-ASCII lookalikes onto ASCII letters", func(t *testing.T) {
		longS := "bi\u017fexual"       // LATIN SMALL LETTER LONG S
		kelvin := "s\u212aoliosexual" // KELVIN SIGN
		for _, in := range []string{longS, kelvin} {
			assert.False(t, m.Matches(in), "input %q", in)
			assert.Equal(t, in, m.Redact(in))
		}
		assert.True(t, m.Matches("BiSeXuAl"))
	})

	t.Run("should match case variants of non-ASCII terms", func(t *testing.T) {
		custom, err := New([]string{"Naïve"}, DefaultPlaceholder)
		require.NoError(t, err)
		assert.True(t, custom.Matches("NAÏVE"))
		assert.Equal(t, "a [removed] plan", custom.Redact("a naïve plan"))
	})
}

func TestCustomPlaceholder(t *testing.T) {
	m, err := New([]string{"spoiler"}, "███")
	require.NoError(t, err)
	assert.Equal(t, "no ███ here", m.Redact("no SPOILER here"))
	assert.Equal(t, "███", m.Placeholder())
}

func FuzzRedactIdempotent(f *testing.F) {
	m := Default()
	f.Add("We support the lgbt community")
	f.Add("Gaylord")
	f.Add("pride-pride_pride")
	f.Fuzz(func(t *testing.T, s string) {
		once := m.Redact(s)
		if twice := m.Redact(once); twice != once {
			t.Fatalf("redact not idempotent: %q -> %q -> %q", s, once, twice)
		}
		if m.Matches(once) {
			t.Fatalf("redacted output still matches: %q", once)
		}
	})
}

func FuzzMatchesStandalone(f *testing.F) {
	m := Default()
	f.Add([]byte("seed"))
	f.Fuzz(func(t *testing.T, data []byte) {
		c := fuzz.NewConsumer(data)
		idx, err := c.GetInt()
		if err != nil {
			return
		}
		left, _ := c.GetString()
		right, _ := c.GetString()
		term := DefaultKeywords[uint(idx)%uint(len(DefaultKeywords))]

		// Pad with spaces so the term stands alone whatever the fuzzer produced.
		s := left + " " + strings.ToUpper(term) + " " + right
		if !m.Matches(s) {
			t.Fatalf("standalone term %q not matched in %q", term, s)
		}
	})
}
