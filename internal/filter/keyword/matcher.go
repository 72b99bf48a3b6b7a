// File: internal/filter/keyword/matcher.go

// Package keyword compiles the denylist into a single word-boundary pattern and answers
// the two questions the rest of the filter asks of it: does a string contain a blocked
// term, and what does that string look like with every blocked term replaced.
package keyword

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPlaceholder is the literal substituted for every matched term.
const DefaultPlaceholder = "[removed]"

// DefaultKeywords is the stock denylist. Terms are lowercase literals; matching is case-insensitive.
var DefaultKeywords = []string{
	"pride", "gay", "lesbian", "lgbt", "lgbtq", "lgbtqia", "queer",
	"transgender", "trans", "transsexual", "bisexual", "homosexual", "nonbinary", "non-binary",
	"pansexual", "asexual", "intersex", "genderfluid", "genderqueer", "agender",
	"bigender", "demiboy", "demigirl", "demisexual", "androgyne", "genderflux",
	"genderfae", "genderneutral", "neutrois", "omnisexual", "polysexual",
	"skoliosexual", "sapiosexual",
}

var (
	// ErrEmptyKeywordSet is returned when no terms are supplied.
	ErrEmptyKeywordSet = errors.New("keyword set is empty")
	// ErrEmptyKeyword is returned when one of the supplied terms is blank.
	ErrEmptyKeyword = errors.New("keyword set contains an empty term")
	// ErrPlaceholderMatches is returned when the placeholder would itself be redacted.
	ErrPlaceholderMatches = errors.New("placeholder matches the keyword set")
)

// Matcher is the compiled form of a keyword set. It is immutable and safe for concurrent use.
type Matcher struct {
	terms       []string
	placeholder string
	// pattern serves both the predicate and the global replacement so the two cannot drift.
	pattern *regexp.Regexp
}

// New validates the terms, escapes them and compiles the boundary-anchored pattern.
// Any error here is a configuration error and should stop the process at startup.
func New(terms []string, placeholder string) (*Matcher, error) {
	if len(terms) == 0 {
		return nil, ErrEmptyKeywordSet
	}
	if placeholder == "" {
		return nil, errors.New("placeholder must not be empty")
	}

	normalized := make([]string, 0, len(terms))
	quoted := make([]string, 0, len(terms))
	for i, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			return nil, fmt.Errorf("%w (index %d)", ErrEmptyKeyword, i)
		}
		normalized = append(normalized, term)
		quoted = append(quoted, caseless(term))
	}

	pattern, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile keyword pattern: %w", err)
	}

	m := &Matcher{
		terms:       normalized,
		placeholder: placeholder,
		pattern:     pattern,
	}
	// A placeholder that matches would make Redact non-idempotent.
	if m.Matches(placeholder) {
		return nil, fmt.Errorf("%w: %q", ErrPlaceholderMatches, placeholder)
	}
	return m, nil
}

// caseless quotes term so each letter matches only its upper and lower case forms. Unlike
// (?i), it never folds a non-ASCII rune onto an ASCII one: the long s does not match "s" and
// the Kelvin sign does not match "k".
func caseless(term string) string {
	var b strings.Builder
	for _, r := range term {
		forms := []rune{r}
		for _, f := range []rune{unicode.ToUpper(r), unicode.ToLower(r)} {
			if f != r && (f < utf8.RuneSelf) == (r < utf8.RuneSelf) && !slices.Contains(forms, f) {
				forms = append(forms, f)
			}
		}
		if len(forms) == 1 {
			b.WriteString(regexp.QuoteMeta(string(r)))
			continue
		}
		b.WriteByte('[')
		for _, f := range forms {
			b.WriteString(regexp.QuoteMeta(string(f)))
		}
		b.WriteByte(']')
	}
	return b.String()
}

// MustNew is like New but panics on error. Intended for package-level defaults.
func MustNew(terms []string, placeholder string) *Matcher {
	m, err := New(terms, placeholder)
	if err != nil {
		panic(fmt.Sprintf("keyword: %v", err))
	}
	return m
}

// Default returns a matcher over DefaultKeywords with DefaultPlaceholder.
func Default() *Matcher {
	return MustNew(DefaultKeywords, DefaultPlaceholder)
}

// Matches reports whether text contains at least one blocked term as a whole word.
func (m *Matcher) Matches(text string) bool {
	if text == "" {
		return false
	}
	return m.pattern.MatchString(text)
}

// Redact returns text with every whole-word occurrence of a blocked term replaced by the
// placeholder. Everything else, whitespace included, is left as is.
func (m *Matcher) Redact(text string) string {
	if text == "" {
		return text
	}
	return m.pattern.ReplaceAllLiteralString(text, m.placeholder)
}

// Terms returns a copy of the normalized keyword set.
func (m *Matcher) Terms() []string {
	out := make([]string, len(m.terms))
	copy(out, m.terms)
	return out
}

// Placeholder returns the replacement literal.
func (m *Matcher) Placeholder() string { return m.placeholder }
