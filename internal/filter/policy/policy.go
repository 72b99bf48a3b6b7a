// File: internal/filter/policy/policy.go

// Package policy decides, node by node, what the scanner is allowed to touch. It applies the
// exclusion rules (structural tags, editable inputs) and defers the actual keyword test to the
// keyword matcher.
package policy

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/shroud/internal/filter/keyword"
	"github.com/xkilldash9x/shroud/internal/page"
)

// DefaultSkipTags are never removed: they hold the page shell or nothing user visible.
var DefaultSkipTags = []string{
	"html", "head", "body", "script", "style", "noscript", "iframe", "meta", "link", "title",
}

// DefaultEditableInputTypes are the input types whose content is user input.
var DefaultEditableInputTypes = []string{"text", "search", "email", "url", "tel"}

// opaqueTextParents hold text that is never rendered as page copy.
var opaqueTextParents = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "iframe": {}, "title": {}, "template": {},
}

// Policy is immutable once built and safe for concurrent use.
type Policy struct {
	matcher            *keyword.Matcher
	skipTags           map[string]struct{}
	editableInputTypes map[string]struct{}
}

// Option customizes a Policy.
type Option func(*Policy)

// WithSkipTags replaces the structural exclusion set.
func WithSkipTags(tags []string) Option {
	return func(p *Policy) { p.skipTags = toSet(tags) }
}

// WithEditableInputTypes replaces the set of input types treated as editable.
func WithEditableInputTypes(types []string) Option {
	return func(p *Policy) { p.editableInputTypes = toSet(types) }
}

// New builds a policy around the given matcher.
func New(m *keyword.Matcher, opts ...Option) *Policy {
	p := &Policy{
		matcher:            m,
		skipTags:           toSet(DefaultSkipTags),
		editableInputTypes: toSet(DefaultEditableInputTypes),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Matcher exposes the keyword matcher the policy was built with.
func (p *Policy) Matcher() *keyword.Matcher { return p.matcher }

// ShouldRemoveElement reports whether el must be detached: it is not a structural tag and at
// least one of its class tokens contains a blocked term.
func (p *Policy) ShouldRemoveElement(el *html.Node) bool {
	tag := page.TagName(el)
	if tag == "" {
		return false
	}
	if _, skip := p.skipTags[tag]; skip {
		return false
	}

	class, ok := page.Attr(el, "class")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(class) {
		if p.matcher.Matches(token) {
			return true
		}
	}
	return false
}

// IsEditableTextNode reports whether n holds in-progress user input and must never be redacted.
func (p *Policy) IsEditableTextNode(n *html.Node) bool {
	if n == nil || n.Parent == nil {
		return false
	}
	parent := n.Parent

	switch page.TagName(parent) {
	case "textarea":
		return true
	case "input":
		typ, ok := page.Attr(parent, "type")
		if !ok || strings.TrimSpace(typ) == "" {
			// An input without a type is a text input.
			typ = "text"
		}
		if _, editable := p.editableInputTypes[strings.ToLower(strings.TrimSpace(typ))]; editable {
			return true
		}
	}
	return isContentEditable(parent)
}

// IsOpaqueText reports whether n is text inside a raw-text or metadata element
// (script, style, title, ...). Such text is not page copy and is left alone.
func (p *Policy) IsOpaqueText(n *html.Node) bool {
	if n == nil || n.Parent == nil {
		return false
	}
	_, opaque := opaqueTextParents[page.TagName(n.Parent)]
	return opaque
}

// ShouldRedactText reports whether text node n is eligible and contains a blocked term.
func (p *Policy) ShouldRedactText(n *html.Node) bool {
	if n == nil || n.Type != html.TextNode {
		return false
	}
	if p.IsEditableTextNode(n) || p.IsOpaqueText(n) {
		return false
	}
	return p.matcher.Matches(n.Data)
}

// isContentEditable mirrors the inherited contenteditable state: the nearest ancestor
// carrying the attribute decides.
func isContentEditable(el *html.Node) bool {
	for cur := el; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		val, ok := page.Attr(cur, "contenteditable")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "true", "plaintext-only":
			return true
		case "false":
			return false
		}
		// Any other value is invalid and inherits from the parent.
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
