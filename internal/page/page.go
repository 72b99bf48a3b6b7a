// File: internal/page/page.go

// Package page defines the contracts between the filtering core and whatever hosts the live
// document: an in-memory tree, a browser tab, or a proxied response. The core never talks to
// a host directly, only through these interfaces.
package page

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

var (
	// ErrDetached is returned when a node is no longer part of the document.
	ErrDetached = errors.New("node is detached from the document")
	// ErrUnknownNode is returned by hosts that cannot map a node back to their own tree.
	ErrUnknownNode = errors.New("node is unknown to the host")
	// ErrNotText is returned when SetText targets a node that does not carry text.
	ErrNotText = errors.New("node is not a text node")
)

// Tree is the mutation surface the scanner needs. Implementations are called with the
// document lock held.
type Tree interface {
	// Attached reports whether n is still reachable from the document root.
	Attached(n *html.Node) bool
	// Detach removes n (and its subtree) from the document.
	Detach(n *html.Node) error
	// SetText replaces the content of text node n.
	SetText(n *html.Node, text string) error
}

// Batch is one delivery of tree changes, the equivalent of a MutationObserver callback.
type Batch struct {
	// Added holds the element nodes inserted by this batch, in document order.
	Added []*html.Node
	// Removed counts nodes removed by this batch.
	Removed int
	// CharacterData counts text nodes whose content changed.
	CharacterData int
}

// Empty reports whether the batch carries no change at all.
func (b Batch) Empty() bool {
	return len(b.Added) == 0 && b.Removed == 0 && b.CharacterData == 0
}

// NavigationKind says which entry point produced a Navigation.
type NavigationKind string

const (
	// PushState is emitted after a history.pushState call-through.
	PushState NavigationKind = "push_state"
	// ReplaceState is emitted after a history.replaceState call-through.
	ReplaceState NavigationKind = "replace_state"
	// PopState is emitted for user driven back/forward navigation.
	PopState NavigationKind = "pop_state"
	// Reload is emitted when the whole document was replaced.
	Reload NavigationKind = "reload"
)

// Navigation is a location change reported by the host.
type Navigation struct {
	Kind NavigationKind
	Href string
}

// Navigator is the history backend observed by the navigation watcher.
type Navigator interface {
	// Href returns the current location of the page.
	Href() (string, error)
	// Navigations delivers history-driven location changes.
	Navigations() <-chan Navigation
}

// Document is a live, mutable document. Lock must be held while reading or mutating the tree
// returned by Body. Href and the channel accessors do not require the lock.
type Document interface {
	sync.Locker
	Tree
	Navigator

	// Body returns the default scan root, or nil when the document has no body yet.
	Body() *html.Node
	// Mutations delivers tree change batches produced by the host.
	Mutations() <-chan Batch
	// Done is closed when the document is torn down.
	Done() <-chan struct{}
}

// Identity returns the host name of the navigator's current location, or "" when it cannot
// be resolved. An empty identity means filtering must be skipped for this cycle.
func Identity(nav Navigator) string {
	if nav == nil {
		return ""
	}
	href, err := nav.Href()
	if err != nil {
		return ""
	}
	return HostOf(href)
}

// HostOf extracts the lowercase host name from href, or "" on failure.
func HostOf(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
