// File: internal/page/memory/document.go

// Package memory hosts a live document entirely in process: an x/net/html tree plus a
// history stack. Host-side edits (Append, SetData, Remove) are reported as mutation batches and
// history calls as navigations, exactly as a browser tab would report them.
package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/shroud/internal/page"
)

// ErrNoLocation is returned by Href when the document has no known location.
var ErrNoLocation = errors.New("document has no location")

// ErrClosed is returned by host edits after Close.
var ErrClosed = errors.New("document is closed")

const eventBuffer = 256

// Document is an in-memory page.Document.
type Document struct {
	mu   sync.Mutex
	root *html.Node

	historyMu sync.RWMutex
	history   []string
	index     int

	mutations   chan page.Batch
	navigations chan page.Navigation
	done        chan struct{}
	closeOnce   sync.Once
}

var _ page.Document = (*Document)(nil)

// New wraps an already parsed document node.
func New(root *html.Node, href string) *Document {
	d := &Document{
		root:        root,
		mutations:   make(chan page.Batch, eventBuffer),
		navigations: make(chan page.Navigation, eventBuffer),
		done:        make(chan struct{}),
	}
	if href != "" {
		d.history = []string{href}
	}
	return d
}

// Parse reads HTML from r into a new Document located at href.
func Parse(r io.Reader, href string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return New(root, href), nil
}

// ParseString is Parse over a string.
func ParseString(s, href string) (*Document, error) {
	return Parse(strings.NewReader(s), href)
}

// -- page.Document --

// Lock acquires the tree lock.
func (d *Document) Lock() { d.mu.Lock() }

// Unlock releases the tree lock.
func (d *Document) Unlock() { d.mu.Unlock() }

// Root returns the document node. Callers must hold the lock while walking it.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the body element, or nil.
func (d *Document) Body() *html.Node { return page.FindElement(d.root, "body") }

// Attached reports whether n is still part of the document.
func (d *Document) Attached(n *html.Node) bool { return page.IsAttached(n, d.root) }

// Detach removes n from its parent.
func (d *Document) Detach(n *html.Node) error {
	if !d.Attached(n) || n.Parent == nil {
		return page.ErrDetached
	}
	n.Parent.RemoveChild(n)
	return nil
}

// SetText replaces the content of text node n.
func (d *Document) SetText(n *html.Node, text string) error {
	if n == nil || n.Type != html.TextNode {
		return page.ErrNotText
	}
	if !d.Attached(n) {
		return page.ErrDetached
	}
	n.Data = text
	return nil
}

// Mutations delivers host edits.
func (d *Document) Mutations() <-chan page.Batch { return d.mutations }

// Navigations delivers history calls.
func (d *Document) Navigations() <-chan page.Navigation { return d.navigations }

// Done is closed by Close.
func (d *Document) Done() <-chan struct{} { return d.done }

// Href returns the current history entry.
func (d *Document) Href() (string, error) {
	d.historyMu.RLock()
	defer d.historyMu.RUnlock()
	if len(d.history) == 0 || d.history[d.index] == "" {
		return "", ErrNoLocation
	}
	return d.history[d.index], nil
}

// Close tears the document down. Pending and future events are abandoned.
func (d *Document) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

// -- host-side tree edits --

// Append parses fragment in the context of parent and appends the resulting nodes to it.
// The added element nodes are reported as one mutation batch.
func (d *Document) Append(parent *html.Node, fragment string) ([]*html.Node, error) {
	d.mu.Lock()
	if !d.Attached(parent) || parent.Type != html.ElementNode {
		d.mu.Unlock()
		return nil, page.ErrDetached
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("failed to parse fragment: %w", err)
	}
	var added []*html.Node
	for _, n := range nodes {
		parent.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, n)
		}
	}
	d.mu.Unlock()

	return nodes, d.emit(page.Batch{Added: added})
}

// AppendTo is Append with the parent located by an XPath expression.
func (d *Document) AppendTo(expr, fragment string) ([]*html.Node, error) {
	d.mu.Lock()
	parent, err := htmlquery.Query(d.root, expr)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	if parent == nil {
		return nil, fmt.Errorf("no element matches %q", expr)
	}
	return d.Append(parent, fragment)
}

// SetData changes the content of a text node from the host side.
func (d *Document) SetData(n *html.Node, data string) error {
	d.mu.Lock()
	err := d.SetText(n, data)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.emit(page.Batch{CharacterData: 1})
}

// Remove detaches n from the host side.
func (d *Document) Remove(n *html.Node) error {
	d.mu.Lock()
	err := d.Detach(n)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.emit(page.Batch{Removed: 1})
}

// Query evaluates an XPath expression against the document under the lock.
func (d *Document) Query(expr string) ([]*html.Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return htmlquery.QueryAll(d.root, expr)
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, or an empty string if rendering fails.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// -- history backend --

// PushState adds a history entry and reports it once the entry is current.
func (d *Document) PushState(href string) error {
	resolved, err := d.resolve(href)
	if err != nil {
		return err
	}
	d.historyMu.Lock()
	if len(d.history) > 0 {
		d.history = d.history[:d.index+1]
	}
	d.history = append(d.history, resolved)
	d.index = len(d.history) - 1
	d.historyMu.Unlock()

	return d.notify(page.Navigation{Kind: page.PushState, Href: resolved})
}

// ReplaceState overwrites the current history entry and reports it.
func (d *Document) ReplaceState(href string) error {
	resolved, err := d.resolve(href)
	if err != nil {
		return err
	}
	d.historyMu.Lock()
	if len(d.history) == 0 {
		d.history = []string{resolved}
		d.index = 0
	} else {
		d.history[d.index] = resolved
	}
	d.historyMu.Unlock()

	return d.notify(page.Navigation{Kind: page.ReplaceState, Href: resolved})
}

// Back moves one entry back, reporting a pop-state navigation. It is a no-op at the start.
func (d *Document) Back() error { return d.traverse(-1) }

// Forward moves one entry forward, reporting a pop-state navigation. It is a no-op at the end.
func (d *Document) Forward() error { return d.traverse(1) }

// SetHref changes the location without going through any observed entry point, the way a
// router that bypasses the history API would.
func (d *Document) SetHref(href string) error {
	resolved, err := d.resolve(href)
	if err != nil {
		return err
	}
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	if len(d.history) == 0 {
		d.history = []string{resolved}
		d.index = 0
		return nil
	}
	d.history[d.index] = resolved
	return nil
}

func (d *Document) traverse(delta int) error {
	d.historyMu.Lock()
	next := d.index + delta
	if next < 0 || next >= len(d.history) {
		d.historyMu.Unlock()
		return nil
	}
	d.index = next
	href := d.history[next]
	d.historyMu.Unlock()

	return d.notify(page.Navigation{Kind: page.PopState, Href: href})
}

func (d *Document) resolve(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid location %q: %w", href, err)
	}
	current, err := d.Href()
	if err != nil {
		return ref.String(), nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

func (d *Document) emit(b page.Batch) error {
	if b.Empty() {
		return nil
	}
	select {
	case d.mutations <- b:
		return nil
	case <-d.done:
		return ErrClosed
	}
}

func (d *Document) notify(nav page.Navigation) error {
	select {
	case d.navigations <- nav:
		return nil
	case <-d.done:
		return ErrClosed
	}
}
