package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/shroud/internal/page"
)

const testHTML = `<html><head><title>t</title></head><body><div id="feed"><p>first</p></div></body></html>`

func newDoc(t *testing.T) *Document {
	t.Helper()
	d, err := ParseString(testHTML, "https://example.com/feed")
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestDocument_TreeOperations(t *testing.T) {
	d := newDoc(t)

	ps, err := d.Query("//p")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	p := ps[0]

	d.Lock()
	defer d.Unlock()

	require.NotNil(t, d.Body())
	assert.True(t, d.Attached(p))

	require.NoError(t, d.SetText(p.FirstChild, "changed"))
	assert.Equal(t, "changed", p.FirstChild.Data)
	assert.ErrorIs(t, d.SetText(p, "x"), page.ErrNotText)

	require.NoError(t, d.Detach(p))
	assert.False(t, d.Attached(p))
	assert.False(t, d.Attached(p.FirstChild), "descendants leave with their ancestor")
	assert.ErrorIs(t, d.Detach(p), page.ErrDetached, "second detach reports the node as gone")
	assert.ErrorIs(t, d.SetText(p.FirstChild, "y"), page.ErrDetached)
}

func TestDocument_AppendEmitsBatch(t *testing.T) {
	d := newDoc(t)

	nodes, err := d.AppendTo("//div[@id='feed']", `<article class="a">one</article>text<span>two</span>`)
	require.NoError(t, err)
	assert.Len(t, nodes, 3)

	batch := <-d.Mutations()
	require.Len(t, batch.Added, 2, "only element nodes are reported as added")
	assert.Equal(t, "article", batch.Added[0].Data)
	assert.Equal(t, "span", batch.Added[1].Data)

	assert.Contains(t, d.String(), `<article class="a">one</article>text<span>two</span>`)
}

func TestDocument_HostEditsEmitBatches(t *testing.T) {
	d := newDoc(t)
	ps, err := d.Query("//p")
	require.NoError(t, err)

	require.NoError(t, d.SetData(ps[0].FirstChild, "edited"))
	assert.Equal(t, page.Batch{CharacterData: 1}, <-d.Mutations())

	require.NoError(t, d.Remove(ps[0]))
	assert.Equal(t, page.Batch{Removed: 1}, <-d.Mutations())

	assert.ErrorIs(t, d.Remove(ps[0]), page.ErrDetached)
}

func TestDocument_History(t *testing.T) {
	d := newDoc(t)

	require.NoError(t, d.PushState("/post/1"))
	nav := <-d.Navigations()
	assert.Equal(t, page.PushState, nav.Kind)
	assert.Equal(t, "https://example.com/post/1", nav.Href)

	require.NoError(t, d.ReplaceState("/post/2"))
	nav = <-d.Navigations()
	assert.Equal(t, page.ReplaceState, nav.Kind)
	assert.Equal(t, "https://example.com/post/2", nav.Href)

	require.NoError(t, d.Back())
	nav = <-d.Navigations()
	assert.Equal(t, page.PopState, nav.Kind)
	assert.Equal(t, "https://example.com/feed", nav.Href)

	require.NoError(t, d.Forward())
	nav = <-d.Navigations()
	assert.Equal(t, "https://example.com/post/2", nav.Href)

	// Past the end of history nothing happens.
	require.NoError(t, d.Forward())
	assert.Empty(t, d.Navigations())

	require.NoError(t, d.SetHref("https://other.org/"))
	assert.Empty(t, d.Navigations(), "SetHref bypasses the observed entry points")
	href, err := d.Href()
	require.NoError(t, err)
	assert.Equal(t, "https://other.org/", href)
	assert.Equal(t, "other.org", page.Identity(d))
}

func TestDocument_NoLocation(t *testing.T) {
	d, err := ParseString(testHTML, "")
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Href()
	assert.ErrorIs(t, err, ErrNoLocation)
	assert.Equal(t, "", page.Identity(d))
}

func TestDocument_ClosedEdits(t *testing.T) {
	d := newDoc(t)
	// Fill the buffer so the only way out of emit is the closed done channel.
	for i := 0; i < eventBuffer; i++ {
		d.mutations <- page.Batch{Removed: 1}
	}
	d.Close()

	_, err := d.AppendTo("//body", "<p>late</p>")
	assert.ErrorIs(t, err, ErrClosed)
}
