package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/shroud/internal/page"
)

func parseNodes(t *testing.T) (outer, inner, sibling *html.Node) {
	t.Helper()
	doc, err := htmlquery.Parse(strings.NewReader(
		`<body><div id="outer"><p id="inner">x</p></div><span id="sibling">y</span></body>`))
	require.NoError(t, err)
	outer = htmlquery.FindOne(doc, "//div[@id='outer']")
	inner = htmlquery.FindOne(doc, "//p[@id='inner']")
	sibling = htmlquery.FindOne(doc, "//span[@id='sibling']")
	require.NotNil(t, outer)
	require.NotNil(t, inner)
	require.NotNil(t, sibling)
	return outer, inner, sibling
}

func TestScheduler_IdleUntilFirstBatch(t *testing.T) {
	s := newScheduler(time.Hour)
	assert.Nil(t, s.timerC())
	assert.Empty(t, s.drain())
}

func TestScheduler_DeduplicatesInInsertionOrder(t *testing.T) {
	outer, inner, sibling := parseNodes(t)
	s := newScheduler(time.Hour)
	defer s.stop()

	text := &html.Node{Type: html.TextNode, Data: "t"}
	s.add(page.Batch{Added: []*html.Node{sibling, text, nil}})
	s.add(page.Batch{Added: []*html.Node{inner, sibling}})
	s.add(page.Batch{Added: []*html.Node{outer}})

	assert.Equal(t, 3, s.size(), "text nodes and repeats are not roots")
	assert.NotNil(t, s.timerC())

	roots := s.drain()
	assert.Equal(t, []*html.Node{sibling, outer}, roots, "inner is covered by outer")
	assert.Nil(t, s.timerC(), "drain returns to idle")
	assert.Zero(t, s.size())
}

func TestScheduler_RemovalOnlyBatchRestartsTimer(t *testing.T) {
	s := newScheduler(30 * time.Millisecond)
	defer s.stop()

	s.add(page.Batch{Removed: 1})
	require.NotNil(t, s.timerC())

	select {
	case <-s.timerC():
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	assert.Empty(t, s.drain(), "a quiet period without added roots scans nothing")
}

func TestScheduler_EveryBatchPushesTheDeadline(t *testing.T) {
	s := newScheduler(80 * time.Millisecond)
	defer s.stop()

	start := time.Now()
	for i := 0; i < 5; i++ {
		s.add(page.Batch{CharacterData: 1})
		time.Sleep(40 * time.Millisecond)
	}
	<-s.timerC()
	assert.GreaterOrEqual(t, time.Since(start), 4*40*time.Millisecond+80*time.Millisecond-10*time.Millisecond, "the last batch at 160ms sets the deadline")
}

func TestCollapse(t *testing.T) {
	outer, inner, sibling := parseNodes(t)

	assert.Nil(t, collapse(nil))
	assert.Equal(t, []*html.Node{inner}, collapse([]*html.Node{inner}))
	assert.Equal(t, []*html.Node{outer, sibling}, collapse([]*html.Node{inner, outer, sibling}))
}
