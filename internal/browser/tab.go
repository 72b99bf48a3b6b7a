// internal/browser/tab.go
package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/shroud/internal/page"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoLocation is returned by Href before the tab has committed a navigation.
var ErrNoLocation = errors.New("tab has no location")

const eventBuffer = 256

// documentSnapshot is a DOM.getDocument result observed on the wire. chromedp fetches the
// document itself on every DOM.documentUpdated, and each fetch renumbers the nodes, so the
// tab rebuilds from those responses instead of issuing competing fetches.
type documentSnapshot struct{ root *cdp.Node }

// Tab is a page.Document backed by a live browser tab. The tree is a mirror of the tab's DOM
// kept current from DOM domain events; edits made through the Tree methods go to the browser
// first and are then applied to the mirror.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.Mutex
	mirror *mirror

	queue *eventQueue

	stateMu   sync.RWMutex
	href      string
	mainFrame cdp.FrameID
	reloading bool

	mutations   chan page.Batch
	navigations chan page.Navigation
	done        chan struct{}
	doneOnce    sync.Once
	closeOnce   sync.Once
	onClose     func()
	wg          sync.WaitGroup
}

var _ page.Document = (*Tab)(nil)

// newTab wires a tab to the chromedp context ctx. The listener must be registered before
// the first action runs on ctx so no early event is missed.
func newTab(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Tab {
	t := &Tab{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		mirror:      newMirror(),
		queue:       newEventQueue(),
		mutations:   make(chan page.Batch, eventBuffer),
		navigations: make(chan page.Navigation, eventBuffer),
		done:        make(chan struct{}),
	}
	chromedp.ListenTarget(ctx, t.listen)

	t.wg.Add(1)
	go t.run()
	return t
}

// listen runs on chromedp's event goroutine and must not block.
func (t *Tab) listen(ev any) {
	switch e := ev.(type) {
	case *cdproto.Message:
		if root := documentRoot(e); root != nil {
			t.queue.push(documentSnapshot{root: root})
		}
	case *dom.EventSetChildNodes,
		*dom.EventChildNodeInserted,
		*dom.EventChildNodeRemoved,
		*dom.EventCharacterDataModified,
		*dom.EventChildNodeCountUpdated,
		*dom.EventAttributeModified,
		*dom.EventAttributeRemoved,
		*cdppage.EventFrameNavigated,
		*cdppage.EventNavigatedWithinDocument:
		t.queue.push(ev)
	}
}

// documentRoot extracts the root from a DOM.getDocument response, or returns nil.
func documentRoot(msg *cdproto.Message) *cdp.Node {
	if msg.ID == 0 || msg.Error != nil || !bytes.HasPrefix(msg.Result, []byte(`{"root":`)) {
		return nil
	}
	var res dom.GetDocumentReturns
	if err := json.Unmarshal(msg.Result, &res); err != nil {
		return nil
	}
	if res.Root == nil || res.Root.NodeType != cdp.NodeTypeDocument {
		return nil
	}
	return res.Root
}

func (t *Tab) run() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case <-t.ctx.Done():
			t.closeDone()
			return
		case <-t.queue.ready():
		}
		for items := t.queue.drain(); len(items) > 0; items = t.queue.drain() {
			for _, ev := range items {
				t.handle(ev)
			}
		}
	}
}

func (t *Tab) handle(ev any) {
	switch e := ev.(type) {
	case *cdppage.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		t.stateMu.Lock()
		t.mainFrame = e.Frame.ID
		t.href = e.Frame.URL + e.Frame.URLFragment
		t.reloading = true
		t.stateMu.Unlock()
		return

	case *cdppage.EventNavigatedWithinDocument:
		t.stateMu.Lock()
		if e.FrameID != t.mainFrame {
			t.stateMu.Unlock()
			return
		}
		t.href = e.URL
		t.stateMu.Unlock()

		kind := page.PopState
		if e.NavigationType == cdppage.NavigatedWithinDocumentNavigationTypeHistoryAPI {
			kind = page.PushState
		}
		t.notify(page.Navigation{Kind: kind, Href: e.URL})
		return

	case documentSnapshot:
		t.mu.Lock()
		c := t.mirror.reset(e.root)
		t.mu.Unlock()
		t.logger.Debug("Document replaced.", zap.Int("unloaded", len(c.unloaded)))
		t.request(c.unloaded)

		t.stateMu.Lock()
		reload, href := t.reloading, t.href
		t.reloading = false
		t.stateMu.Unlock()
		if reload {
			t.notify(page.Navigation{Kind: page.Reload, Href: href})
		}
		return
	}

	t.mu.Lock()
	c := t.mirror.apply(ev)
	t.mu.Unlock()
	t.request(c.unloaded)
	t.emit(c.batch)
}

// request asks the browser for the full subtrees of ids; they arrive as DOM.setChildNodes.
func (t *Tab) request(ids []cdp.NodeID) {
	for _, id := range ids {
		if err := chromedp.Run(t.ctx, dom.RequestChildNodes(id).WithDepth(-1)); err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.logger.Debug("Failed to request child nodes.", zap.Int64("node_id", int64(id)), zap.Error(err))
		}
	}
}

func (t *Tab) emit(b page.Batch) {
	if b.Empty() {
		return
	}
	select {
	case t.mutations <- b:
	case <-t.done:
	}
}

func (t *Tab) notify(nav page.Navigation) {
	select {
	case t.navigations <- nav:
	case <-t.done:
	}
}

// -- page.Document --

// Lock acquires the mirror lock.
func (t *Tab) Lock() { t.mu.Lock() }

// Unlock releases the mirror lock.
func (t *Tab) Unlock() { t.mu.Unlock() }

// Body returns the mirrored body element, or nil while the document is still loading.
func (t *Tab) Body() *html.Node { return page.FindElement(t.mirror.root, "body") }

// Attached reports whether n is still part of the mirror.
func (t *Tab) Attached(n *html.Node) bool { return t.mirror.attached(n) }

// Detach removes n from the page, then from the mirror.
func (t *Tab) Detach(n *html.Node) error {
	id, ok := t.mirror.nodeID(n)
	if !ok {
		return page.ErrUnknownNode
	}
	if !t.mirror.attached(n) {
		return page.ErrDetached
	}
	if err := chromedp.Run(t.ctx, dom.RemoveNode(id)); err != nil {
		return fmt.Errorf("failed to remove node %d: %w", id, err)
	}
	t.mirror.detach(n)
	return nil
}

// SetText replaces the value of text node n in the page, then in the mirror.
func (t *Tab) SetText(n *html.Node, text string) error {
	if n == nil || n.Type != html.TextNode {
		return page.ErrNotText
	}
	id, ok := t.mirror.nodeID(n)
	if !ok {
		return page.ErrUnknownNode
	}
	if !t.mirror.attached(n) {
		return page.ErrDetached
	}
	if err := chromedp.Run(t.ctx, dom.SetNodeValue(id, text)); err != nil {
		return fmt.Errorf("failed to set value of node %d: %w", id, err)
	}
	n.Data = text
	return nil
}

// Href returns the location of the main frame.
func (t *Tab) Href() (string, error) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	if t.href == "" {
		return "", ErrNoLocation
	}
	return t.href, nil
}

// Mutations delivers mirrored DOM changes made by the page.
func (t *Tab) Mutations() <-chan page.Batch { return t.mutations }

// Navigations delivers main frame location changes.
func (t *Tab) Navigations() <-chan page.Navigation { return t.navigations }

// Done is closed when the tab is closed or the browser goes away.
func (t *Tab) Done() <-chan struct{} { return t.done }

// -- lifecycle --

// Navigate loads url in the tab and waits for its body to be mirrored.
func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if timeout > 0 {
		navCtx, cancel = context.WithTimeout(navCtx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		t.mu.Lock()
		ready := t.Body() != nil
		t.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-navCtx.Done():
			return fmt.Errorf("document at %s was not mirrored: %w", url, navCtx.Err())
		case <-ticker.C:
		}
	}
}

// Close closes the tab. It is safe to call more than once.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.closeDone()
		t.cancel()
		t.wg.Wait()
		if t.onClose != nil {
			t.onClose()
		}
	})
}

func (t *Tab) closeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}
