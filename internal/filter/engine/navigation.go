package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/page"
)

// navigationWatcher remembers the last observed location and tells the engine when it moved.
// Both the history events and the poll fallback go through observe.
type navigationWatcher struct {
	nav      page.Navigator
	lastHref string
}

func newNavigationWatcher(nav page.Navigator) *navigationWatcher {
	w := &navigationWatcher{nav: nav}
	w.lastHref, _ = nav.Href()
	return w
}

// observe reads the current location and reports whether it differs from the last observed
// one. Events only wake the watcher: a queued event that is older than the location already
// seen by the poll must not move lastHref back.
func (w *navigationWatcher) observe() bool {
	href, err := w.nav.Href()
	if err != nil {
		return false
	}
	if href == w.lastHref {
		return false
	}
	w.lastHref = href
	return true
}

// polled labels location changes found by the poll fallback rather than a history event.
const polled page.NavigationKind = "poll"

// navigated handles a history event or a poll tick. A reload replaces the document, so it is
// handled even when the location is unchanged.
func (e *Engine) navigated(ctx context.Context, kind page.NavigationKind) {
	if !e.watcher.observe() && kind != page.Reload {
		return
	}
	e.logger.Info("Location changed, resetting whitelist cache.",
		zap.String("kind", string(kind)), zap.String("href", e.watcher.lastHref))
	e.gate.Reset()
	// The quiet-period timer is left alone: mutation roots still get their own pass.
	e.fullScan(ctx, TriggerNavigation)
}
