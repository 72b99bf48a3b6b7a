// internal/browser/manager.go

// Package browser hosts the filter in a real Chromium tab driven over the DevTools protocol.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/config"
)

const launchTimeout = 30 * time.Second

// Manager owns the browser process and the tabs opened in it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// allocatorCtx manages the browser process; browserCtx is the first chromedp context
	// on it and keeps the process alive. Tabs are derived from browserCtx.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// wg tracks open tabs for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser and checks that it responds.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{cfg: cfg, logger: logger.Named("browser_manager")}

	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", cfg.Headless))
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx, m.contextOptions()...)

	// The first Run starts the process; its context must outlive the check.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	checkCtx, cancel := context.WithTimeout(m.browserCtx, launchTimeout)
	defer cancel()
	if err := chromedp.Run(checkCtx, chromedp.Navigate("about:blank")); err != nil {
		m.close()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return m, nil
}

func (m *Manager) contextOptions() []chromedp.ContextOption {
	sugar := m.logger.Named("cdp").Sugar()
	opts := []chromedp.ContextOption{
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	}
	if m.cfg.Debug {
		opts = append(opts, chromedp.WithDebugf(sugar.Debugf))
	}
	return opts
}

// OpenTab opens a new tab, loads url and returns it once its body is mirrored.
func (m *Manager) OpenTab(ctx context.Context, url string) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	t := newTab(tabCtx, cancel, m.logger.Named("tab"))

	if err := chromedp.Run(tabCtx); err != nil {
		t.Close()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if err := t.Navigate(ctx, url, m.cfg.NavigationTimeout); err != nil {
		t.Close()
		return nil, err
	}

	m.wg.Add(1)
	t.onClose = m.wg.Done
	m.logger.Info("Tab opened.", zap.String("url", url))
	return t, nil
}

// Shutdown waits for open tabs to close, bounded by ctx, then terminates the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open tabs to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All tabs have closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	m.close()
	return nil
}

func (m *Manager) close() {
	m.logger.Info("Shutting down main browser process...")
	m.browserCancel()
	m.allocatorCancel()
	<-m.allocatorCtx.Done()
}
