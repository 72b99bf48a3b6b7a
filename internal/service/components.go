// File: internal/service/components.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/api"
	"github.com/xkilldash9x/shroud/internal/browser"
	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/filter/engine"
	"github.com/xkilldash9x/shroud/internal/filter/gate"
	"github.com/xkilldash9x/shroud/internal/filter/scanner"
	"github.com/xkilldash9x/shroud/internal/page"
	"github.com/xkilldash9x/shroud/internal/proxy"
	"github.com/xkilldash9x/shroud/internal/security"
	"github.com/xkilldash9x/shroud/internal/store"
	"github.com/xkilldash9x/shroud/internal/whitelist"
)

const (
	consumerDrainTimeout   = 5 * time.Second
	browserShutdownTimeout = 30 * time.Second
)

// BrowserManager is the part of browser.Manager the components use.
type BrowserManager interface {
	OpenTab(ctx context.Context, url string) (*browser.Tab, error)
	Shutdown(ctx context.Context) error
}

// Components holds the services shared by every command: the whitelist store, the scanner
// built from the filter configuration and the whitelist manager. Hosts are built on demand.
type Components struct {
	Config    config.Interface
	Store     store.Store
	Scanner   *scanner.Scanner
	Whitelist *whitelist.Manager
	Browser   BrowserManager

	logger *zap.Logger

	// reports decouples engine scan reports from their logging.
	reports    *reportSink
	consumerWG *sync.WaitGroup

	launchBrowser func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (BrowserManager, error)
}

// NewEngine wires an engine to doc with a fresh gate over the shared store.
func (c *Components) NewEngine(doc page.Document) *engine.Engine {
	wl := c.Config.Whitelist()
	g := gate.New(c.Store, c.logger, gate.WithKey(wl.Key), gate.WithTimeout(wl.Timeout))

	var opts []engine.Option
	if c.reports != nil {
		opts = append(opts, engine.WithReporter(c.reports))
	}
	return engine.New(engine.Config{
		Debounce:     c.Config.Filter().Debounce,
		PollInterval: c.Config.Filter().PollInterval,
	}, doc, g, c.Scanner, c.logger, opts...)
}

// NewProxy builds the filtering proxy over the shared store and scanner. With interception
// enabled, a CA pair is generated at the configured paths when neither file exists yet.
func (c *Components) NewProxy() (*proxy.Server, error) {
	cfg := c.Config.Proxy()
	if cfg.MITM {
		certPath, keyPath, err := security.EnsureCA(cfg.CACert, cfg.CAKey, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare interception CA: %w", err)
		}
		cfg.CACert, cfg.CAKey = certPath, keyPath
	}
	return proxy.New(cfg, c.Store, c.Scanner, c.logger, proxy.WithKey(c.Config.Whitelist().Key))
}

// NewAPI builds the whitelist API.
func (c *Components) NewAPI(opts ...api.Option) *api.Server {
	return api.NewServer(c.Config.API(), c.logger, c.Whitelist, opts...)
}

// StartBrowser launches the browser on first use.
func (c *Components) StartBrowser(ctx context.Context) (BrowserManager, error) {
	if c.Browser != nil {
		return c.Browser, nil
	}
	m, err := c.launchBrowser(ctx, c.Config.Browser(), c.logger)
	if err != nil {
		return nil, err
	}
	c.Browser = m
	return m, nil
}

// Shutdown releases the components in reverse dependency order. Engines must have stopped.
func (c *Components) Shutdown() {
	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop accepting reports and let the consumer drain.
	if c.reports != nil {
		c.reports.close()
		logger.Debug("Report channel closed.")
	}
	if c.consumerWG != nil {
		if timedWait(c.consumerWG, consumerDrainTimeout) {
			logger.Debug("Report consumer finished processing.")
		} else {
			logger.Warn("Report consumer did not finish in time.")
		}
	}

	// 2. Shut down the browser.
	if c.Browser != nil {
		// The caller's context is usually cancelled by now.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), browserShutdownTimeout)
		defer cancel()

		if err := c.Browser.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error during browser manager shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser manager shut down.")
		}
	}

	// 3. Close the whitelist store.
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			logger.Warn("Error closing whitelist store.", zap.Error(err))
		} else {
			logger.Debug("Whitelist store closed.")
		}
	}

	logger.Info("All components shut down successfully.")
}

// timedWait waits for wg, giving up after timeout. It reports whether wg finished.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
