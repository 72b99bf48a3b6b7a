// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/browser"
	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/store"
	"github.com/xkilldash9x/shroud/internal/whitelist"
)

// ComponentFactory creates the set of components a command needs.
// This abstraction is what makes the commands testable without real backends.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	openStore     func(ctx context.Context, cfg config.WhitelistConfig, logger *zap.Logger) (store.Store, error)
	launchBrowser func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (BrowserManager, error)
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{
		openStore: store.New,
		launchBrowser: func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (BrowserManager, error) {
			return browser.NewManager(ctx, cfg, logger)
		},
	}
}

// Create validates the filter configuration, opens the whitelist store and starts the report
// consumer. The browser is launched later, and only by commands that need it.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	components := &Components{
		Config:        cfg,
		logger:        logger,
		launchBrowser: f.launchBrowser,
	}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Scanner (fails fast on a bad keyword list)
	sc, err := NewScanner(cfg.Filter(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Scanner = sc
	logger.Debug("Scanner initialized.")

	// 2. Whitelist store
	st, err := f.openStore(ctx, cfg.Whitelist(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to open whitelist store: %w", err)
		return nil, initializationErr
	}
	components.Store = st
	logger.Debug("Whitelist store opened.", zap.String("backend", cfg.Whitelist().Backend))

	// 3. Whitelist manager
	components.Whitelist = whitelist.New(st, logger, whitelist.WithKey(cfg.Whitelist().Key))

	// 4. Report consumer
	components.reports = newReportSink(reportBuffer)
	components.consumerWG = &sync.WaitGroup{}
	StartReportConsumer(ctx, components.consumerWG, components.reports.ch, logger.Named("reports"))

	logger.Debug("All components initialized successfully.")
	return components, nil
}
