package service

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/shroud/internal/browser"
	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/store"
)

// MockBrowserManager is a mock implementation of BrowserManager.
type MockBrowserManager struct {
	mock.Mock
}

func (m *MockBrowserManager) OpenTab(ctx context.Context, url string) (*browser.Tab, error) {
	args := m.Called(ctx, url)
	tab, _ := args.Get(0).(*browser.Tab)
	return tab, args.Error(1)
}

func (m *MockBrowserManager) Shutdown(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// closeTracker wraps a store and records Close calls.
type closeTracker struct {
	store.Store
	closed   int
	closeErr error
}

func (c *closeTracker) Close() error {
	c.closed++
	return c.closeErr
}

var errStoreDown = errors.New("store unavailable")

// memoryConfig returns the default configuration with the in-memory whitelist backend.
func memoryConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetWhitelistBackend(config.BackendMemory)
	return cfg
}
