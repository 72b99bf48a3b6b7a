// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/browser"
	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/service"
	"github.com/xkilldash9x/shroud/internal/store"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Filter() config.FilterConfig {
	args := m.Called()
	return args.Get(0).(config.FilterConfig)
}

func (m *MockConfig) Whitelist() config.WhitelistConfig {
	args := m.Called()
	return args.Get(0).(config.WhitelistConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Proxy() config.ProxyConfig {
	args := m.Called()
	return args.Get(0).(config.ProxyConfig)
}

func (m *MockConfig) API() config.APIConfig {
	args := m.Called()
	return args.Get(0).(config.APIConfig)
}

// --- Setters ---

func (m *MockConfig) SetFilterDebounce(d time.Duration)     { m.Called(d) }
func (m *MockConfig) SetFilterPollInterval(d time.Duration) { m.Called(d) }
func (m *MockConfig) SetWhitelistBackend(backend string)    { m.Called(backend) }
func (m *MockConfig) SetBrowserHeadless(b bool)             { m.Called(b) }

var _ config.Interface = (*MockConfig)(nil)

// -- Store Mock --

// MockStore mocks the store.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) ([]string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) Set(ctx context.Context, key string, values []string) error {
	return m.Called(ctx, key, values).Error(0)
}

func (m *MockStore) Close() error { return m.Called().Error(0) }

var _ store.Store = (*MockStore)(nil)

// -- Browser Manager Mock --

// MockBrowserManager mocks the service.BrowserManager interface.
type MockBrowserManager struct {
	mock.Mock
}

func (m *MockBrowserManager) OpenTab(ctx context.Context, url string) (*browser.Tab, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*browser.Tab), args.Error(1)
}

func (m *MockBrowserManager) Shutdown(ctx context.Context) error { return m.Called(ctx).Error(0) }

var _ service.BrowserManager = (*MockBrowserManager)(nil)

// -- Component Factory Mock --

// MockComponentFactory mocks the service.ComponentFactory interface.
type MockComponentFactory struct {
	mock.Mock
}

func (m *MockComponentFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	args := m.Called(ctx, cfg, logger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Components), args.Error(1)
}

var _ service.ComponentFactory = (*MockComponentFactory)(nil)
