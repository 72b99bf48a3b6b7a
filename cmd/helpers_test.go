// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/network"
	"github.com/xkilldash9x/shroud/internal/service"
	"github.com/xkilldash9x/shroud/internal/store"
	"github.com/xkilldash9x/shroud/internal/whitelist"
)

// newTestConfig creates the default configuration with an in-memory whitelist, so tests never
// touch the user's home directory.
func newTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetWhitelistBackend(config.BackendMemory)
	cfg.LoggerCfg.Level = "fatal"
	return cfg
}

// realComponents builds production components over cfg.
func realComponents(t *testing.T, cfg config.Interface) *service.Components {
	t.Helper()
	c, err := service.NewComponentFactory().Create(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

// fixedFactory hands out the same components on every Create.
type fixedFactory struct {
	components *service.Components
	err        error
	calls      int
}

func (f *fixedFactory) Create(context.Context, config.Interface, *zap.Logger) (*service.Components, error) {
	f.calls++
	return f.components, f.err
}

// keepOpen hides Close so one store can back several command runs.
type keepOpen struct{ store.Store }

func (keepOpen) Close() error { return nil }

// sharedStoreFactory builds whitelist-only components over one long-lived store.
type sharedStoreFactory struct{ st store.Store }

func (f sharedStoreFactory) Create(_ context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	return &service.Components{
		Config:    cfg,
		Store:     keepOpen{f.st},
		Whitelist: whitelist.New(f.st, logger, whitelist.WithKey(cfg.Whitelist().Key)),
	}, nil
}

// stubFetcher serves one canned page.
type stubFetcher struct {
	page *network.Page
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) (*network.Page, error) {
	s.urls = append(s.urls, rawURL)
	return s.page, s.err
}

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
