// Package store persists string lists under fixed keys. The whitelist lives here under a
// single key; every backend treats a missing key as an empty list.
package store

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a key to string-list persistence backend.
type Store interface {
	// Get returns the list stored under key. A missing key yields an empty list and no error.
	Get(ctx context.Context, key string) ([]string, error)
	// Set replaces the list stored under key.
	Set(ctx context.Context, key string, values []string) error
	Close() error
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonRaw = jsoniter.RawMessage

func encode(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return b, nil
}

func decode(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode stored value: %w", err)
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.WhitelistConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendFile:
		return NewFile(cfg.FilePath, logger)
	case config.BackendSQLite:
		return NewSQLite(ctx, cfg.SQLitePath, logger)
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.PostgresURL, logger)
	case config.BackendRedis:
		return OpenRedis(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unknown whitelist backend %q", cfg.Backend)
	}
}
