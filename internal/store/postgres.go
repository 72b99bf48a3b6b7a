package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateKV = `
        CREATE TABLE IF NOT EXISTS kv_store (
            key   TEXT PRIMARY KEY,
            value JSONB NOT NULL
        );
    `
	sqlSelectKV = `SELECT value FROM kv_store WHERE key = $1`
	sqlUpsertKV = `
        INSERT INTO kv_store (key, value)
        VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value;
    `
)

// Postgres provides a PostgreSQL implementation of Store.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// OpenPostgres connects a pgx pool to url and wraps it.
func OpenPostgres(ctx context.Context, url string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres verifies the connection and makes sure the table exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateKV); err != nil {
		return nil, fmt.Errorf("failed to create kv_store table: %w", err)
	}
	return &Postgres{pool: pool, log: logger}, nil
}

func (s *Postgres) Get(ctx context.Context, key string) ([]string, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, sqlSelectKV, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return decode(raw)
}

func (s *Postgres) Set(ctx context.Context, key string, values []string) error {
	raw, err := encode(values)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sqlUpsertKV, key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	s.log.Debug("Key upserted.", zap.String("key", key), zap.Int64("rows", tag.RowsAffected()))
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
