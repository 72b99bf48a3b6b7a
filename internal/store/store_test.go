package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/mitchellh/go-homedir"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/shroud/internal/config"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const key = "whitelistedSites"

// -- Backend contract, shared by the backends that run without external services --

func testContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Get(ctx, key)
	require.NoError(t, err, "a missing key is not an error")
	assert.NotNil(t, got)
	assert.Empty(t, got)

	want := []string{"example.com", "news.example.org"}
	require.NoError(t, s.Set(ctx, key, want))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("stored list mismatch (-want +got):\n%s", diff)
	}

	// Other keys are independent.
	other, err := s.Get(ctx, "otherKey")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, s.Set(ctx, key, nil))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	testContract(t, s)

	t.Run("should copy values in and out", func(t *testing.T) {
		ctx := context.Background()
		in := []string{"a.com"}
		require.NoError(t, s.Set(ctx, key, in))
		in[0] = "mutated"

		out, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.com"}, out)
	})

	t.Run("should honor a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, context.Canceled)
	})

	require.NoError(t, s.Close())
	_, err := s.Get(context.Background(), key)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Set(context.Background(), key, nil), ErrClosed)
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "storage.json")
	s, err := NewFile(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	testContract(t, s)

	t.Run("should keep every key in one object", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, key, []string{"a.com"}))
		require.NoError(t, s.Set(ctx, "theme", []string{"dark"}))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var area map[string][]string
		require.NoError(t, json.Unmarshal(data, &area))
		assert.Equal(t, map[string][]string{key: {"a.com"}, "theme": {"dark"}}, area)

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temp files are left behind")
	})

	t.Run("should survive a reopen", func(t *testing.T) {
		reopened, err := NewFile(path, nil)
		require.NoError(t, err)
		got, err := reopened.Get(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.com"}, got)
	})

	t.Run("should report a corrupt file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
		s, err := NewFile(bad, nil)
		require.NoError(t, err)
		_, err = s.Get(context.Background(), key)
		assert.ErrorContains(t, err, "failed to parse storage file")
	})

	t.Run("should expand the home directory", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })

		s, err := NewFile("~/.shroud/storage.json", nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".shroud", "storage.json"), s.Path())
		assert.DirExists(t, filepath.Join(home, ".shroud"))
	})
}

func TestSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.db")
	s, err := NewSQLite(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	testContract(t, s)

	require.NoError(t, s.Set(ctx, key, []string{"persisted.com"}))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted.com"}, got)
}

func TestSQLite_Memory(t *testing.T) {
	s, err := NewSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()
	testContract(t, s)
}

// -- Postgres --

func newMockPostgres(t *testing.T, logger *zap.Logger) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateKV)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	s, err := NewPostgres(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func TestNewPostgres(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgres(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return error if the table cannot be created", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		ddlErr := errors.New("permission denied")
		mockPool.ExpectPing()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlCreateKV)).WillReturnError(ddlErr)

		_, err = NewPostgres(context.Background(), mockPool, nil)
		assert.ErrorIs(t, err, ddlErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgres_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("should decode the stored array", func(t *testing.T) {
		s, mockPool := newMockPostgres(t, nil)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectKV)).
			WithArgs(key).
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`["example.com"]`)))

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{"example.com"}, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should treat a missing row as empty", func(t *testing.T) {
		s, mockPool := newMockPostgres(t, nil)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectKV)).
			WithArgs(key).
			WillReturnError(pgx.ErrNoRows)

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		s, mockPool := newMockPostgres(t, nil)
		queryErr := errors.New("connection reset")
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectKV)).
			WithArgs(key).
			WillReturnError(queryErr)

		_, err := s.Get(ctx, key)
		assert.ErrorIs(t, err, queryErr)
		assert.ErrorContains(t, err, `failed to read key "whitelistedSites"`)
	})
}

func TestPostgres_Set(t *testing.T) {
	ctx := context.Background()

	t.Run("should upsert the encoded list", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		s, mockPool := newMockPostgres(t, zap.New(core))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertKV)).
			WithArgs(key, `["a.com","b.com"]`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Set(ctx, key, []string{"a.com", "b.com"}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Equal(t, 1, logs.FilterMessage("Key upserted.").Len())
	})

	t.Run("should store nil as an empty array", func(t *testing.T) {
		s, mockPool := newMockPostgres(t, nil)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertKV)).
			WithArgs(key, `[]`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Set(ctx, key, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap exec errors", func(t *testing.T) {
		s, mockPool := newMockPostgres(t, nil)
		execErr := errors.New("disk full")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertKV)).
			WithArgs(key, `["a.com"]`).
			WillReturnError(execErr)

		err := s.Set(ctx, key, []string{"a.com"})
		assert.ErrorIs(t, err, execErr)
	})
}

// -- Redis --

type fakeRedis struct {
	data   map[string]string
	getErr error
	setErr error
	closed bool
}

func newFakeRedis() *fakeRedis { return &fakeRedis{data: make(map[string]string)} }

func (f *fakeRedis) Get(_ context.Context, k string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[k]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, k string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.data[k] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedis(t *testing.T) {
	client := newFakeRedis()
	s := NewRedis(client, "shroud:", nil)
	testContract(t, s)

	require.NoError(t, s.Set(context.Background(), key, []string{"a.com"}))
	assert.Equal(t, `["a.com"]`, client.data["shroud:"+key], "keys are namespaced by the prefix")

	t.Run("should map closed clients to ErrClosed", func(t *testing.T) {
		client.getErr = redis.ErrClosed
		client.setErr = redis.ErrClosed
		defer func() { client.getErr, client.setErr = nil, nil }()

		_, err := s.Get(context.Background(), key)
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, s.Set(context.Background(), key, nil), ErrClosed)
	})

	t.Run("should report corrupt values", func(t *testing.T) {
		client.data["shroud:broken"] = "{"
		_, err := s.Get(context.Background(), "broken")
		assert.ErrorContains(t, err, "failed to decode stored value")
	})

	require.NoError(t, s.Close())
	assert.True(t, client.closed)
}

// -- Factory --

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("should build a memory store", func(t *testing.T) {
		s, err := New(ctx, config.WhitelistConfig{Backend: config.BackendMemory}, nil)
		require.NoError(t, err)
		assert.IsType(t, &Memory{}, s)
	})

	t.Run("should build a file store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "storage.json")
		s, err := New(ctx, config.WhitelistConfig{Backend: config.BackendFile, FilePath: path}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.IsType(t, &File{}, s)
	})

	t.Run("should build a sqlite store", func(t *testing.T) {
		s, err := New(ctx, config.WhitelistConfig{Backend: config.BackendSQLite, SQLitePath: ":memory:"}, nil)
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLite{}, s)
	})

	t.Run("should reject an unknown backend", func(t *testing.T) {
		_, err := New(ctx, config.WhitelistConfig{Backend: "etcd"}, nil)
		assert.ErrorContains(t, err, `unknown whitelist backend "etcd"`)
	})
}
