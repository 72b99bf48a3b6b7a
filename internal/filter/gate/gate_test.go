package gate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/shroud/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingStore counts Get calls and, when release is set, holds each one until it is signalled.
type countingStore struct {
	store.Store
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (c *countingStore) Get(ctx context.Context, key string) ([]string, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.Get(ctx, key)
}

func newStore(t *testing.T, sites ...string) *countingStore {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.Set(context.Background(), DefaultKey, sites))
	return &countingStore{Store: mem}
}

func recv(t *testing.T, g *Gate) Lookup {
	t.Helper()
	select {
	case l := <-g.Results():
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a lookup result")
		return Lookup{}
	}
}

func TestIsWhitelisted(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, "Example.com", "news.org")

	ok, err := IsWhitelisted(ctx, s, DefaultKey, "example.com")
	require.NoError(t, err)
	assert.True(t, ok, "membership is case-insensitive")

	ok, err = IsWhitelisted(ctx, s, DefaultKey, "sub.example.com")
	require.NoError(t, err)
	assert.False(t, ok, "subdomains are distinct identities")

	s.err = errors.New("backend down")
	_, err = IsWhitelisted(ctx, s, DefaultKey, "example.com")
	assert.ErrorIs(t, err, s.err)
	assert.ErrorContains(t, err, "failed to load whitelist")
}

func TestGate_EmptyIdentitySkips(t *testing.T) {
	s := newStore(t)
	g := New(s, zaptest.NewLogger(t))

	assert.Equal(t, Skip, g.IsFiltered(context.Background(), ""))
	assert.Zero(t, s.calls.Load(), "no lookup is issued without an identity")
}

func TestGate_ResolvesAndCaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStore(t, "white.org")
	g := New(s, zaptest.NewLogger(t))
	defer g.Wait()

	t.Run("should filter an identity that is not listed", func(t *testing.T) {
		assert.Equal(t, Pending, g.IsFiltered(ctx, "example.com"))
		l := recv(t, g)
		assert.Equal(t, "example.com", l.Identity)
		assert.True(t, g.Apply(l), "a resolved, unlisted identity asks for a full scan")

		assert.Equal(t, Filter, g.IsFiltered(ctx, "example.com"))
		assert.Equal(t, int32(1), s.calls.Load(), "the decision is cached")
	})

	t.Run("should skip a whitelisted identity", func(t *testing.T) {
		assert.Equal(t, Pending, g.IsFiltered(ctx, "white.org"))
		assert.False(t, g.Apply(recv(t, g)))
		assert.Equal(t, Skip, g.IsFiltered(ctx, "white.org"))
	})

	t.Run("should look up again after Reset", func(t *testing.T) {
		before := s.calls.Load()
		g.Reset()
		assert.Equal(t, Pending, g.IsFiltered(ctx, "white.org"))
		g.Apply(recv(t, g))
		assert.Equal(t, before+1, s.calls.Load())
	})
}

func TestGate_SharesInflightLookup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStore(t)
	s.release = make(chan struct{})
	g := New(s, nil)
	defer g.Wait()

	assert.Equal(t, Pending, g.IsFiltered(ctx, "example.com"))
	assert.Equal(t, Pending, g.IsFiltered(ctx, "example.com"))
	close(s.release)

	assert.True(t, g.Apply(recv(t, g)))
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestGate_FailureCachesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := observer.New(zapcore.WarnLevel)
	s := newStore(t)
	s.err = errors.New("backend down")
	g := New(s, zap.New(core))
	defer g.Wait()

	assert.Equal(t, Pending, g.IsFiltered(ctx, "example.com"))
	l := recv(t, g)
	require.Error(t, l.Err)
	assert.False(t, g.Apply(l), "a failed lookup never triggers filtering")
	assert.Equal(t, 1, logs.FilterMessage("Whitelist lookup failed, skipping filtering.").Len())

	s.err = nil
	assert.Equal(t, Pending, g.IsFiltered(ctx, "example.com"), "the next attempt asks again")
	assert.True(t, g.Apply(recv(t, g)))
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestGate_DiscardsStaleLookups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStore(t)
	s.release = make(chan struct{})
	g := New(s, zaptest.NewLogger(t))
	defer g.Wait()

	assert.Equal(t, Pending, g.IsFiltered(ctx, "old.example"))
	g.Reset()
	close(s.release)

	stale := recv(t, g)
	assert.False(t, g.Apply(stale), "results issued before Reset are dropped")
	assert.Equal(t, Pending, g.IsFiltered(ctx, "old.example"), "the stale result was not cached")
	assert.True(t, g.Apply(recv(t, g)))
}

func TestGate_IdentityChangeInvalidates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g := New(newStore(t), nil)
	defer g.Wait()

	g.IsFiltered(ctx, "a.com")
	require.True(t, g.Apply(recv(t, g)))

	assert.Equal(t, Pending, g.IsFiltered(ctx, "b.com"))
	l := recv(t, g)
	assert.Equal(t, "b.com", l.Identity)
	assert.True(t, g.Apply(l))
	assert.Equal(t, Pending, g.IsFiltered(ctx, "a.com"), "only one identity is cached")
	g.Apply(recv(t, g))
}

func TestGate_Timeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newStore(t)
	s.release = make(chan struct{}) // never released
	g := New(s, nil, WithTimeout(20*time.Millisecond), WithKey("custom"))
	defer g.Wait()

	g.IsFiltered(ctx, "slow.example")
	l := recv(t, g)
	assert.ErrorIs(t, l.Err, context.DeadlineExceeded)
	assert.False(t, g.Apply(l))
}

func TestGate_WaitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := newStore(t)
	s.release = make(chan struct{})
	g := New(s, nil)

	g.IsFiltered(ctx, "example.com")
	cancel()

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lookup goroutine outlived its context")
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "filter", Filter.String())
	assert.Equal(t, "skip", Skip.String())
	assert.Equal(t, "decision(7)", Decision(7).String())
}
