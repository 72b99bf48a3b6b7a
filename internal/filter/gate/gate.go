// File: internal/filter/gate/gate.go

// Package gate decides, per page identity, whether filtering may run. Membership lookups are
// asynchronous: a cache miss answers Pending and the result arrives later on Results, to be
// applied by the goroutine that owns the gate.
package gate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/store"
)

// DefaultKey is the storage key holding the whitelist.
const DefaultKey = "whitelistedSites"

// Decision is the answer for one filtering attempt.
type Decision int

const (
	// Pending means the identity has not been resolved yet; no scan may run.
	Pending Decision = iota
	// Filter means the identity is not whitelisted.
	Filter
	// Skip means the identity is whitelisted or unknown.
	Skip
)

func (d Decision) String() string {
	switch d {
	case Pending:
		return "pending"
	case Filter:
		return "filter"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Lookup is a completed membership check.
type Lookup struct {
	Identity    string
	Whitelisted bool
	Err         error

	generation uint64
}

// IsWhitelisted checks whether identity is on the whitelist stored under key.
func IsWhitelisted(ctx context.Context, s store.Store, key, identity string) (bool, error) {
	sites, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to load whitelist: %w", err)
	}
	identity = strings.ToLower(identity)
	for _, site := range sites {
		if strings.ToLower(site) == identity {
			return true, nil
		}
	}
	return false, nil
}

// Gate caches the decision for the current identity. Every method except Results and Wait
// must be called from the single owning goroutine.
type Gate struct {
	store   store.Store
	key     string
	timeout time.Duration
	logger  *zap.Logger

	results chan Lookup
	wg      sync.WaitGroup

	generation  uint64
	inflight    string
	cached      bool
	identity    string
	whitelisted bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithKey overrides the storage key.
func WithKey(key string) Option { return func(g *Gate) { g.key = key } }

// WithTimeout bounds each lookup. Zero disables the bound.
func WithTimeout(d time.Duration) Option { return func(g *Gate) { g.timeout = d } }

// New creates a Gate over s.
func New(s store.Store, logger *zap.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		store:   s,
		key:     DefaultKey,
		logger:  logger.Named("gate"),
		results: make(chan Lookup, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsFiltered answers for identity. On a cache miss it starts a lookup bound to ctx and
// returns Pending; a miss for the identity already being looked up does not start another.
func (g *Gate) IsFiltered(ctx context.Context, identity string) Decision {
	if identity == "" {
		return Skip
	}
	if g.cached && g.identity == identity {
		if g.whitelisted {
			return Skip
		}
		return Filter
	}
	if g.inflight == identity {
		return Pending
	}

	g.cached = false
	g.inflight = identity
	g.start(ctx, identity, g.generation)
	return Pending
}

func (g *Gate) start(ctx context.Context, identity string, generation uint64) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		lctx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		whitelisted, err := IsWhitelisted(lctx, g.store, g.key, identity)

		select {
		case g.results <- Lookup{Identity: identity, Whitelisted: whitelisted, Err: err, generation: generation}:
		case <-ctx.Done():
		}
	}()
}

// Results delivers completed lookups to the owning goroutine.
func (g *Gate) Results() <-chan Lookup { return g.results }

// Apply records a completed lookup. It reports whether a full scan should run now, which is
// the case only for a current, successful lookup of a non-whitelisted identity.
func (g *Gate) Apply(l Lookup) bool {
	if l.generation != g.generation || l.Identity != g.inflight {
		g.logger.Debug("Discarding stale whitelist lookup.", zap.String("identity", l.Identity))
		return false
	}
	g.inflight = ""

	if l.Err != nil {
		// Nothing is cached so the next attempt asks again.
		g.logger.Warn("Whitelist lookup failed, skipping filtering.",
			zap.String("identity", l.Identity), zap.Error(l.Err))
		return false
	}

	g.cached = true
	g.identity = l.Identity
	g.whitelisted = l.Whitelisted
	g.logger.Debug("Whitelist lookup resolved.",
		zap.String("identity", l.Identity), zap.Bool("whitelisted", l.Whitelisted))
	return !l.Whitelisted
}

// Reset forgets the cached decision and orphans any lookup in flight.
func (g *Gate) Reset() {
	g.generation++
	g.inflight = ""
	g.cached = false
	g.identity = ""
	g.whitelisted = false
}

// Wait blocks until every lookup goroutine has returned. Cancel the context passed to
// IsFiltered first, or drain Results.
func (g *Gate) Wait() { g.wg.Wait() }
