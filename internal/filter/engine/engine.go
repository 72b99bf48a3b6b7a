// File: internal/filter/engine/engine.go

// Package engine runs the incremental filter over one live document. A single goroutine
// owns all filter state and serializes mutation batches, the quiet-period timer, navigation
// events, the location poll and whitelist lookup completions.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/shroud/internal/filter/gate"
	"github.com/xkilldash9x/shroud/internal/filter/scanner"
	"github.com/xkilldash9x/shroud/internal/page"
)

const (
	// DefaultDebounce is the quiet period after the last mutation batch before roots are scanned.
	DefaultDebounce = 1500 * time.Millisecond
	// DefaultPollInterval is how often the location is compared against the last observed one.
	DefaultPollInterval = time.Second
)

// Config tunes the engine timing.
type Config struct {
	Debounce     time.Duration
	PollInterval time.Duration
}

func (c *Config) defaults() {
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Trigger names what caused a scan.
type Trigger string

const (
	TriggerInitial    Trigger = "initial"
	TriggerMutation   Trigger = "mutation"
	TriggerNavigation Trigger = "navigation"
	TriggerLookup     Trigger = "lookup"
)

// Report describes one completed scan cycle.
type Report struct {
	ID       string
	Trigger  Trigger
	Identity string
	// Roots is the number of subtrees scanned in this cycle.
	Roots  int
	Result scanner.Result
	At     time.Time
}

// Reporter receives a Report after every scan cycle. It is called on the engine goroutine
// and must not block.
type Reporter interface {
	Report(Report)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Report)

func (f ReporterFunc) Report(r Report) { f(r) }

// Option configures an Engine.
type Option func(*Engine)

// WithReporter installs r.
func WithReporter(r Reporter) Option { return func(e *Engine) { e.reporter = r } }

// Engine filters one document until it is torn down.
type Engine struct {
	cfg      Config
	doc      page.Document
	gate     *gate.Gate
	scanner  *scanner.Scanner
	logger   *zap.Logger
	reporter Reporter

	// Loop-owned state.
	valid   bool
	sched   *scheduler
	watcher *navigationWatcher
}

// New wires an engine. Run starts it.
func New(cfg Config, doc page.Document, g *gate.Gate, sc *scanner.Scanner, logger *zap.Logger, opts ...Option) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:     cfg,
		doc:     doc,
		gate:    g,
		scanner: sc,
		logger:  logger.Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run filters the document until ctx is cancelled or the document is torn down. It makes one
// full-document attempt on start. Run returns nil on teardown and ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	// Lookups are bound to ctx, so cancel before waiting on them.
	defer e.gate.Wait()
	defer cancel()

	e.valid = true
	e.sched = newScheduler(e.cfg.Debounce)
	defer e.sched.stop()
	e.watcher = newNavigationWatcher(e.doc)

	poll := time.NewTicker(e.cfg.PollInterval)
	defer poll.Stop()

	e.logger.Info("Filter engine started.",
		zap.Duration("debounce", e.cfg.Debounce),
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.String("href", e.watcher.lastHref))

	e.fullScan(ctx, TriggerInitial)

	mutations := e.doc.Mutations()
	navigations := e.doc.Navigations()
	for {
		select {
		case <-ctx.Done():
			return e.teardown(ctx.Err())
		case <-e.doc.Done():
			return e.teardown(nil)
		default:
		}

		select {
		case <-ctx.Done():
			return e.teardown(ctx.Err())

		case <-e.doc.Done():
			return e.teardown(nil)

		case b, ok := <-mutations:
			if !ok {
				mutations = nil
				continue
			}
			e.sched.add(b)

		case <-e.sched.timerC():
			e.flush(ctx)

		case nav, ok := <-navigations:
			if !ok {
				navigations = nil
				continue
			}
			e.navigated(ctx, nav.Kind)

		case <-poll.C:
			e.navigated(ctx, polled)

		case l := <-e.gate.Results():
			if e.gate.Apply(l) {
				e.fullScan(ctx, TriggerLookup)
			}
		}
	}
}

func (e *Engine) teardown(err error) error {
	e.valid = false
	e.logger.Info("Filter engine stopped.", zap.Int("abandoned_roots", e.sched.size()))
	return err
}

// flush scans the roots collected over the quiet period that just ended.
func (e *Engine) flush(ctx context.Context) {
	e.doc.Lock()
	roots := e.sched.drain()
	e.doc.Unlock()
	if len(roots) == 0 {
		return
	}
	e.scan(ctx, TriggerMutation, roots)
}

// fullScan scans the whole body.
func (e *Engine) fullScan(ctx context.Context, trigger Trigger) {
	e.scan(ctx, trigger, nil)
}

// scan runs one gated cycle over roots, or over the body when roots is nil.
func (e *Engine) scan(ctx context.Context, trigger Trigger, roots []*html.Node) {
	if !e.valid {
		return
	}
	identity := page.Identity(e.doc)
	decision := e.gate.IsFiltered(ctx, identity)
	if decision != gate.Filter {
		e.logger.Debug("Scan not permitted.",
			zap.String("trigger", string(trigger)),
			zap.String("identity", identity),
			zap.Stringer("decision", decision))
		return
	}

	var (
		res     scanner.Result
		scanned int
	)
	e.doc.Lock()
	if roots == nil {
		if body := e.doc.Body(); body != nil {
			roots = []*html.Node{body}
		}
	}
	for _, root := range roots {
		if !e.doc.Attached(root) {
			continue
		}
		res.Add(e.scanner.Scan(e.doc, root))
		scanned++
	}
	e.doc.Unlock()

	if scanned == 0 {
		return
	}

	r := Report{
		ID:       uuid.NewString(),
		Trigger:  trigger,
		Identity: identity,
		Roots:    scanned,
		Result:   res,
		At:       time.Now(),
	}
	e.logger.Debug("Scan complete.",
		zap.String("scan_id", r.ID),
		zap.String("trigger", string(trigger)),
		zap.String("identity", identity),
		zap.Int("roots", scanned),
		zap.Int("removed", res.Removed),
		zap.Int("redacted", res.Redacted),
		zap.Int("failures", res.Failures))
	if res.Failures > 0 {
		e.logger.Warn("Scan skipped nodes that changed underneath it.",
			zap.String("scan_id", r.ID), zap.Int("failures", res.Failures))
	}
	if e.reporter != nil {
		e.reporter.Report(r)
	}
}
