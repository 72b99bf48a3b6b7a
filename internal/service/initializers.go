// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/filter/engine"
	"github.com/xkilldash9x/shroud/internal/filter/keyword"
	"github.com/xkilldash9x/shroud/internal/filter/policy"
	"github.com/xkilldash9x/shroud/internal/filter/scanner"
)

const (
	reportBatchSize    = 50
	reportBatchTimeout = 2 * time.Second
	reportBuffer       = 256
)

// NewMatcher builds the keyword matcher from cfg. Empty keywords or placeholder fall back to
// the compiled-in defaults.
func NewMatcher(cfg config.FilterConfig) (*keyword.Matcher, error) {
	terms := cfg.Keywords
	if len(terms) == 0 {
		terms = keyword.DefaultKeywords
	}
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = keyword.DefaultPlaceholder
	}
	m, err := keyword.New(terms, placeholder)
	if err != nil {
		return nil, fmt.Errorf("invalid keyword configuration: %w", err)
	}
	return m, nil
}

// NewScanner builds the matcher, the suppression policy and the scanner from cfg.
func NewScanner(cfg config.FilterConfig, logger *zap.Logger) (*scanner.Scanner, error) {
	m, err := NewMatcher(cfg)
	if err != nil {
		return nil, err
	}
	var opts []policy.Option
	if len(cfg.SkipTags) > 0 {
		opts = append(opts, policy.WithSkipTags(cfg.SkipTags))
	}
	if len(cfg.EditableInputTypes) > 0 {
		opts = append(opts, policy.WithEditableInputTypes(cfg.EditableInputTypes))
	}
	return scanner.New(policy.New(m, opts...), logger), nil
}

// reportSink is the engine.Reporter handed to every engine. It never blocks the engine: when
// the consumer falls behind, reports are dropped and counted.
type reportSink struct {
	mu      sync.RWMutex
	ch      chan engine.Report
	closed  bool
	dropped atomic.Int64
}

func newReportSink(size int) *reportSink {
	return &reportSink{ch: make(chan engine.Report, size)}
}

func (s *reportSink) Report(r engine.Report) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *reportSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// StartReportConsumer launches a goroutine that summarizes scan reports in batches.
// It manages its lifecycle using the provided WaitGroup.
func StartReportConsumer(ctx context.Context, wg *sync.WaitGroup, reports <-chan engine.Report, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Starting report consumer goroutine...")
		defer logger.Debug("Report consumer goroutine shut down.")

		batch := make([]engine.Report, 0, reportBatchSize)
		ticker := time.NewTicker(reportBatchTimeout)
		defer ticker.Stop()

		processBatch := func() {
			if len(batch) == 0 {
				return
			}
			summarize(batch, logger)
			batch = batch[:0]
		}

		for {
			select {
			case r, ok := <-reports:
				if !ok {
					processBatch()
					return
				}
				batch = append(batch, r)
				if len(batch) >= reportBatchSize {
					processBatch()
					ticker.Reset(reportBatchTimeout)
				}

			case <-ticker.C:
				processBatch()

			case <-ctx.Done():
				drainChannel(reports, &batch)
				processBatch()
				return
			}
		}
	}()
}

// summarize logs one line for a batch of reports. Quiet batches log at debug.
func summarize(batch []engine.Report, logger *zap.Logger) {
	var total scanner.Result
	identities := make(map[string]struct{})
	for _, r := range batch {
		total.Add(r.Result)
		if r.Identity != "" {
			identities[r.Identity] = struct{}{}
		}
	}
	sites := make([]string, 0, len(identities))
	for id := range identities {
		sites = append(sites, id)
	}
	sort.Strings(sites)

	fields := []zap.Field{
		zap.Int("scans", len(batch)),
		zap.Int("removed", total.Removed),
		zap.Int("redacted", total.Redacted),
		zap.Int("failures", total.Failures),
		zap.Strings("sites", sites),
	}
	if total.Mutations() == 0 && total.Failures == 0 {
		logger.Debug("Filter activity.", fields...)
		return
	}
	logger.Info("Filter activity.", fields...)
}

// drainChannel reads whatever is buffered in reports into batch without blocking.
func drainChannel(reports <-chan engine.Report, batch *[]engine.Report) {
	for {
		select {
		case r, ok := <-reports:
			if !ok {
				return
			}
			*batch = append(*batch, r)
		default:
			return
		}
	}
}
