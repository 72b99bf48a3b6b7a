package engine

import (
	"time"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/shroud/internal/page"
)

// scheduler coalesces mutation batches into one set of scan roots per quiet period.
// It is owned by the engine loop and is not safe for concurrent use.
type scheduler struct {
	window time.Duration

	// pending keeps insertion order; seen deduplicates it.
	pending []*html.Node
	seen    map[*html.Node]struct{}

	timer   *time.Timer
	timerCh <-chan time.Time
}

func newScheduler(window time.Duration) *scheduler {
	return &scheduler{
		window: window,
		seen:   make(map[*html.Node]struct{}),
	}
}

// add records the elements added by b and restarts the quiet period. Batches that add
// nothing still restart it.
func (s *scheduler) add(b page.Batch) {
	for _, n := range b.Added {
		if n == nil || n.Type != html.ElementNode {
			continue
		}
		if _, ok := s.seen[n]; ok {
			continue
		}
		s.seen[n] = struct{}{}
		s.pending = append(s.pending, n)
	}

	if s.timer == nil {
		s.timer = time.NewTimer(s.window)
	} else {
		s.timer.Reset(s.window)
	}
	s.timerCh = s.timer.C
}

// timerC fires when the quiet period ends. It is nil while idle.
func (s *scheduler) timerC() <-chan time.Time {
	return s.timerCh
}

// drain returns the pending roots, minus those inside another pending root, and goes idle.
func (s *scheduler) drain() []*html.Node {
	s.timerCh = nil
	roots := collapse(s.pending)
	s.pending = nil
	s.seen = make(map[*html.Node]struct{})
	return roots
}

// size is the number of distinct roots collected so far.
func (s *scheduler) size() int { return len(s.pending) }

func (s *scheduler) stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerCh = nil
}

// collapse drops every root that is a descendant of another root in the set.
func collapse(roots []*html.Node) []*html.Node {
	if len(roots) < 2 {
		return roots
	}
	out := roots[:0:0]
	for i, n := range roots {
		covered := false
		for j, other := range roots {
			if i != j && page.Contains(other, n) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, n)
		}
	}
	return out
}
