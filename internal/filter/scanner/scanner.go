// File: internal/filter/scanner/scanner.go
package scanner

import (
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/shroud/internal/filter/policy"
	"github.com/xkilldash9x/shroud/internal/page"
)

// classCandidates selects the root and every descendant element carrying a class attribute.
var classCandidates = xpath.MustCompile("descendant-or-self::*[@class]")

// Result summarizes one scan invocation.
type Result struct {
	// Removed counts detached elements.
	Removed int
	// Redacted counts text nodes whose content was replaced.
	Redacted int
	// Skipped counts candidates that were already detached when their turn came.
	Skipped int
	// Failures counts per-node errors that were swallowed.
	Failures int
}

// Mutations is the number of changes the scan made to the tree.
func (r Result) Mutations() int { return r.Removed + r.Redacted }

// Add accumulates another result into r.
func (r *Result) Add(o Result) {
	r.Removed += o.Removed
	r.Redacted += o.Redacted
	r.Skipped += o.Skipped
	r.Failures += o.Failures
}

// Scanner walks a subtree and applies the suppression policy to it.
type Scanner struct {
	policy *policy.Policy
	logger *zap.Logger
	// failureLog keeps a detaching storm from flooding the log.
	failureLog *rate.Sometimes
}

// New creates a Scanner.
func New(p *policy.Policy, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		policy:     p,
		logger:     logger.Named("scanner"),
		failureLog: &rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Scan removes every disqualified element under root, then redacts every disqualified text
// node that survived. The caller must hold the document lock. Per-node failures are counted
// and skipped; they never abort the pass.
func (s *Scanner) Scan(tree page.Tree, root *html.Node) Result {
	var res Result
	if root == nil || !tree.Attached(root) {
		return res
	}

	s.removeElements(tree, root, &res)
	// Removal may have taken root itself.
	if !tree.Attached(root) {
		return res
	}
	s.redactText(tree, root, &res)
	return res
}

func (s *Scanner) removeElements(tree page.Tree, root *html.Node, res *Result) {
	for _, el := range htmlquery.QuerySelectorAll(root, classCandidates) {
		// An ancestor removed earlier in this pass takes its descendants with it.
		if !tree.Attached(el) {
			res.Skipped++
			continue
		}
		if !s.policy.ShouldRemoveElement(el) {
			continue
		}
		if err := tree.Detach(el); err != nil {
			s.recordFailure("detach", el, err, res)
			continue
		}
		res.Removed++
	}
}

func (s *Scanner) redactText(tree page.Tree, root *html.Node, res *Result) {
	matcher := s.policy.Matcher()
	for _, n := range collectText(root) {
		if !s.policy.ShouldRedactText(n) {
			continue
		}
		if !tree.Attached(n) {
			res.Skipped++
			continue
		}
		if err := tree.SetText(n, matcher.Redact(n.Data)); err != nil {
			s.recordFailure("redact", n, err, res)
			continue
		}
		res.Redacted++
	}
}

func (s *Scanner) recordFailure(op string, n *html.Node, err error, res *Result) {
	res.Failures++
	s.failureLog.Do(func() {
		s.logger.Debug("Skipping node after a transient failure.",
			zap.String("op", op),
			zap.String("node", describe(n)),
			zap.Error(err))
	})
}

// collectText gathers the text nodes under root up front so that edits made during the pass
// cannot disturb the traversal.
func collectText(root *html.Node) []*html.Node {
	var out []*html.Node
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type == html.TextNode {
			out = append(out, n)
			continue
		}
		// Push children in reverse so they pop in document order.
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}
	return out
}

func describe(n *html.Node) string {
	if n == nil {
		return "<nil>"
	}
	if n.Type == html.TextNode {
		return "#text"
	}
	return n.Data
}
