// internal/browser/queue.go
package browser

import "sync"

// eventQueue is an unbounded FIFO between the CDP listener, which must never block, and the
// goroutine that applies events.
type eventQueue struct {
	mu     sync.Mutex
	items  []any
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

// push appends ev and wakes the consumer. It never blocks.
func (q *eventQueue) push(ev any) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain takes everything queued so far, oldest first.
func (q *eventQueue) drain() []any {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// ready is signalled after a push; the consumer drains until the queue is empty.
func (q *eventQueue) ready() <-chan struct{} { return q.notify }
