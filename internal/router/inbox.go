// ABOUTME: Unbounded multi-producer single-consumer FIFO feeding the router loop
// ABOUTME: Pushes never block; a 1-buffered channel wakes the consumer

package router

import (
	"sync"

	"github.com/2389/coven-router/internal/activity"
)

// removal asks the loop to drop a conversation. An empty entryID removes
// whatever entry is live for the key.
type removal struct {
	key     activity.ConversationKey
	entryID string
}

// item is either an activity or a removal.
type item struct {
	act    *activity.Activity
	remove *removal
}

type inbox struct {
	mu     sync.Mutex
	items  []item
	notify chan struct{}
	// closed rejects new activities; removals are still accepted so
	// handlers can tear down while the queue drains.
	closed bool
	// sealed rejects everything; set once the loop has exited.
	sealed bool
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (q *inbox) pushActivity(act *activity.Activity) error {
	q.mu.Lock()
	if q.closed || q.sealed {
		q.mu.Unlock()
		return ErrStopped
	}
	q.items = append(q.items, item{act: act})
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *inbox) pushRemoval(r removal) error {
	q.mu.Lock()
	if q.sealed {
		q.mu.Unlock()
		return ErrStopped
	}
	q.items = append(q.items, item{remove: &r})
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *inbox) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// take removes and returns everything queued, oldest first.
func (q *inbox) take() []item {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// seal closes the queue for good and returns how many items were left behind.
func (q *inbox) seal() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.sealed = true
	n := len(q.items)
	q.items = nil
	return n
}

func (q *inbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
