// ABOUTME: Asynchronous events.Sink that writes router events to the ledger
// ABOUTME: A bounded buffer keeps SQLite latency off the router loop

package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-router/internal/events"
)

const defaultBuffer = 1024

// Recorder is an events.Sink backed by a Store. Events are written by one
// background goroutine; when the buffer is full new events are dropped and
// counted rather than blocking the emitter.
type Recorder struct {
	store   *Store
	logger  *slog.Logger
	queue   chan events.Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts the writer goroutine. buffer <= 0 uses the default.
func NewRecorder(store *Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger.With("component", "audit"),
		queue:  make(chan events.Event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record implements events.Sink. It never blocks.
func (r *Recorder) Record(e events.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.logger.Warn("audit buffer full, dropping events", "dropped_total", n)
		}
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close stops accepting events and waits for buffered ones to be written
// or ctx to end. It does not close the Store.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		entry := &Entry{
			ID:     e.ID,
			Kind:   e.Kind,
			Key:    e.Key,
			Detail: e.Detail,
			Live:   e.Live,
			At:     e.At,
		}
		if !e.ExpiresAt.IsZero() {
			exp := e.ExpiresAt
			entry.ExpiresAt = &exp
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := r.store.Append(ctx, entry)
		cancel()
		if err != nil {
			r.logger.Error("failed to append router event", "kind", e.Kind, "error", err)
		}
	}
}
