// ABOUTME: Observability events emitted by the router and the credential refresh cycle
// ABOUTME: Sinks fan events out to logs, metrics, and the audit ledger

package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

const (
	ConversationCreated    Kind = "conversation.created"
	ConversationRemoved    Kind = "conversation.removed"
	ActivityHandled        Kind = "activity.handled"
	ActivityDropped        Kind = "activity.dropped"
	ActivityFailed         Kind = "activity.failed"
	CredentialRefreshed    Kind = "credential.refreshed"
	CredentialRefreshError Kind = "credential.refresh_failed"
	RouterStateChanged     Kind = "router.state"
)

// Event is a single observability record.
type Event struct {
	ID   string
	Kind Kind
	// Key is the conversation key in channel/conversation form, empty for
	// events not tied to a conversation.
	Key    string
	Detail string
	// Live is the number of live conversations after the event, when relevant.
	Live int
	// ExpiresAt is set on credential events when the token expiry is known.
	ExpiresAt time.Time
	At        time.Time
}

// New stamps an event with a fresh ID and the current time.
func New(kind Kind) Event {
	return Event{ID: uuid.New().String(), Kind: kind, At: time.Now()}
}

// Sink receives events. Implementations must be safe for concurrent use:
// the router loop and the refresh cycle emit from different goroutines.
type Sink interface {
	Record(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Record calls f.
func (f SinkFunc) Record(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return multi(live)
}

type multi []Sink

func (m multi) Record(e Event) {
	for _, s := range m {
		s.Record(e)
	}
}

// Recorder keeps every event in memory. Tests use it to assert on emissions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Record implements Sink.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events of the given kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
