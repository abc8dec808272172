// ABOUTME: Registry mapping conversation keys to their bound agent and handler
// ABOUTME: Owned by the router loop goroutine; emits created/removed events with the live count

package conversation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-router/internal/activity"
	"github.com/2389/coven-router/internal/agent"
	"github.com/2389/coven-router/internal/events"
)

// Entry is one live conversation.
type Entry struct {
	ID        string
	Key       activity.ConversationKey
	Agent     agent.Agent
	Handler   Handler
	CreatedAt time.Time
}

// AgentProvider returns the agent for a new entry: either the shared agent
// or a freshly created one, depending on the instancing mode.
type AgentProvider func(ctx context.Context) (agent.Agent, error)

// TeardownFunc is called when a handler asks for its entry to be removed.
type TeardownFunc func(key activity.ConversationKey, entryID string)

// RegistryParams holds the dependencies of a Registry.
type RegistryParams struct {
	Handlers HandlerFactory
	Teardown TeardownFunc
	Sink     events.Sink
	Logger   *slog.Logger
}

// Registry holds at most one Entry per key.
type Registry struct {
	entries  map[activity.ConversationKey]*Entry
	handlers HandlerFactory
	teardown TeardownFunc
	sink     events.Sink
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(p RegistryParams) *Registry {
	if p.Sink == nil {
		p.Sink = events.Discard
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Teardown == nil {
		p.Teardown = func(activity.ConversationKey, string) {}
	}
	return &Registry{
		entries:  make(map[activity.ConversationKey]*Entry),
		handlers: p.Handlers,
		teardown: p.Teardown,
		sink:     p.Sink,
		logger:   p.Logger.With("component", "registry"),
	}
}

// GetOrCreate returns the entry for key, creating it with an agent from
// provider when absent. created reports whether a new entry was made.
// When provider fails no entry is created and its error is returned.
func (r *Registry) GetOrCreate(ctx context.Context, key activity.ConversationKey, provider AgentProvider) (entry *Entry, created bool, err error) {
	if e, ok := r.entries[key]; ok {
		return e, false, nil
	}

	a, err := provider(ctx)
	if err != nil {
		return nil, false, err
	}

	e := &Entry{
		ID:        uuid.New().String(),
		Key:       key,
		Agent:     a,
		CreatedAt: time.Now(),
	}
	entryID := e.ID
	e.Handler = r.handlers.NewHandler(Binding{
		EntryID:  entryID,
		Key:      key,
		Agent:    a,
		Teardown: func() { r.teardown(key, entryID) },
	})
	r.entries[key] = e

	r.logger.Info("=== CONVERSATION CREATED ===",
		"key", key.String(),
		"entry_id", e.ID,
		"live_conversations", len(r.entries),
	)
	ev := events.New(events.ConversationCreated)
	ev.Key = key.String()
	ev.Detail = e.ID
	ev.Live = len(r.entries)
	r.sink.Record(ev)

	return e, true, nil
}

// Get returns the live entry for key, if any.
func (r *Registry) Get(key activity.ConversationKey) (*Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// Remove deletes the entry for key. Absent keys are a no-op.
func (r *Registry) Remove(key activity.ConversationKey) bool {
	return r.RemoveEntry(key, "")
}

// RemoveEntry deletes the entry for key only when its ID matches entryID.
// An empty entryID matches any entry.
func (r *Registry) RemoveEntry(key activity.ConversationKey, entryID string) bool {
	e, ok := r.entries[key]
	if !ok {
		return false
	}
	if entryID != "" && e.ID != entryID {
		r.logger.Debug("ignoring stale teardown",
			"key", key.String(),
			"stale_entry_id", entryID,
			"live_entry_id", e.ID,
		)
		return false
	}
	delete(r.entries, key)

	r.logger.Info("=== CONVERSATION REMOVED ===",
		"key", key.String(),
		"entry_id", e.ID,
		"live_conversations", len(r.entries),
	)
	ev := events.New(events.ConversationRemoved)
	ev.Key = key.String()
	ev.Detail = e.ID
	ev.Live = len(r.entries)
	r.sink.Record(ev)
	return true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Keys returns the live keys in a stable order, for diagnostics.
func (r *Registry) Keys() []activity.ConversationKey {
	keys := make([]activity.ConversationKey, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
