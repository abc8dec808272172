// ABOUTME: Tests for the router event ledger and its asynchronous recorder
// ABOUTME: Uses a temp-dir SQLite database per test

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-router/internal/events"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_AppendGeneratesIDAndTime(t *testing.T) {
	store := setupTestStore(t)

	e := &Entry{Kind: events.ConversationCreated, Key: "teams/c1", Live: 1}
	require.NoError(t, store.Append(context.Background(), e))

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.At.IsZero())
	assert.Positive(t, e.Seq)
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, kind := range []events.Kind{events.ConversationCreated, events.ActivityHandled, events.ConversationRemoved} {
		require.NoError(t, store.Append(ctx, &Entry{Kind: kind, Key: "teams/c1"}))
	}

	entries, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, events.ConversationRemoved, entries[0].Kind)
	assert.Equal(t, events.ConversationCreated, entries[2].Kind)
}

func TestStore_ListFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, &Entry{Kind: events.ActivityHandled, Key: "teams/c1", At: base}))
	require.NoError(t, store.Append(ctx, &Entry{Kind: events.ActivityHandled, Key: "teams/c2", At: base.Add(time.Second)}))
	require.NoError(t, store.Append(ctx, &Entry{Kind: events.ActivityDropped, Key: "teams/c1", At: base.Add(2 * time.Second)}))

	byKind, err := store.List(ctx, Filter{Kind: events.ActivityHandled})
	require.NoError(t, err)
	assert.Len(t, byKind, 2)

	byKey, err := store.List(ctx, Filter{Key: "teams/c1"})
	require.NoError(t, err)
	assert.Len(t, byKey, 2)

	since, err := store.List(ctx, Filter{Since: base.Add(500 * time.Millisecond)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, events.ActivityDropped, limited[0].Kind)
}

func TestStore_ExpiryRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	exp := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, &Entry{Kind: events.CredentialRefreshed, ExpiresAt: &exp}))
	require.NoError(t, store.Append(ctx, &Entry{Kind: events.CredentialRefreshError}))

	entries, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].ExpiresAt)
	require.NotNil(t, entries[1].ExpiresAt)
	assert.True(t, exp.Equal(*entries[1].ExpiresAt))
}

func TestStore_DuplicateEventIDRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, &Entry{ID: "evt-1", Kind: events.ActivityHandled}))
	assert.Error(t, store.Append(ctx, &Entry{ID: "evt-1", Kind: events.ActivityHandled}))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), &Entry{Kind: events.ActivityHandled}))
	require.NoError(t, store.Close())

	store, err = Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(-5))
	assert.Equal(t, 50, normalizeLimit(50))
	assert.Equal(t, 1000, normalizeLimit(5000))
}

func TestRecorder_PersistsEvents(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, 16, nil)

	created := events.New(events.ConversationCreated)
	created.Key = "teams/c1"
	created.Live = 1
	rec.Record(created)

	refreshed := events.New(events.CredentialRefreshed)
	refreshed.ExpiresAt = time.Now().Add(time.Hour)
	rec.Record(refreshed)

	require.NoError(t, rec.Close(context.Background()))

	entries, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, created.ID, entries[1].ID)
	assert.Equal(t, "teams/c1", entries[1].Key)
	assert.Equal(t, 1, entries[1].Live)
	assert.NotNil(t, entries[0].ExpiresAt)
}

func TestRecorder_RecordAfterCloseIsIgnored(t *testing.T) {
	store := setupTestStore(t)
	rec := NewRecorder(store, 4, nil)

	require.NoError(t, rec.Close(context.Background()))
	require.NoError(t, rec.Close(context.Background()))
	rec.Record(events.New(events.ActivityHandled))

	n, err := store.Count(context.Background(), events.ActivityHandled)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecorder_ImplementsSink(t *testing.T) {
	var _ events.Sink = (*Recorder)(nil)
}
