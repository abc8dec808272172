// ABOUTME: Tests for the dedupe cache of seen activity IDs
// ABOUTME: Covers TTL expiry, size-bounded eviction, timer-driven cleanup, and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-router/internal/clock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	c := New(Params{TTL: ttl, MaxSize: maxSize, Clock: clk})
	t.Cleanup(c.Close)
	return c, clk
}

func TestCache_CheckAndMark_NewThenDuplicate(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.False(t, c.CheckAndMark("act-1"), "first delivery is new")
	assert.True(t, c.CheckAndMark("act-1"), "redelivery is a duplicate")
	assert.False(t, c.CheckAndMark("act-2"))
	assert.True(t, c.Seen("act-1"))
}

func TestCache_Expired(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)

	c.CheckAndMark("act-1")
	clk.Advance(59 * time.Second)
	assert.True(t, c.Seen("act-1"))

	clk.Advance(time.Second)
	assert.False(t, c.Seen("act-1"))
	assert.False(t, c.CheckAndMark("act-1"), "expired key is accepted again")
}

func TestCache_Forget(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.CheckAndMark("act-1")
	c.Forget("act-1")
	c.Forget("never-marked")

	assert.False(t, c.Seen("act-1"))
	assert.False(t, c.CheckAndMark("act-1"))
	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 3)

	for i := 1; i <= 4; i++ {
		c.CheckAndMark(fmt.Sprintf("act-%d", i))
	}

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("act-1"), "oldest evicted")
	assert.True(t, c.Seen("act-2"))
	assert.True(t, c.Seen("act-4"))
}

func TestCache_ExpiredRemarkMovesToBack(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 2)

	c.CheckAndMark("a")
	c.CheckAndMark("b")
	clk.Advance(2 * time.Minute) // both expire; cleanup also fires here

	c.CheckAndMark("a")
	c.CheckAndMark("c")

	assert.True(t, c.Seen("a"))
	assert.True(t, c.Seen("c"))
	assert.False(t, c.Seen("b"))
}

func TestCache_CleanupRemovesExpired(t *testing.T) {
	clk := clock.Fake(epoch)
	c := New(Params{TTL: time.Minute, MaxSize: 10, CleanupInterval: 30 * time.Second, Clock: clk})
	defer c.Close()

	c.CheckAndMark("old")
	clk.Advance(40 * time.Second)
	c.CheckAndMark("new")
	assert.Equal(t, 2, c.Len())

	clk.Advance(20 * time.Second) // cleanup at 60s: "old" has just expired
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
	assert.Equal(t, 1, clk.Pending(), "cleanup re-arms itself")
}

func TestCache_CloseStopsCleanup(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)
	assert.Equal(t, 1, clk.Pending())

	c.Close()
	c.Close()
	assert.Equal(t, 0, clk.Pending())
}

func TestCache_Defaults(t *testing.T) {
	c := New(Params{Clock: clock.Fake(epoch)})
	defer c.Close()

	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
	assert.Equal(t, DefaultTTL, c.interval)
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var wg sync.WaitGroup
	var fresh atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same-activity") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load(), "exactly one concurrent delivery wins")
}
