// ABOUTME: Tests for the idempotency cache used by the send endpoint
// ABOUTME: Validates claim states, TTL expiration, size limits, eviction, cleanup and concurrency

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxSize int) (*Cache[string], *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string](ttl, maxSize)
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_Claim_NewKey(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	v, state := c.Claim("key-1")
	assert.Equal(t, StateNew, state)
	assert.Empty(t, v)
	assert.Equal(t, 1, c.Len())
}

func TestCache_Claim_PendingThenDone(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	_, state := c.Claim("key-1")
	require.Equal(t, StateNew, state)

	_, state = c.Claim("key-1")
	assert.Equal(t, StatePending, state)
	_, ok := c.Lookup("key-1")
	assert.False(t, ok, "pending keys have no value")

	c.Complete("key-1", "reply")

	v, state := c.Claim("key-1")
	assert.Equal(t, StateDone, state)
	assert.Equal(t, "reply", v)

	v, ok = c.Lookup("key-1")
	assert.True(t, ok)
	assert.Equal(t, "reply", v)
}

func TestCache_Forget_AllowsRetry(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	c.Claim("key-1")
	c.Forget("key-1")
	c.Forget("key-1")

	_, state := c.Claim("key-1")
	assert.Equal(t, StateNew, state)
}

func TestCache_Expired(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Claim("key-1")
	c.Complete("key-1", "reply")

	clock.Advance(59 * time.Second)
	_, ok := c.Lookup("key-1")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Lookup("key-1")
	assert.False(t, ok)

	_, state := c.Claim("key-1")
	assert.Equal(t, StateNew, state, "expired keys can be claimed again")
}

func TestCache_Complete_RefreshesTTL(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Claim("key-1")
	clock.Advance(50 * time.Second)
	c.Complete("key-1", "reply")
	clock.Advance(50 * time.Second)

	v, ok := c.Lookup("key-1")
	assert.True(t, ok, "completion restarts the TTL")
	assert.Equal(t, "reply", v)
}

func TestCache_EvictionOrder(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 3)

	for _, k := range []string{"first", "second", "third"} {
		c.Claim(k)
		c.Complete(k, k)
	}

	c.Claim("fourth")
	_, ok := c.Lookup("first")
	assert.False(t, ok, "first should be evicted")
	for _, k := range []string{"second", "third"} {
		_, ok := c.Lookup(k)
		assert.True(t, ok, k)
	}

	// Completing refreshes position, so "second" survives the next eviction
	c.Complete("second", "again")
	c.Claim("fifth")
	_, ok = c.Lookup("third")
	assert.False(t, ok, "third should be evicted")
	_, ok = c.Lookup("second")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestCache_Cleanup(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 100)

	c.Claim("cleanup-1")
	c.Claim("cleanup-2")
	c.Complete("cleanup-2", "v")
	clock.Advance(2 * time.Minute)
	c.Claim("fresh")

	c.runCleanup()

	assert.Equal(t, 1, c.Len(), "cleanup should remove expired entries")
	_, state := c.Claim("fresh")
	assert.Equal(t, StatePending, state)
}

func TestCache_Claim_Atomic(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 100)

	const numGoroutines = 100
	var winners atomic.Int32
	var wg sync.WaitGroup

	for range numGoroutines {
		wg.Go(func() {
			if _, state := c.Claim("contested-key"); state == StateNew {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(), "exactly one goroutine should claim the key")
}

func TestCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 1000)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			for j := range 50 {
				key := "key-" + string(rune('A'+i%26)) + "-" + string(rune('0'+j%10))
				if _, state := c.Claim(key); state == StateNew {
					c.Complete(key, key)
				}
				c.Lookup(key)
			}
		})
	}
	wg.Wait()

	c.Claim("final-key")
	c.Complete("final-key", "ok")
	v, ok := c.Lookup("final-key")
	assert.True(t, ok)
	assert.Equal(t, "ok", v)
}

func TestCache_Close(t *testing.T) {
	c := New[int](5*time.Minute, 100)
	c.Close()
	c.Close()
}
