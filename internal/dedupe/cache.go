// ABOUTME: Thread-safe TTL cache mapping idempotency keys to completed results
// ABOUTME: Lets the send endpoint replay a finished send instead of running it twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// State is where a key stands in its claim/complete cycle.
type State int

const (
	// StateNew means the caller now owns the key and must Complete or Forget it
	StateNew State = iota
	// StatePending means another caller owns the key and has not finished
	StatePending
	// StateDone means the key finished and its value is returned
	StateDone
)

// entry stores the value and list element for a cached key.
type entry[V any] struct {
	key       string
	value     V
	done      bool
	timestamp time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited map of idempotency keys to
// results. Insertion order is kept in a doubly-linked list for O(1) eviction.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Claim atomically looks up key and claims it when unknown or expired.
// On StateDone the stored value is returned.
func (c *Cache[V]) Claim(key string) (V, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if e, ok := c.entries[key]; ok && c.live(e) {
		if e.done {
			return e.value, StateDone
		}
		return zero, StatePending
	}

	c.putLocked(key, zero, false)
	return zero, StateNew
}

// Complete stores the value for a claimed key and restarts its TTL.
func (c *Cache[V]) Complete(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value, true)
}

// Forget drops key so a later request may retry it.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
}

// Lookup returns the completed value for key without claiming it.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !e.done || !c.live(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[V]) live(e *entry[V]) bool {
	return c.now().Sub(e.timestamp) < c.ttl
}

// putLocked inserts or refreshes key. Must be called with mu held.
func (c *Cache[V]) putLocked(key string, value V, done bool) {
	now := c.now()

	if e, exists := c.entries[key]; exists {
		e.value = value
		e.done = done
		e.timestamp = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry[V]{key: key, value: value, done: done, timestamp: now}
	e.element = c.order.PushBack(e)
	c.entries[key] = e
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache[V]) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	e, _ := front.Value.(*entry[V])
	c.order.Remove(front)
	delete(c.entries, e.key)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache[V]) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if !c.live(e) {
			c.order.Remove(e.element)
			delete(c.entries, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
