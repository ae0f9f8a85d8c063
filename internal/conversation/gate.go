// ABOUTME: Per-conversation in-flight gate; at most one operation owns a conversation at a time
// ABOUTME: The gate entry for a send lifecycle doubles as the conversation's loading flag

package conversation

import (
	"sync"
	"time"

	"github.com/2389/coven-console/internal/activity"
)

// holdKind says what currently owns a conversation
type holdKind int

const (
	holdSend holdKind = iota + 1
	holdManual
)

// hold is the gate entry for one conversation.
type hold struct {
	kind        holdKind
	sessionID   string
	activeAgent string
	stream      activity.Status
	startedAt   time.Time
}

// LifecycleState is the observable state of a conversation's send lifecycle.
type LifecycleState struct {
	Loading       bool
	SessionID     string
	ActiveAgentID string
	StreamStatus  activity.Status
	StartedAt     time.Time
}

// gate tracks which conversations are held. An entry lives only as long as
// its hold.
type gate struct {
	mu    sync.Mutex
	holds map[string]*hold
	now   func() time.Time
}

func newGate(now func() time.Time) *gate {
	if now == nil {
		now = time.Now
	}
	return &gate{
		holds: make(map[string]*hold),
		now:   now,
	}
}

// acquire takes the conversation for h. It reports false if something else holds it.
func (g *gate) acquire(conversationID string, h *hold) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.holds[conversationID]; busy {
		return false
	}
	h.startedAt = g.now()
	g.holds[conversationID] = h
	return true
}

// release frees the conversation.
func (g *gate) release(conversationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holds, conversationID)
}

// update mutates the current hold, if any, under the gate lock.
func (g *gate) update(conversationID string, fn func(h *hold)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holds[conversationID]; ok {
		fn(h)
	}
}

// state reports the lifecycle state. Manual holds do not count as loading.
func (g *gate) state(conversationID string) LifecycleState {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.holds[conversationID]
	if !ok || h.kind != holdSend {
		return LifecycleState{}
	}
	return LifecycleState{
		Loading:       true,
		SessionID:     h.sessionID,
		ActiveAgentID: h.activeAgent,
		StreamStatus:  h.stream,
		StartedAt:     h.startedAt,
	}
}

// activeAgents returns the active agent of every send lifecycle in flight.
func (g *gate) activeAgents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []string
	for _, h := range g.holds {
		if h.kind == holdSend && h.activeAgent != "" {
			ids = append(ids, h.activeAgent)
		}
	}
	return ids
}

// stamp returns the current time, moved just past floor when the clock has
// not advanced beyond it. Callers hold the conversation and pass its newest
// recorded timestamp, so successive stamps strictly increase.
func (g *gate) stamp(floor time.Time) time.Time {
	ts := g.now()
	if !floor.IsZero() && !ts.After(floor) {
		ts = floor.Add(time.Nanosecond)
	}
	return ts
}
