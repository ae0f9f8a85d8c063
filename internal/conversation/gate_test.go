// ABOUTME: Tests for the per-conversation gate and its monotonic clock
// ABOUTME: Covers acquire/release, manual holds and stamps that move past the newest record

package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-console/internal/activity"
)

func TestGate_AcquireRelease(t *testing.T) {
	g := newGate(nil)

	assert.True(t, g.acquire("conv-1", &hold{kind: holdSend, sessionID: "s1", activeAgent: "coord"}))
	assert.False(t, g.acquire("conv-1", &hold{kind: holdSend}))
	assert.True(t, g.acquire("conv-2", &hold{kind: holdManual}))

	state := g.state("conv-1")
	assert.True(t, state.Loading)
	assert.Equal(t, "s1", state.SessionID)
	assert.False(t, state.StartedAt.IsZero())
	assert.False(t, g.state("conv-2").Loading, "manual holds are not loading")
	assert.Equal(t, []string{"coord"}, g.activeAgents())

	g.update("conv-1", func(h *hold) { h.stream = activity.StatusConnected })
	assert.Equal(t, activity.StatusConnected, g.state("conv-1").StreamStatus)

	g.release("conv-1")
	assert.False(t, g.state("conv-1").Loading)
	assert.Empty(t, g.activeAgents())
	assert.True(t, g.acquire("conv-1", &hold{kind: holdSend}))
}

func TestGate_StampMovesPastFloor(t *testing.T) {
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := newGate(func() time.Time { return frozen })

	assert.Equal(t, frozen, g.stamp(time.Time{}))

	first := g.stamp(frozen)
	assert.True(t, first.After(frozen))
	second := g.stamp(first)
	assert.True(t, second.After(first))

	future := frozen.Add(time.Hour)
	assert.Equal(t, future.Add(time.Nanosecond), g.stamp(future))

	past := frozen.Add(-time.Hour)
	assert.Equal(t, frozen, g.stamp(past), "a floor behind the clock is ignored")
}

func TestGate_KeepsNoStateAfterRelease(t *testing.T) {
	g := newGate(nil)
	for i := range 100 {
		id := fmt.Sprintf("conv-%d", i)
		require.True(t, g.acquire(id, &hold{kind: holdSend}))
		g.stamp(time.Time{})
		g.release(id)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.holds)
}
