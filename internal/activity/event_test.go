// ABOUTME: Tests for frame decoding and activity classification
// ABOUTME: Covers label precedence, substring fallback order and swallowed frame shapes

package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-console/internal/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		label string
		text  string
		want  store.ActivityType
	}{
		{"label wins over text", "error", "still thinking", store.ActivityError},
		{"label is case-insensitive", "Completion", "done", store.ActivityCompletion},
		{"info label", "info", "processing request", store.ActivityInfo},
		{"unknown label falls back to text", "progress", "Thinking about refunds", store.ActivityThinking},
		{"thinking before processing", "", "thinking while processing", store.ActivityThinking},
		{"processing before completion", "", "Processing completed", store.ActivityProcessing},
		{"complet prefix", "", "Task COMPLETE", store.ActivityCompletion},
		{"completion before error", "", "completed with error", store.ActivityCompletion},
		{"error substring", "", "An error occurred", store.ActivityError},
		{"default info", "", "Routing request", store.ActivityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.label, tt.text))
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	ev, ok := DecodeFrame([]byte(`{"type":"thinking","message":"Analyzing","agent_name":"Coordinator"}`))
	assert.True(t, ok)
	assert.Equal(t, store.ActivityThinking, ev.Type)
	assert.Equal(t, "Analyzing", ev.Text)
	assert.Equal(t, "Coordinator", ev.AgentName)
	assert.False(t, ev.ReceivedAt.IsZero())

	ev, ok = DecodeFrame([]byte(`{"text":"Processing ticket","agentName":"Channel Response Agent"}`))
	assert.True(t, ok)
	assert.Equal(t, store.ActivityProcessing, ev.Type)
	assert.Equal(t, "Processing ticket", ev.Text)
	assert.Equal(t, "Channel Response Agent", ev.AgentName)

	ev, ok = DecodeFrame([]byte(`{"message":"","text":"fallback text"}`))
	assert.True(t, ok)
	assert.Equal(t, "fallback text", ev.Text)
	assert.Empty(t, ev.AgentName)
}

func TestDecodeFrame_Swallowed(t *testing.T) {
	frames := []string{
		`not json`,
		`[1,2,3]`,
		`"just a string"`,
		`null`,
		`42`,
		`{}`,
		`{"type":"info"}`,
		`{"message":""}`,
		`{"message":123}`,
	}
	for _, f := range frames {
		_, ok := DecodeFrame([]byte(f))
		assert.False(t, ok, "frame %s should be dropped", f)
	}
}
