// ABOUTME: Activity stream frame decoding and event classification
// ABOUTME: Turns loosely shaped progress notifications into typed activity events

package activity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/2389/coven-console/internal/store"
)

// Event is one progress notification received from the remote activity stream.
type Event struct {
	Type       store.ActivityType
	Text       string
	AgentName  string
	ReceivedAt time.Time
}

// substringOrder is the fallback classification order for unlabeled frames.
var substringOrder = []struct {
	needle string
	typ    store.ActivityType
}{
	{"thinking", store.ActivityThinking},
	{"processing", store.ActivityProcessing},
	{"complet", store.ActivityCompletion},
	{"error", store.ActivityError},
}

// Classify picks the activity type for a frame. A recognized label wins;
// otherwise the text is searched case-insensitively, and info is the default.
func Classify(label, text string) store.ActivityType {
	if t := store.ActivityType(strings.ToLower(strings.TrimSpace(label))); t.Valid() {
		return t
	}
	lower := strings.ToLower(text)
	for _, s := range substringOrder {
		if strings.Contains(lower, s.needle) {
			return s.typ
		}
	}
	return store.ActivityInfo
}

// DecodeFrame parses a raw stream frame of the shape
// {type?, message?|text?, agent_name?|agentName?}.
// It reports false for anything that is not a JSON object carrying a non-empty
// message or text; such frames are dropped by the listener.
func DecodeFrame(data []byte) (Event, bool) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Event{}, false
	}

	text := firstString(fields, "message", "text")
	if text == "" {
		return Event{}, false
	}

	return Event{
		Type:       Classify(firstString(fields, "type"), text),
		Text:       text,
		AgentName:  firstString(fields, "agent_name", "agentName"),
		ReceivedAt: time.Now(),
	}, true
}

// firstString returns the first key whose value is a non-empty string.
func firstString(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
