// ABOUTME: Tests for customer reply normalization precedence and presence-aware escalation
// ABOUTME: Payloads mirror the shapes different agents in the pipeline return

package reply

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-console/internal/store"
)

func defaults() Defaults {
	return Defaults{
		Channel: store.ChannelEmail,
		Classification: store.Classification{
			TopicCategory:    "billing",
			UrgencyLevel:     "medium",
			Escalated:        true,
			EscalationReason: "Customer threatened to cancel",
			ResolutionStatus: "pending",
		},
	}
}

func TestNormalize_TextPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantText   string
		wantSource string
	}{
		{
			name:       "customer_response beats top-level message",
			payload:    `{"message":"B","result":{"data":{"customer_response":"A","answer":"C"},"summary":"D"}}`,
			wantText:   "A",
			wantSource: SourceCustomerResponse,
		},
		{
			name:       "answer when customer_response empty",
			payload:    `{"result":{"data":{"customer_response":"","answer":"C"},"summary":"D"}}`,
			wantText:   "C",
			wantSource: SourceAnswer,
		},
		{
			name:       "summary next",
			payload:    `{"message":"B","result":{"data":{},"summary":"D"}}`,
			wantText:   "D",
			wantSource: SourceSummary,
		},
		{
			name:       "only message",
			payload:    `{"message":"B"}`,
			wantText:   "B",
			wantSource: SourceMessage,
		},
		{
			name:       "neither",
			payload:    `{"status":"ok"}`,
			wantText:   FallbackText,
			wantSource: SourceFallback,
		},
		{
			name:       "non-string values are not present",
			payload:    `{"message":42,"result":{"data":{"customer_response":{"text":"x"},"answer":["y"]},"summary":null}}`,
			wantText:   FallbackText,
			wantSource: SourceFallback,
		},
		{
			name:       "result without data object is used as data",
			payload:    `{"result":{"customer_response":"from result","data":"not-an-object"}}`,
			wantText:   "from result",
			wantSource: SourceCustomerResponse,
		},
		{
			name:       "result is a string",
			payload:    `{"result":"plain","message":"B"}`,
			wantText:   "B",
			wantSource: SourceMessage,
		},
		{
			name:       "not an object",
			payload:    `["A"]`,
			wantText:   FallbackText,
			wantSource: SourceFallback,
		},
		{
			name:       "malformed",
			payload:    `{"result":`,
			wantText:   FallbackText,
			wantSource: SourceFallback,
		},
		{
			name:       "empty",
			payload:    ``,
			wantText:   FallbackText,
			wantSource: SourceFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Normalize(json.RawMessage(tt.payload), defaults())
			assert.Equal(t, tt.wantText, r.Text)
			assert.Equal(t, tt.wantSource, r.Source)
		})
	}
}

func TestNormalize_ClassificationFromData(t *testing.T) {
	payload := `{"result":{"data":{
		"customer_response":"Refund issued",
		"channel":"chat",
		"topic_category":"refund",
		"urgency_level":"high",
		"escalated":false,
		"escalation_reason":"",
		"resolution_status":"resolved",
		"extra":"ignored"
	}}}`

	r := Normalize(json.RawMessage(payload), defaults())

	assert.Equal(t, "Refund issued", r.Text)
	assert.Equal(t, store.ChannelChat, r.Channel)
	assert.Equal(t, "refund", r.TopicCategory)
	assert.Equal(t, "high", r.UrgencyLevel)
	assert.False(t, r.Escalated)
	assert.Equal(t, "Customer threatened to cancel", r.EscalationReason, "empty string keeps the default")
	assert.Equal(t, "resolved", r.ResolutionStatus)
}

func TestNormalize_MissingFieldsKeepDefaults(t *testing.T) {
	r := Normalize(json.RawMessage(`{"result":{"data":{"customer_response":"Hi"}}}`), defaults())

	d := defaults()
	assert.Equal(t, d.Channel, r.Channel)
	assert.Equal(t, d.Classification, r.Classification)
}

func TestNormalize_EscalatedPresence(t *testing.T) {
	tests := []struct {
		name      string
		escalated string
		def       bool
		want      bool
	}{
		{"explicit false de-escalates", `,"escalated":false`, true, false},
		{"explicit true escalates", `,"escalated":true`, false, true},
		{"absent keeps true", ``, true, true},
		{"absent keeps false", ``, false, false},
		{"null keeps default", `,"escalated":null`, true, true},
		{"non-bool keeps default", `,"escalated":"yes"`, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := defaults()
			d.Escalated = tt.def
			payload := `{"result":{"data":{"customer_response":"ok"` + tt.escalated + `}}}`
			r := Normalize(json.RawMessage(payload), d)
			assert.Equal(t, tt.want, r.Escalated)
		})
	}
}

func TestNormalize_DataIgnoredWhenResultMissing(t *testing.T) {
	r := Normalize(json.RawMessage(`{"message":"B","topic_category":"shipping"}`), defaults())
	assert.Equal(t, "billing", r.TopicCategory, "top-level fields are not classification sources")
}
