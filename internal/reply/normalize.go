// ABOUTME: Normalizes heterogeneous agent response payloads into a fixed customer reply record
// ABOUTME: One typed decode step followed by a single explicit precedence function

package reply

import (
	"bytes"
	"encoding/json"

	"github.com/2389/coven-console/internal/store"
)

// FallbackText is the customer reply used when the payload carries no usable text
const FallbackText = "Thank you for your message. I am looking into this for you."

// Defaults are the conversation's current values; a field missing from the
// payload keeps its default rather than becoming empty.
type Defaults struct {
	Channel store.Channel
	store.Classification
}

// Reply is a fully populated normalized response.
type Reply struct {
	Text    string
	Channel store.Channel
	store.Classification

	// Source names the payload path the text came from, or "fallback"
	Source string
}

// Text sources, in precedence order
const (
	SourceCustomerResponse = "result.data.customer_response"
	SourceAnswer           = "result.data.answer"
	SourceSummary          = "result.summary"
	SourceMessage          = "message"
	SourceFallback         = "fallback"
)

// envelope is the recognized subset of an agent payload.
// Every field is optional; unknown fields are ignored.
type envelope struct {
	Message any             `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// resultBody is the "result" member when it is an object.
type resultBody struct {
	Summary any             `json:"summary"`
	Data    json.RawMessage `json:"data"`
}

// dataBody holds the classification-bearing fields. escalated is a pointer so
// an explicit false is distinguishable from an absent or null value.
type dataBody struct {
	CustomerResponse any   `json:"customer_response"`
	Answer           any   `json:"answer"`
	Channel          any   `json:"channel"`
	TopicCategory    any   `json:"topic_category"`
	UrgencyLevel     any   `json:"urgency_level"`
	Escalated        *bool `json:"-"`
	EscalationReason any   `json:"escalation_reason"`
	ResolutionStatus any   `json:"resolution_status"`
}

// decoded is the tagged result of the decode step.
type decoded struct {
	message string
	summary string
	data    dataBody
}

// Normalize resolves raw into a Reply. It never fails: malformed or
// unexpected payloads fall through to the defaults and FallbackText.
func Normalize(raw json.RawMessage, d Defaults) Reply {
	return resolve(decode(raw), d)
}

// decode extracts the recognized paths. The data object is result.data when
// that is an object, otherwise result itself when that is an object.
func decode(raw json.RawMessage) decoded {
	var out decoded

	var env envelope
	if !decodeObject(raw, &env) {
		return out
	}
	out.message = nonEmpty(env.Message)

	var res resultBody
	if !decodeObject(env.Result, &res) {
		return out
	}
	out.summary = nonEmpty(res.Summary)

	dataRaw := env.Result
	if isObject(res.Data) {
		dataRaw = res.Data
	}
	out.data = decodeData(dataRaw)
	return out
}

func decodeData(raw json.RawMessage) dataBody {
	var body dataBody
	if !decodeObject(raw, &body) {
		return body
	}

	var presence struct {
		Escalated json.RawMessage `json:"escalated"`
	}
	if err := json.Unmarshal(raw, &presence); err == nil {
		var b bool
		if err := json.Unmarshal(presence.Escalated, &b); err == nil && !isNull(presence.Escalated) {
			body.Escalated = &b
		}
	}
	return body
}

// resolve applies the precedence rules. Every field of the result is set.
func resolve(p decoded, d Defaults) Reply {
	r := Reply{
		Channel:        d.Channel,
		Classification: d.Classification,
	}

	switch {
	case nonEmpty(p.data.CustomerResponse) != "":
		r.Text, r.Source = nonEmpty(p.data.CustomerResponse), SourceCustomerResponse
	case nonEmpty(p.data.Answer) != "":
		r.Text, r.Source = nonEmpty(p.data.Answer), SourceAnswer
	case p.summary != "":
		r.Text, r.Source = p.summary, SourceSummary
	case p.message != "":
		r.Text, r.Source = p.message, SourceMessage
	default:
		r.Text, r.Source = FallbackText, SourceFallback
	}

	if ch := nonEmpty(p.data.Channel); ch != "" {
		r.Channel = store.Channel(ch)
	}
	overrideString(&r.TopicCategory, p.data.TopicCategory)
	overrideString(&r.UrgencyLevel, p.data.UrgencyLevel)
	overrideString(&r.EscalationReason, p.data.EscalationReason)
	overrideString(&r.ResolutionStatus, p.data.ResolutionStatus)
	if p.data.Escalated != nil {
		r.Escalated = *p.data.Escalated
	}

	return r
}

func overrideString(dst *string, v any) {
	if s := nonEmpty(v); s != "" {
		*dst = s
	}
}

// nonEmpty returns v when it is a non-empty string, otherwise "".
func nonEmpty(v any) string {
	s, _ := v.(string)
	return s
}

func decodeObject(raw json.RawMessage, v any) bool {
	if !isObject(raw) {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
