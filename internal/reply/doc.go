// Package reply turns agent payloads into customer replies.
//
// The remote agent service nests its answer under different keys depending on
// which agent produced it. Normalize decodes the payload once into a typed
// envelope and applies one precedence function:
//
//	text:       result.data.customer_response, result.data.answer,
//	            result.summary, message, FallbackText
//	data:       result.data when it is an object, otherwise result
//	channel, topic_category, urgency_level, escalation_reason,
//	resolution_status: non-empty string in data, otherwise the default
//	escalated:  boolean in data (false included), otherwise the default
//
// Only non-empty strings count as present. The Defaults are the conversation's
// current values, so fields the agent omits are left unchanged.
//
// NormalizeAnswer does the same for knowledge base test queries, rendering
// confidence and sources as text or "N/A".
package reply
