// ABOUTME: JSON views of conversations, messages, activity and lifecycle state
// ABOUTME: Keeps the wire format of the console API separate from store types

package console

import (
	"time"

	"github.com/2389/coven-console/internal/activity"
	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/store"
)

// ConversationView is the JSON form of a conversation.
type ConversationView struct {
	ID               string        `json:"id"`
	CustomerName     string        `json:"customer_name"`
	CustomerEmail    string        `json:"customer_email,omitempty"`
	Channel          store.Channel `json:"channel"`
	Status           store.Status  `json:"status"`
	LastMessage      string        `json:"last_message"`
	UnreadCount      int           `json:"unread_count"`
	TopicCategory    string        `json:"topic_category,omitempty"`
	UrgencyLevel     string        `json:"urgency_level,omitempty"`
	Escalated        bool          `json:"escalated"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	ResolutionStatus string        `json:"resolution_status,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Loading          bool          `json:"loading"`
	Messages         []MessageView `json:"messages,omitempty"`
}

// MessageView is the JSON form of a transcript message.
type MessageView struct {
	ID             string              `json:"id"`
	Sender         store.Sender        `json:"sender"`
	Text           string              `json:"text"`
	HTML           string              `json:"html,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
	Classification *ClassificationView `json:"classification,omitempty"`
}

// ClassificationView is the classification snapshot carried by an agent reply.
type ClassificationView struct {
	Channel          store.Channel `json:"channel"`
	TopicCategory    string        `json:"topic_category,omitempty"`
	UrgencyLevel     string        `json:"urgency_level,omitempty"`
	Escalated        bool          `json:"escalated"`
	EscalationReason string        `json:"escalation_reason,omitempty"`
	ResolutionStatus string        `json:"resolution_status,omitempty"`
}

// ActivityView is the JSON form of an activity event.
type ActivityView struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id,omitempty"`
	Type      store.ActivityType `json:"type"`
	Text      string             `json:"text"`
	AgentName string             `json:"agent_name,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// StateView is the JSON form of a conversation's lifecycle state.
type StateView struct {
	Loading       bool            `json:"loading"`
	SessionID     string          `json:"session_id,omitempty"`
	ActiveAgentID string          `json:"active_agent_id,omitempty"`
	StreamStatus  activity.Status `json:"stream_status,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
}

// StatsView is returned by GET /api/conversations/stats.
type StatsView struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Escalated int `json:"escalated"`
	Open      int `json:"open"`
	Resolved  int `json:"resolved"`
	Unread    int `json:"unread"`
	InFlight  int `json:"in_flight"`
}

// ActivityResponse is returned by GET /api/conversations/{id}/activity.
type ActivityResponse struct {
	Events []ActivityView `json:"events"`
	StateView
}

// SendResponse is returned by POST /api/conversations/{id}/messages.
type SendResponse struct {
	Outcome         conversation.Outcome `json:"outcome"`
	ConversationID  string               `json:"conversation_id"`
	SessionID       string               `json:"session_id"`
	CustomerMessage *MessageView         `json:"customer_message,omitempty"`
	Reply           *MessageView         `json:"reply,omitempty"`
	StreamStatus    activity.Status      `json:"stream_status"`
	Error           string               `json:"error,omitempty"`
}

func conversationView(c *store.Conversation, state conversation.LifecycleState, html bool) ConversationView {
	v := ConversationView{
		ID:               c.ID,
		CustomerName:     c.CustomerName,
		CustomerEmail:    c.CustomerEmail,
		Channel:          c.Channel,
		Status:           c.Status,
		LastMessage:      c.LastMessage,
		UnreadCount:      c.UnreadCount,
		TopicCategory:    c.TopicCategory,
		UrgencyLevel:     c.UrgencyLevel,
		Escalated:        c.Escalated,
		EscalationReason: c.EscalationReason,
		ResolutionStatus: c.ResolutionStatus,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		Loading:          state.Loading,
	}
	for _, m := range c.Messages {
		v.Messages = append(v.Messages, messageView(m, html))
	}
	return v
}

func messageView(m *store.Message, html bool) MessageView {
	v := MessageView{
		ID:        m.ID,
		Sender:    m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
	if html && m.Sender == store.SenderAgent {
		v.HTML = renderMarkdown(m.Text)
	}
	if m.Classification != nil {
		c := m.Classification
		v.Classification = &ClassificationView{
			Channel:          c.Channel,
			TopicCategory:    c.TopicCategory,
			UrgencyLevel:     c.UrgencyLevel,
			Escalated:        c.Escalated,
			EscalationReason: c.EscalationReason,
			ResolutionStatus: c.ResolutionStatus,
		}
	}
	return v
}

func messagePtr(m *store.Message) *MessageView {
	if m == nil {
		return nil
	}
	v := messageView(m, false)
	return &v
}

func activityView(e *store.ActivityEvent) ActivityView {
	return ActivityView{
		ID:        e.ID,
		SessionID: e.SessionID,
		Type:      e.Type,
		Text:      e.Text,
		AgentName: e.AgentName,
		Timestamp: e.Timestamp,
	}
}

func stateView(s conversation.LifecycleState) StateView {
	v := StateView{
		Loading:       s.Loading,
		SessionID:     s.SessionID,
		ActiveAgentID: s.ActiveAgentID,
		StreamStatus:  s.StreamStatus,
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		v.StartedAt = &started
	}
	return v
}

func sendResponse(r *conversation.SendResult) *SendResponse {
	return &SendResponse{
		Outcome:         r.Outcome,
		ConversationID:  r.ConversationID,
		SessionID:       r.SessionID,
		CustomerMessage: messagePtr(r.CustomerMessage),
		Reply:           messagePtr(r.Reply),
		StreamStatus:    r.StreamStatus,
		Error:           r.Error,
	}
}
