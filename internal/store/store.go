// ABOUTME: Store interface and data types for coven-console conversation state
// ABOUTME: Defines Conversation, Message, ActivityEvent and the Store repository contract

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose ID is taken
var ErrDuplicateConversation = errors.New("conversation already exists")

// Channel is the customer-facing channel a conversation arrived on
type Channel string

const (
	ChannelChat   Channel = "chat"
	ChannelEmail  Channel = "email"
	ChannelSocial Channel = "social"
)

// Valid reports whether c is one of the known channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelChat, ChannelEmail, ChannelSocial:
		return true
	}
	return false
}

// Status is the operator-facing state of a conversation
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusEscalated Status = "escalated"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
)

// Resolution status values written by operator actions.
// Agents may report any other free-form value.
const (
	ResolutionResolved  = "resolved"
	ResolutionEscalated = "escalated"
)

// ActivityType classifies an entry of the agent activity log
type ActivityType string

const (
	ActivityThinking   ActivityType = "thinking"
	ActivityProcessing ActivityType = "processing"
	ActivityCompletion ActivityType = "completion"
	ActivityError      ActivityType = "error"
	ActivityInfo       ActivityType = "info"
)

// Valid reports whether t is one of the known activity types
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityThinking, ActivityProcessing, ActivityCompletion, ActivityError, ActivityInfo:
		return true
	}
	return false
}

// Classification holds the agent-derived triage fields of a conversation
type Classification struct {
	TopicCategory    string
	UrgencyLevel     string
	Escalated        bool
	EscalationReason string
	ResolutionStatus string
}

// MessageClassification is the classification snapshot carried by an agent reply
type MessageClassification struct {
	Channel Channel
	Classification
}

// Message is a single immutable entry of a conversation transcript
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Text           string
	Timestamp      time.Time

	// Classification is nil for customer messages and failure replies
	Classification *MessageClassification
}

// Conversation is one customer thread handled by the console
type Conversation struct {
	ID            string
	CustomerName  string
	CustomerEmail string
	Channel       Channel
	Status        Status
	LastMessage   string
	UnreadCount   int
	Classification

	// Messages is populated by GetConversation only; append order is chronological
	Messages []*Message

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LastMessageAt returns the timestamp of the newest message, or the zero time
func (c *Conversation) LastMessageAt() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].Timestamp
}

// ActivityEvent is one entry in the per-lifecycle agent activity log
type ActivityEvent struct {
	ID             string
	ConversationID string
	SessionID      string
	Type           ActivityType
	Text           string
	AgentName      string // optional originating agent label
	Timestamp      time.Time
}

// ConversationFilter narrows ListConversations. Zero values match everything.
type ConversationFilter struct {
	Channel Channel
	Query   string // case-insensitive match on customer name or last message
}

// Matches reports whether c satisfies the filter
func (f ConversationFilter) Matches(c *Conversation) bool {
	if f.Channel != "" && c.Channel != f.Channel {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	return strings.Contains(strings.ToLower(c.CustomerName), q) ||
		strings.Contains(strings.ToLower(c.LastMessage), q)
}

// Store is the conversation repository owned by the hosting process
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error

	// Messages are append-only
	AppendMessage(ctx context.Context, msg *Message) error

	// Activity log, scoped to the current send lifecycle
	ResetActivity(ctx context.Context, conversationID string) error
	AppendActivity(ctx context.Context, event *ActivityEvent) error
	ListActivity(ctx context.Context, conversationID string) ([]*ActivityEvent, error)

	// Close releases any resources held by the store
	Close() error
}
