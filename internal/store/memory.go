// ABOUTME: In-memory Store implementation, the default conversation repository
// ABOUTME: Lives as long as the process; also used by tests that don't need SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation    // keyed by conversation ID, without messages
	messages      map[string][]*Message       // keyed by conversation ID
	activity      map[string][]*ActivityEvent // keyed by conversation ID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		activity:      make(map[string][]*ActivityEvent),
	}
}

// CreateConversation stores a new conversation. Messages on conv are appended in order.
func (m *MemoryStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	c := *conv
	c.Messages = nil
	m.conversations[c.ID] = &c

	for _, msg := range conv.Messages {
		copied := copyMessage(msg)
		copied.ConversationID = c.ID
		m.messages[c.ID] = append(m.messages[c.ID], copied)
	}
	return nil
}

// GetConversation returns a copy of the conversation including its transcript.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *c
	msgs := m.messages[id]
	result.Messages = make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		result.Messages = append(result.Messages, copyMessage(msg))
	}
	return &result, nil
}

// ListConversations returns matching conversations, most recently updated first.
// Messages are not populated.
func (m *MemoryStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		if !filter.Matches(c) {
			continue
		}
		copied := *c
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// UpdateConversation replaces the header and classification fields.
// The transcript is never touched; use AppendMessage.
func (m *MemoryStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.conversations[conv.ID]
	if !ok {
		return ErrNotFound
	}

	c := *conv
	c.Messages = nil
	c.CreatedAt = existing.CreatedAt
	m.conversations[c.ID] = &c
	return nil
}

// AppendMessage adds a message to the end of a conversation transcript.
func (m *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], copyMessage(msg))
	return nil
}

// ResetActivity clears the activity log of a conversation.
func (m *MemoryStore) ResetActivity(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	delete(m.activity, conversationID)
	return nil
}

// AppendActivity adds an event to the end of a conversation's activity log.
func (m *MemoryStore) AppendActivity(ctx context.Context, event *ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[event.ConversationID]; !ok {
		return ErrNotFound
	}
	e := *event
	m.activity[event.ConversationID] = append(m.activity[event.ConversationID], &e)
	return nil
}

// ListActivity returns the activity log in arrival order.
func (m *MemoryStore) ListActivity(ctx context.Context, conversationID string) ([]*ActivityEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	events := m.activity[conversationID]
	result := make([]*ActivityEvent, 0, len(events))
	for _, e := range events {
		copied := *e
		result = append(result, &copied)
	}
	return result, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

func copyMessage(msg *Message) *Message {
	c := *msg
	if msg.Classification != nil {
		cls := *msg.Classification
		c.Classification = &cls
	}
	return &c
}
