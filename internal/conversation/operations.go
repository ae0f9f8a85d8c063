// ABOUTME: Conversation queries and operator actions outside the send lifecycle
// ABOUTME: Create, Get, List, Activity, Subscribe, Escalate, MarkResolved and MarkRead

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/store"
)

// NewConversation holds the operator-supplied details of a conversation.
type NewConversation struct {
	CustomerName  string
	CustomerEmail string
	Channel       store.Channel
	// FirstMessage, when set, seeds the transcript with a customer message
	FirstMessage string
}

// Create starts a new conversation in the active state.
func (s *Service) Create(ctx context.Context, req NewConversation) (*store.Conversation, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return nil, fmt.Errorf("%w: customer name is required", ErrInvalidConversation)
	}
	channel := req.Channel
	if channel == "" {
		channel = store.ChannelChat
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", ErrInvalidConversation, channel)
	}

	id := uuid.New().String()
	now := s.gate.now()
	conv := &store.Conversation{
		ID:            id,
		CustomerName:  name,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Channel:       channel,
		Status:        store.StatusActive,
		Classification: store.Classification{
			ResolutionStatus: "pending",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if first := strings.TrimSpace(req.FirstMessage); first != "" {
		conv.LastMessage = first
		conv.UnreadCount = 1
		conv.Messages = []*store.Message{{
			ID:             uuid.New().String(),
			ConversationID: id,
			Sender:         store.SenderCustomer,
			Text:           first,
			Timestamp:      s.gate.stamp(now),
		}}
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation created",
		"conversation_id", id,
		"channel", channel)
	return conv, nil
}

// Get returns a conversation with its transcript.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// List returns conversations matching filter, most recently updated first.
func (s *Service) List(ctx context.Context, filter store.ConversationFilter) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, filter)
}

// Stats are the dashboard counters over every conversation.
type Stats struct {
	Total     int
	Active    int
	Pending   int
	Escalated int
	// Open counts conversations still waiting on someone: pending or escalated
	Open     int
	Resolved int
	Unread   int
	InFlight int
}

// Stats counts conversations by status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	convs, err := s.store.ListConversations(ctx, store.ConversationFilter{})
	if err != nil {
		return nil, err
	}

	st := &Stats{Total: len(convs)}
	for _, c := range convs {
		switch c.Status {
		case store.StatusActive:
			st.Active++
		case store.StatusPending:
			st.Pending++
			st.Open++
		case store.StatusEscalated:
			st.Escalated++
			st.Open++
		}
		if c.ResolutionStatus == store.ResolutionResolved {
			st.Resolved++
		}
		st.Unread += c.UnreadCount
		if s.gate.state(c.ID).Loading {
			st.InFlight++
		}
	}
	return st, nil
}

// ActivitySnapshot is the current activity log together with the lifecycle state.
type ActivitySnapshot struct {
	Events []*store.ActivityEvent
	LifecycleState
}

// Activity returns the activity log of the current (or last) send lifecycle.
func (s *Service) Activity(ctx context.Context, id string) (*ActivitySnapshot, error) {
	events, err := s.store.ListActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ActivitySnapshot{
		Events:         events,
		LifecycleState: s.gate.state(id),
	}, nil
}

// State reports whether a send lifecycle is in flight for the conversation.
func (s *Service) State(id string) LifecycleState {
	return s.gate.state(id)
}

// ActiveAgents returns the persona IDs currently working on any conversation.
func (s *Service) ActiveAgents() []string {
	return s.gate.activeAgents()
}

// Subscribe streams live updates for a conversation until ctx is cancelled.
func (s *Service) Subscribe(ctx context.Context, id string) (<-chan *Update, error) {
	if _, err := s.store.GetConversation(ctx, id); err != nil {
		return nil, err
	}
	ch, _ := s.broadcaster.Subscribe(ctx, id)
	return ch, nil
}

// Escalate hands the conversation to a human. An empty reason becomes
// DefaultEscalationReason. Returns ErrConversationBusy while a send is in flight.
func (s *Service) Escalate(ctx context.Context, id, reason string) (*store.Conversation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultEscalationReason
	}
	return s.operatorUpdate(ctx, id, "escalate", func(c *store.Conversation) {
		c.Status = store.StatusEscalated
		c.Escalated = true
		c.ResolutionStatus = store.ResolutionEscalated
		c.EscalationReason = reason
	})
}

// MarkResolved closes out an issue and clears the escalation.
// Returns ErrConversationBusy while a send is in flight.
func (s *Service) MarkResolved(ctx context.Context, id string) (*store.Conversation, error) {
	return s.operatorUpdate(ctx, id, "resolve", func(c *store.Conversation) {
		c.Status = store.StatusActive
		c.Escalated = false
		c.ResolutionStatus = store.ResolutionResolved
	})
}

// MarkRead clears the unread counter.
func (s *Service) MarkRead(ctx context.Context, id string) (*store.Conversation, error) {
	return s.operatorUpdate(ctx, id, "mark_read", func(c *store.Conversation) {
		c.UnreadCount = 0
	})
}

// operatorUpdate applies fn while holding the conversation's gate, so operator
// writes never interleave with a send lifecycle.
func (s *Service) operatorUpdate(ctx context.Context, id, action string, fn func(c *store.Conversation)) (*store.Conversation, error) {
	if !s.gate.acquire(id, &hold{kind: holdManual}) {
		s.logger.Info("operator action rejected, request in flight",
			"conversation_id", id,
			"action", action)
		return nil, ErrConversationBusy
	}
	defer s.gate.release(id)

	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	fn(conv)
	conv.UpdatedAt = s.gate.stamp(conv.UpdatedAt)
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	s.logger.Info("operator action applied",
		"conversation_id", id,
		"action", action,
		"status", conv.Status)
	s.publish(&Update{Kind: UpdateConversation, ConversationID: id, Conversation: conv})
	return conv, nil
}
