// ABOUTME: Conversation Service reconciles one send lifecycle into conversation state
// ABOUTME: Gates concurrent sends, runs the agent call beside the activity stream, and always finalizes

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/activity"
	"github.com/2389/coven-console/internal/agent"
	"github.com/2389/coven-console/internal/reply"
	"github.com/2389/coven-console/internal/store"
)

// ErrEmptyMessage is returned when a send carries no text after trimming.
var ErrEmptyMessage = errors.New("message text is empty")

// ErrConversationBusy is returned by operator actions while a send lifecycle is in flight.
var ErrConversationBusy = errors.New("conversation has a request in flight")

// ErrInvalidConversation is returned when Create is given incomplete details.
var ErrInvalidConversation = errors.New("invalid conversation")

// Fixed texts written by the service
const (
	FailureText             = "I apologize, but I encountered an issue processing your request. Please try again or contact support."
	DefaultEscalationReason = "Manually escalated by agent"

	previewLength = 60
)

// Labels for activity the service records itself
const (
	systemAgentName      = "System"
	coordinatorShortName = "Coordinator"
)

// Outcome is how a Send ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected"
)

// SendResult describes a completed (or rejected) send lifecycle.
type SendResult struct {
	Outcome         Outcome
	ConversationID  string
	SessionID       string
	CustomerMessage *store.Message
	Reply           *store.Message
	StreamStatus    activity.Status
	// Error is the failure description when Outcome is OutcomeFailed
	Error string
}

// Personas names the remote agents involved in a send lifecycle.
type Personas struct {
	Coordinator   agent.Persona
	KnowledgeName string
	ChannelName   string
}

// Deps wires a Service to its collaborators. Listener, Publisher and
// Broadcaster are optional.
type Deps struct {
	Store       store.Store
	Invoker     agent.Invoker
	Listener    activity.Listener
	Publisher   activity.Publisher
	Broadcaster *Broadcaster
	Personas    Personas

	// Now overrides the clock in tests
	Now func() time.Time
}

// Service owns every mutation of conversation, message and activity state.
type Service struct {
	store       store.Store
	invoker     agent.Invoker
	listener    activity.Listener
	publisher   activity.Publisher
	broadcaster *Broadcaster
	personas    Personas
	gate        *gate
	logger      *slog.Logger
}

// New creates a new conversation Service
func New(deps Deps, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	listener := deps.Listener
	if listener == nil {
		listener = activity.NopListener{}
	}
	broadcaster := deps.Broadcaster
	if broadcaster == nil {
		broadcaster = NewBroadcaster(logger)
	}
	personas := deps.Personas
	if personas.Coordinator.Name == "" {
		personas.Coordinator.Name = "Customer Service Coordinator"
	}
	if personas.KnowledgeName == "" {
		personas.KnowledgeName = "Knowledge Retrieval Agent"
	}
	if personas.ChannelName == "" {
		personas.ChannelName = "Channel Response Agent"
	}
	return &Service{
		store:       deps.Store,
		invoker:     deps.Invoker,
		listener:    listener,
		publisher:   deps.Publisher,
		broadcaster: broadcaster,
		personas:    personas,
		gate:        newGate(deps.Now),
		logger:      logger.With("component", "conversation"),
	}
}

// Broadcaster returns the broadcaster live updates are published on.
func (s *Service) Broadcaster() *Broadcaster { return s.broadcaster }

// Send runs one send lifecycle: record the customer message, stream activity
// while the coordinator agent is called, then record its reply or a failure
// message. A send for a conversation that already has one in flight returns
// OutcomeRejected without touching state.
func (s *Service) Send(ctx context.Context, conversationID, text string) (*SendResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	if _, err := s.store.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	sessionID := agent.NewSessionID(s.personas.Coordinator.ID)
	h := &hold{
		kind:        holdSend,
		sessionID:   sessionID,
		activeAgent: s.personas.Coordinator.ID,
	}
	if !s.gate.acquire(conversationID, h) {
		s.logger.Info("send rejected, request already in flight", "conversation_id", conversationID)
		return &SendResult{Outcome: OutcomeRejected, ConversationID: conversationID}, nil
	}

	// State writes outlive a cancelled caller so the lifecycle always completes.
	sctx := context.WithoutCancel(ctx)
	result := &SendResult{ConversationID: conversationID, SessionID: sessionID}
	lc := &lifecycle{conversationID: conversationID, sessionID: sessionID, result: result}
	defer s.finalize(sctx, lc)

	s.publishState(conversationID)

	customer, err := s.appendCustomerMessage(sctx, conversationID, text)
	if err != nil {
		return nil, err
	}
	result.CustomerMessage = customer

	if err := s.store.ResetActivity(sctx, conversationID); err != nil {
		return nil, fmt.Errorf("resetting activity: %w", err)
	}
	s.recordActivity(sctx, conversationID, sessionID, store.ActivityInfo, "Starting customer service request...", systemAgentName)
	s.recordActivity(sctx, conversationID, sessionID, store.ActivityProcessing,
		"Routing to "+s.personas.Coordinator.Name, coordinatorShortName)

	s.openStream(sctx, lc)

	s.logger.Info("send lifecycle started",
		"conversation_id", conversationID,
		"session_id", sessionID)

	s.recordActivity(sctx, conversationID, sessionID, store.ActivityProcessing, "Querying knowledge base...", s.personas.KnowledgeName)

	res, raised := s.invoke(sctx, text, sessionID)
	if !raised {
		s.recordActivity(sctx, conversationID, sessionID, store.ActivityProcessing, "Formatting channel response...", s.personas.ChannelName)
	}

	if res.Success && len(res.Response) > 0 {
		msg, err := s.applySuccess(sctx, conversationID, res)
		if err != nil {
			return nil, err
		}
		result.Outcome = OutcomeSuccess
		result.Reply = msg
		s.recordActivity(sctx, conversationID, sessionID, store.ActivityCompletion, "Response delivered successfully", coordinatorShortName)
		return result, nil
	}

	msg, err := s.applyFailure(sctx, conversationID)
	if err != nil {
		return nil, err
	}
	description := res.Error
	switch {
	case raised:
		description = "Network error occurred"
	case description == "":
		description = "Failed to get response"
	}
	s.recordActivity(sctx, conversationID, sessionID, store.ActivityError, description, systemAgentName)

	result.Outcome = OutcomeFailed
	result.Reply = msg
	result.Error = description
	return result, nil
}

// lifecycle holds the per-send resources finalize must release.
type lifecycle struct {
	conversationID string
	sessionID      string
	result         *SendResult
	sub            *activity.Subscription
	pumpDone       chan struct{}
}

// openStream subscribes to the session's activity and starts the pump that
// records events in arrival order. It does not wait for the stream to connect.
func (s *Service) openStream(ctx context.Context, lc *lifecycle) {
	lc.sub = s.listener.Open(ctx, lc.sessionID)
	lc.pumpDone = make(chan struct{})
	s.setStreamStatus(lc.conversationID, lc.sub.Status())

	go func() {
		defer close(lc.pumpDone)

		<-lc.sub.Ready()
		status := lc.sub.Status()
		s.setStreamStatus(lc.conversationID, status)
		if err := lc.sub.Err(); err != nil {
			s.logger.Debug("activity stream degraded",
				"conversation_id", lc.conversationID,
				"session_id", lc.sessionID,
				"status", status,
				"error", err)
		}

		for ev := range lc.sub.Events() {
			s.recordActivity(ctx, lc.conversationID, lc.sessionID, ev.Type, ev.Text, ev.AgentName)
		}
	}()
}

// setStreamStatus records the stream status on the current hold and
// publishes the state when it changed.
func (s *Service) setStreamStatus(conversationID string, status activity.Status) {
	changed := false
	s.gate.update(conversationID, func(h *hold) {
		if h.stream != status {
			h.stream = status
			changed = true
		}
	})
	if changed {
		s.publishState(conversationID)
	}
}

// finalize runs exactly once per lifecycle, whatever the outcome: close the
// stream, wait for the pump so no late event lands in the next lifecycle's
// log, then clear the loading flag. The stream status reported is the one
// the subscription settled on.
func (s *Service) finalize(ctx context.Context, lc *lifecycle) {
	if lc.sub != nil {
		lc.sub.Close()
		<-lc.pumpDone
		lc.result.StreamStatus = lc.sub.Status()
	}
	s.gate.release(lc.conversationID)
	s.publishState(lc.conversationID)

	s.logger.Debug("send lifecycle finalized",
		"conversation_id", lc.conversationID,
		"session_id", lc.sessionID,
		"stream", lc.result.StreamStatus)
}

// invoke calls the coordinator. A panicking invoker is treated like a
// transport failure and reported through raised.
func (s *Service) invoke(ctx context.Context, text, sessionID string) (res agent.Result, raised bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent call raised", "session_id", sessionID, "panic", r)
			res = agent.Failure("agent call raised: %v", r)
			raised = true
		}
	}()
	return s.invoker.Invoke(ctx, text, s.personas.Coordinator.ID, agent.SessionContext{SessionID: sessionID}), false
}

func (s *Service) appendCustomerMessage(ctx context.Context, conversationID, text string) (*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         store.SenderCustomer,
		Text:           text,
		Timestamp:      s.gate.stamp(conv.LastMessageAt()),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording customer message: %w", err)
	}

	conv.LastMessage = text
	conv.UpdatedAt = msg.Timestamp
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	s.logger.Debug("customer message recorded",
		"conversation_id", conversationID,
		"message_id", msg.ID)
	s.publish(&Update{Kind: UpdateMessage, ConversationID: conversationID, Message: msg})
	return msg, nil
}

// applySuccess records the normalized agent reply and moves the
// conversation's classification and status to match it.
func (s *Service) applySuccess(ctx context.Context, conversationID string, res agent.Result) (*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	r := reply.Normalize(res.Response, reply.Defaults{
		Channel:        conv.Channel,
		Classification: conv.Classification,
	})

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         store.SenderAgent,
		Text:           r.Text,
		Timestamp:      s.gate.stamp(conv.LastMessageAt()),
		Classification: &store.MessageClassification{
			Channel:        r.Channel,
			Classification: r.Classification,
		},
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording agent reply: %w", err)
	}

	conv.Classification = r.Classification
	conv.Status = store.StatusActive
	if r.Escalated {
		conv.Status = store.StatusEscalated
	}
	conv.LastMessage = Preview(r.Text)
	conv.UpdatedAt = msg.Timestamp
	conv.Messages = nil
	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}

	s.logger.Info("agent reply recorded",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"source", r.Source,
		"topic", r.TopicCategory,
		"urgency", r.UrgencyLevel,
		"escalated", r.Escalated)

	s.publish(&Update{Kind: UpdateMessage, ConversationID: conversationID, Message: msg})
	s.publish(&Update{Kind: UpdateConversation, ConversationID: conversationID, Conversation: conv})
	return msg, nil
}

// applyFailure records the apology. Classification and status are left alone.
func (s *Service) applyFailure(ctx context.Context, conversationID string) (*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Sender:         store.SenderAgent,
		Text:           FailureText,
		Timestamp:      s.gate.stamp(conv.LastMessageAt()),
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording failure message: %w", err)
	}

	s.logger.Warn("agent call failed", "conversation_id", conversationID, "message_id", msg.ID)
	s.publish(&Update{Kind: UpdateMessage, ConversationID: conversationID, Message: msg})
	return msg, nil
}

// recordActivity appends an event to the log and fans it out. Failures are
// logged only; activity never affects the lifecycle outcome.
func (s *Service) recordActivity(ctx context.Context, conversationID, sessionID string, typ store.ActivityType, text, agentName string) {
	event := &store.ActivityEvent{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SessionID:      sessionID,
		Type:           typ,
		Text:           text,
		AgentName:      agentName,
		Timestamp:      s.gate.now(),
	}
	if err := s.store.AppendActivity(ctx, event); err != nil {
		s.logger.Warn("failed to record activity", "conversation_id", conversationID, "error", err)
		return
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Debug("failed to mirror activity", "conversation_id", conversationID, "error", err)
		}
	}
	s.publish(&Update{Kind: UpdateActivity, ConversationID: conversationID, Activity: event})
}

func (s *Service) publish(u *Update) {
	s.broadcaster.Publish(u)
}

func (s *Service) publishState(conversationID string) {
	state := s.gate.state(conversationID)
	s.publish(&Update{Kind: UpdateState, ConversationID: conversationID, State: &state})
}

// Preview shortens text for the conversation list: the first 60 characters,
// followed by "..." when anything was cut.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}
