// ABOUTME: In-memory fan-out broadcaster for live console updates
// ABOUTME: Publishes message, activity and state changes to all subscribers of a conversation

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-console/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// UpdateKind identifies what changed.
type UpdateKind string

const (
	UpdateMessage      UpdateKind = "message"
	UpdateActivity     UpdateKind = "activity"
	UpdateConversation UpdateKind = "conversation"
	UpdateState        UpdateKind = "state"
)

// Update is one live change to a conversation. Exactly one payload is set,
// matching Kind; State is set for UpdateState.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	Message        *store.Message
	Activity       *store.ActivityEvent
	Conversation   *store.Conversation
	State          *LifecycleState
}

// Broadcaster provides in-memory pub/sub for conversation updates.
// Subscribers register for a conversation ID and receive updates as the
// service records them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Update // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for updates on the given conversation.
// Returns a channel that receives updates and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *Update, string) {
	subID := uuid.New().String()
	ch := make(chan *Update, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *Update)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an update to all subscribers of its conversation.
// Non-blocking: updates are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(update *Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subscribers[update.ConversationID]
	for subID, ch := range subs {
		select {
		case ch <- update:
		default:
			b.logger.Debug("dropped update for slow subscriber",
				"conversation_id", update.ConversationID,
				"sub_id", subID,
				"kind", update.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for a conversation.
func (b *Broadcaster) SubscriberCount(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[conversationID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broadcaster closed")
}
