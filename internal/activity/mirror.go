// ABOUTME: Redis pub/sub mirror for activity events
// ABOUTME: Publishes each recorded event to activity:<conversationID> so other processes can follow along

package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/coven-console/internal/store"
)

// ChannelPrefix prefixes the per-conversation pub/sub channel name
const ChannelPrefix = "activity:"

// Publisher receives every activity event the console records.
type Publisher interface {
	Publish(ctx context.Context, event *store.ActivityEvent) error
}

// Record is the JSON form of an activity event, shared by the mirror and the HTTP API.
type Record struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SessionID      string    `json:"session_id,omitempty"`
	Type           string    `json:"type"`
	Message        string    `json:"message"`
	AgentName      string    `json:"agent_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewRecord converts a stored activity event to its JSON form.
func NewRecord(e *store.ActivityEvent) Record {
	return Record{
		ID:             e.ID,
		ConversationID: e.ConversationID,
		SessionID:      e.SessionID,
		Type:           string(e.Type),
		Message:        e.Text,
		AgentName:      e.AgentName,
		Timestamp:      e.Timestamp,
	}
}

// Channel returns the pub/sub channel for a conversation.
func Channel(conversationID string) string {
	return ChannelPrefix + conversationID
}

// RedisMirror publishes activity events to Redis.
type RedisMirror struct {
	rdb *redis.Client
}

// NewRedisMirror connects to the Redis server at redisURL (redis:// or rediss://).
func NewRedisMirror(ctx context.Context, redisURL string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisMirror{rdb: rdb}, nil
}

// NewRedisMirrorFromClient wraps an existing client.
func NewRedisMirrorFromClient(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

// Publish sends the event as JSON to the conversation's channel.
func (m *RedisMirror) Publish(ctx context.Context, event *store.ActivityEvent) error {
	payload, err := json.Marshal(NewRecord(event))
	if err != nil {
		return fmt.Errorf("marshaling activity event: %w", err)
	}
	if err := m.rdb.Publish(ctx, Channel(event.ConversationID), payload).Err(); err != nil {
		return fmt.Errorf("publishing activity event: %w", err)
	}
	return nil
}

// Follow subscribes to a conversation's channel and decodes incoming records
// until ctx is cancelled. Undecodable payloads are skipped.
func (m *RedisMirror) Follow(ctx context.Context, conversationID string) <-chan Record {
	pubsub := m.rdb.Subscribe(ctx, Channel(conversationID))
	out := make(chan Record, eventBuffer)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rec Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

// Close releases the Redis connection.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
