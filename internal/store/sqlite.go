// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Conversations, transcripts and activity logs with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryDSN opens a private in-memory database that lives as long as the store
const MemoryDSN = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Use MemoryDSN for a process-lifetime database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != MemoryDSN {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every pooled connection to :memory: would get its own empty database
	if path == MemoryDSN {
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                TEXT PRIMARY KEY,
			customer_name     TEXT NOT NULL,
			customer_email    TEXT NOT NULL,
			channel           TEXT NOT NULL,
			status            TEXT NOT NULL,
			last_message      TEXT NOT NULL DEFAULT '',
			unread_count      INTEGER NOT NULL DEFAULT 0,
			topic_category    TEXT NOT NULL DEFAULT '',
			urgency_level     TEXT NOT NULL DEFAULT '',
			escalated         INTEGER NOT NULL DEFAULT 0,
			escalation_reason TEXT NOT NULL DEFAULT '',
			resolution_status TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (channel IN ('chat', 'email', 'social')),
			CHECK (status IN ('active', 'pending', 'escalated'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq               INTEGER PRIMARY KEY AUTOINCREMENT,
			id                TEXT NOT NULL UNIQUE,
			conversation_id   TEXT NOT NULL,
			sender            TEXT NOT NULL,
			text              TEXT NOT NULL,
			timestamp         TEXT NOT NULL,
			classified        INTEGER NOT NULL DEFAULT 0,
			channel           TEXT,
			topic_category    TEXT,
			urgency_level     TEXT,
			escalated         INTEGER,
			escalation_reason TEXT,
			resolution_status TEXT,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			CHECK (sender IN ('customer', 'agent'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS activity_events (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			session_id      TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL,
			text            TEXT NOT NULL,
			agent_name      TEXT NOT NULL DEFAULT '',
			timestamp       TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_activity_conversation
			ON activity_events(conversation_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation inserts a conversation and any seed messages in one transaction.
// Returns ErrDuplicateConversation if the ID is taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (
			id, customer_name, customer_email, channel, status, last_message, unread_count,
			topic_category, urgency_level, escalated, escalation_reason, resolution_status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.CustomerName,
		conv.CustomerEmail,
		string(conv.Channel),
		string(conv.Status),
		conv.LastMessage,
		conv.UnreadCount,
		conv.TopicCategory,
		conv.UrgencyLevel,
		boolToInt(conv.Escalated),
		conv.EscalationReason,
		conv.ResolutionStatus,
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		m := *msg
		m.ConversationID = conv.ID
		if err := insertMessage(ctx, tx, &m); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "channel", conv.Channel)
	return nil
}

// GetConversation retrieves a conversation and its transcript.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, conversationSelect+` WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Messages, err = s.listMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// ListConversations returns matching conversations, most recently updated first.
// Messages are not populated.
func (s *SQLiteStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]*Conversation, error) {
	query := conversationSelect
	var conditions []string
	var args []any

	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, string(filter.Channel))
	}
	if filter.Query != "" {
		conditions = append(conditions, "(LOWER(customer_name) LIKE ? OR LOWER(last_message) LIKE ?)")
		pattern := "%" + strings.ToLower(filter.Query) + "%"
		args = append(args, pattern, pattern)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	result := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return result, nil
}

// UpdateConversation replaces header and classification fields.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			customer_name = ?, customer_email = ?, channel = ?, status = ?, last_message = ?,
			unread_count = ?, topic_category = ?, urgency_level = ?, escalated = ?,
			escalation_reason = ?, resolution_status = ?, updated_at = ?
		WHERE id = ?
	`,
		conv.CustomerName,
		conv.CustomerEmail,
		string(conv.Channel),
		string(conv.Status),
		conv.LastMessage,
		conv.UnreadCount,
		conv.TopicCategory,
		conv.UrgencyLevel,
		boolToInt(conv.Escalated),
		conv.EscalationReason,
		conv.ResolutionStatus,
		formatTime(conv.UpdatedAt),
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage adds a message to the end of a transcript.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if err := s.requireConversation(ctx, msg.ConversationID); err != nil {
		return err
	}
	return insertMessage(ctx, s.db, msg)
}

// ResetActivity deletes the activity log of a conversation.
func (s *SQLiteStore) ResetActivity(ctx context.Context, conversationID string) error {
	if err := s.requireConversation(ctx, conversationID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_events WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clearing activity: %w", err)
	}
	return nil
}

// AppendActivity adds an event to the end of the activity log.
func (s *SQLiteStore) AppendActivity(ctx context.Context, event *ActivityEvent) error {
	if err := s.requireConversation(ctx, event.ConversationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_events (id, conversation_id, session_id, type, text, agent_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		event.ConversationID,
		event.SessionID,
		string(event.Type),
		event.Text,
		event.AgentName,
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting activity event: %w", err)
	}
	return nil
}

// ListActivity returns the activity log in arrival order.
func (s *SQLiteStore) ListActivity(ctx context.Context, conversationID string) ([]*ActivityEvent, error) {
	if err := s.requireConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, session_id, type, text, agent_name, timestamp
		FROM activity_events
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	defer rows.Close()

	result := []*ActivityEvent{}
	for rows.Next() {
		var e ActivityEvent
		var eventType, ts string
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.SessionID, &eventType, &e.Text, &e.AgentName, &ts); err != nil {
			return nil, fmt.Errorf("scanning activity event: %w", err)
		}
		e.Type = ActivityType(eventType)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing activity timestamp: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) requireConversation(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) listMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, text, timestamp, classified,
			channel, topic_category, urgency_level, escalated, escalation_reason, resolution_status
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		var msg Message
		var sender, ts string
		var classified int
		var channel, topic, urgency, reason, resolution sql.NullString
		var escalated sql.NullInt64

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &sender, &msg.Text, &ts, &classified,
			&channel, &topic, &urgency, &escalated, &reason, &resolution); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.Sender = Sender(sender)
		if msg.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		if classified != 0 {
			msg.Classification = &MessageClassification{
				Channel: Channel(channel.String),
				Classification: Classification{
					TopicCategory:    topic.String,
					UrgencyLevel:     urgency.String,
					Escalated:        escalated.Int64 != 0,
					EscalationReason: reason.String,
					ResolutionStatus: resolution.String,
				},
			}
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, msg *Message) error {
	var classified int
	var channel, topic, urgency, reason, resolution sql.NullString
	var escalated sql.NullInt64

	if c := msg.Classification; c != nil {
		classified = 1
		channel = sql.NullString{String: string(c.Channel), Valid: true}
		topic = sql.NullString{String: c.TopicCategory, Valid: true}
		urgency = sql.NullString{String: c.UrgencyLevel, Valid: true}
		escalated = sql.NullInt64{Int64: int64(boolToInt(c.Escalated)), Valid: true}
		reason = sql.NullString{String: c.EscalationReason, Valid: true}
		resolution = sql.NullString{String: c.ResolutionStatus, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender, text, timestamp, classified,
			channel, topic_category, urgency_level, escalated, escalation_reason, resolution_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		string(msg.Sender),
		msg.Text,
		formatTime(msg.Timestamp),
		classified,
		channel, topic, urgency, escalated, reason, resolution,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

const conversationSelect = `
	SELECT id, customer_name, customer_email, channel, status, last_message, unread_count,
		topic_category, urgency_level, escalated, escalation_reason, resolution_status,
		created_at, updated_at
	FROM conversations`

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var channel, status, createdAt, updatedAt string
	var escalated int

	err := row.Scan(
		&c.ID,
		&c.CustomerName,
		&c.CustomerEmail,
		&channel,
		&status,
		&c.LastMessage,
		&c.UnreadCount,
		&c.TopicCategory,
		&c.UrgencyLevel,
		&escalated,
		&c.EscalationReason,
		&c.ResolutionStatus,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Channel = Channel(channel)
	c.Status = Status(status)
	c.Escalated = escalated != 0

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &c, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE/PRIMARY KEY constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// timeLayout is fixed-width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
