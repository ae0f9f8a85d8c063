// Package store holds the conversation repository for the console.
//
// # Data Models
//
//   - Conversation: a customer thread with channel, status and classification
//   - Message: an immutable transcript entry (customer or agent)
//   - ActivityEvent: one entry of the per-lifecycle agent activity log
//
// Classification fields (topic, urgency, escalation, resolution) live on both the
// conversation and, as a snapshot, on each agent reply that carried them.
//
// # Implementations
//
// MemoryStore is the default. Its lifetime is the hosting process; nothing
// survives a restart.
//
// SQLiteStore uses modernc.org/sqlite. It defaults to MemoryDSN (":memory:"),
// which keeps the same process-lifetime semantics while exercising SQL queries:
//
//	s, err := store.NewSQLiteStore(store.MemoryDSN)
//
// A file path is accepted for local debugging.
//
// # Error Handling
//
//   - ErrNotFound: requested conversation does not exist
//   - ErrDuplicateConversation: conversation ID already taken
//
// Both implementations are safe for concurrent use. They do not enforce the
// one-lifecycle-per-conversation rule; that belongs to the conversation service.
package store
