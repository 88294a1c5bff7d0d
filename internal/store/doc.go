// Package store provides durable storage for chat conversations.
//
// # Architecture
//
// All conversations of one user live in a single serialized blob. The
// ConversationStore is the only component that reads or writes it, and every
// mutation is a full read-modify-write of the whole collection:
//
//   - Backend: hands out Blobs by key and owns the connection
//   - Blob: one named entry holding the JSON array of conversations
//   - ConversationStore: create, list, get, append and delete over a Blob
//
// Three backends are provided:
//
//   - SQLiteStore: one row per key in a blobs table (modernc.org/sqlite)
//   - RedisStore: one string key per blob (go-redis)
//   - MemoryStore: a map, for tests and throwaway sessions
//
// # Data Models
//
//   - Conversation: id, title, last-modified timestamp, ordered messages
//   - Message: id, content, role (user or assistant), timestamp, isCode
//
// Messages flagged IsLoading are view-only placeholders and are stripped
// before anything is written.
//
// # SQLite Configuration
//
// The SQLite backend uses WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Use NewSQLiteStore(":memory:") for tests that need real SQLite.
//
// # Error Handling
//
//   - ErrNotFound: requested conversation does not exist
//   - ErrCorrupt: the blob could not be decoded; there is no automatic recovery
//   - ErrInvalidRole: a message role other than user or assistant
//
// There is no conflict detection between processes sharing a blob. The last
// writer wins.
package store
