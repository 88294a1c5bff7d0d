// ABOUTME: Data types and backend interfaces for chatdeck persistence
// ABOUTME: Defines Conversation, Message and the Blob/Backend abstraction over one named entry

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrCorrupt is returned when the persisted blob cannot be decoded.
// There is no recovery path; the blob has to be repaired or removed by hand.
var ErrCorrupt = errors.New("conversation store corrupt")

// ErrInvalidRole is returned when appending a message with an unknown role
var ErrInvalidRole = errors.New("invalid message role")

// DefaultTitle is the title every conversation starts with
const DefaultTitle = "New Conversation"

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single entry in a conversation.
// Timestamps are milliseconds since the epoch.
type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Role      Role   `json:"role"`
	Timestamp int64  `json:"timestamp"`
	IsCode    bool   `json:"isCode,omitempty"`
	IsLoading bool   `json:"isLoading,omitempty"` // never persisted
}

// Conversation is an ordered list of messages with a title.
// Timestamp is the last-modified time in milliseconds.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp int64     `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

// Clone returns a copy that shares no message storage with c
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// ModifiedAt returns Timestamp as a time.Time
func (c Conversation) ModifiedAt() time.Time {
	return time.UnixMilli(c.Timestamp)
}

// Blob is a single named entry holding the serialized conversation list.
// Load returns (nil, nil) when nothing has been written yet.
type Blob interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Backend hands out blobs by key and owns the underlying connection
type Backend interface {
	Blob(key string) Blob
	Ping(ctx context.Context) error
	Close() error
}
