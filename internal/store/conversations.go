// ABOUTME: ConversationStore implements create/list/append/delete over a single blob
// ABOUTME: Every mutation is a full read-modify-write of the serialized collection

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	titleMaxLen    = 60
	titleKeepRunes = 57
)

// ConversationStore is the single owner of the persisted conversation list.
// It is safe for concurrent use; access to the blob is serialized.
type ConversationStore struct {
	mu               sync.Mutex
	blob             Blob
	now              func() time.Time
	newID            func() string
	maxConversations int
	logger           *slog.Logger
}

// Option configures a ConversationStore
type Option func(*ConversationStore)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *ConversationStore) { s.now = now }
}

// WithIDGenerator overrides id generation
func WithIDGenerator(newID func() string) Option {
	return func(s *ConversationStore) { s.newID = newID }
}

// WithMaxConversations caps the number of stored conversations. When Create pushes
// the count over max, the least recently modified conversations are dropped.
// Zero means unbounded.
func WithMaxConversations(max int) Option {
	return func(s *ConversationStore) { s.maxConversations = max }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *ConversationStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewConversationStore wraps blob with conversation CRUD
func NewConversationStore(blob Blob, opts ...Option) *ConversationStore {
	s := &ConversationStore{
		blob:   blob,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "conversation-store")
	return s
}

// ListAll returns every stored conversation, newest-created first.
// An empty store yields an empty, non-nil slice.
func (s *ConversationStore) ListAll(ctx context.Context) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Get returns the conversation with the given id, or ErrNotFound
func (s *ConversationStore) Get(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs, err := s.load(ctx)
	if err != nil {
		return Conversation{}, err
	}
	for _, c := range convs {
		if c.ID == id {
			return c, nil
		}
	}
	return Conversation{}, ErrNotFound
}

// Create persists a new empty conversation at the front of the list
func (s *ConversationStore) Create(ctx context.Context) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs, err := s.load(ctx)
	if err != nil {
		return Conversation{}, err
	}

	conv := Conversation{
		ID:        s.newID(),
		Title:     DefaultTitle,
		Timestamp: s.now().UnixMilli(),
		Messages:  []Message{},
	}
	convs = append([]Conversation{conv}, convs...)
	convs = s.evict(convs, conv.ID)

	if err := s.save(ctx, convs); err != nil {
		return Conversation{}, err
	}
	s.logger.Debug("created conversation", "id", conv.ID)
	return conv, nil
}

// Append adds a message to a copy of conv and persists the result. The returned
// value is the new source of truth; conv itself is left untouched. The title is
// derived only when a user message lands in a conversation that had no messages.
func (s *ConversationStore) Append(ctx context.Context, conv Conversation, content string, role Role, isCode bool) (Conversation, error) {
	if !role.Valid() {
		return Conversation{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UnixMilli()
	msg := Message{
		ID:        s.newID(),
		Content:   content,
		Role:      role,
		Timestamp: now,
		IsCode:    isCode,
	}

	updated := conv
	updated.Messages = make([]Message, 0, len(conv.Messages)+1)
	for _, m := range conv.Messages {
		if !m.IsLoading {
			updated.Messages = append(updated.Messages, m)
		}
	}
	prior := len(updated.Messages)
	updated.Messages = append(updated.Messages, msg)
	updated.Timestamp = now

	if role == RoleUser && prior == 0 {
		updated.Title = DeriveTitle(content)
	}

	convs, err := s.load(ctx)
	if err != nil {
		return Conversation{}, err
	}
	convs = upsert(convs, updated)
	if err := s.save(ctx, convs); err != nil {
		return Conversation{}, err
	}

	s.logger.Debug("appended message",
		"conversation_id", updated.ID,
		"message_id", msg.ID,
		"role", role,
		"is_code", isCode)
	return updated.Clone(), nil
}

// Delete removes the conversation with the given id. Unknown ids are a no-op.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convs, err := s.load(ctx)
	if err != nil {
		return err
	}

	kept := make([]Conversation, 0, len(convs))
	for _, c := range convs {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(convs) {
		return nil
	}

	if err := s.save(ctx, kept); err != nil {
		return err
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// DeriveTitle applies the title rule: up to 60 characters verbatim, otherwise the
// first 57 followed by "...". Length is counted in runes.
func DeriveTitle(content string) string {
	r := []rune(content)
	if len(r) <= titleMaxLen {
		return content
	}
	return string(r[:titleKeepRunes]) + "..."
}

// RecentFirst returns a copy of convs ordered by last modification, newest first.
// Ties keep stored order.
func RecentFirst(convs []Conversation) []Conversation {
	out := make([]Conversation, len(convs))
	copy(out, convs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

func (s *ConversationStore) load(ctx context.Context) ([]Conversation, error) {
	data, err := s.blob.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	if len(data) == 0 {
		return []Conversation{}, nil
	}

	var convs []Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if convs == nil {
		convs = []Conversation{}
	}
	for i := range convs {
		if convs[i].Messages == nil {
			convs[i].Messages = []Message{}
		}
	}
	return convs, nil
}

func (s *ConversationStore) save(ctx context.Context, convs []Conversation) error {
	for i := range convs {
		convs[i].Messages = withoutLoading(convs[i].Messages)
	}
	data, err := json.Marshal(convs)
	if err != nil {
		return fmt.Errorf("encoding conversations: %w", err)
	}
	if err := s.blob.Save(ctx, data); err != nil {
		return fmt.Errorf("saving conversations: %w", err)
	}
	return nil
}

// evict drops the least recently modified conversations beyond the configured cap.
// keepID is never dropped.
func (s *ConversationStore) evict(convs []Conversation, keepID string) []Conversation {
	if s.maxConversations <= 0 || len(convs) <= s.maxConversations {
		return convs
	}

	byAge := RecentFirst(convs)
	drop := make(map[string]bool)
	for i := len(byAge) - 1; i >= 0 && len(convs)-len(drop) > s.maxConversations; i-- {
		if byAge[i].ID != keepID {
			drop[byAge[i].ID] = true
		}
	}

	kept := make([]Conversation, 0, s.maxConversations)
	for _, c := range convs {
		if !drop[c.ID] {
			kept = append(kept, c)
		}
	}
	s.logger.Info("evicted conversations", "count", len(drop), "max", s.maxConversations)
	return kept
}

func upsert(convs []Conversation, conv Conversation) []Conversation {
	for i := range convs {
		if convs[i].ID == conv.ID {
			convs[i] = conv
			return convs
		}
	}
	return append([]Conversation{conv}, convs...)
}

func withoutLoading(msgs []Message) []Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if !m.IsLoading {
			out = append(out, m)
		}
	}
	if out == nil {
		out = []Message{}
	}
	return out
}
