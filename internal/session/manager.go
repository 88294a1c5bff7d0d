// ABOUTME: Manager hands out one session controller per authenticated user
// ABOUTME: Each controller gets its own blob key and shares the event broadcaster

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/store"
)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Backend          store.Backend
	Generator        llm.Generator
	KeyPrefix        string // blob key is "<KeyPrefix>:<user id>"
	MaxConversations int
	Recorder         Recorder
	Logger           *slog.Logger
}

// Manager owns the per-user controllers and their broadcaster
type Manager struct {
	mu          sync.Mutex
	cfg         ManagerConfig
	broadcaster *Broadcaster
	controllers map[string]*Controller
	logger      *slog.Logger
}

// NewManager creates a manager
func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "conversations"
	}
	return &Manager{
		cfg:         cfg,
		broadcaster: NewBroadcaster(logger),
		controllers: make(map[string]*Controller),
		logger:      logger.With("component", "session-manager"),
	}
}

// BlobKey returns the storage key for userID
func (m *Manager) BlobKey(userID string) string {
	return m.cfg.KeyPrefix + ":" + userID
}

// For returns the opened controller for userID, creating it on first use
func (m *Manager) For(ctx context.Context, userID string) (*Controller, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	m.mu.Lock()
	ctrl, ok := m.controllers[userID]
	if !ok {
		key := m.BlobKey(userID)
		convs := store.NewConversationStore(m.cfg.Backend.Blob(key),
			store.WithMaxConversations(m.cfg.MaxConversations),
			store.WithLogger(m.logger.With("user_id", userID)))

		opts := []ControllerOption{
			WithPublisher(userID, m.broadcaster),
			WithControllerLogger(m.logger.With("user_id", userID)),
		}
		if m.cfg.Recorder != nil {
			opts = append(opts, WithRecorder(m.cfg.Recorder))
		}
		ctrl = NewController(convs, m.cfg.Generator, opts...)
		m.controllers[userID] = ctrl
		m.logger.Debug("created session", "user_id", userID, "key", key)
	}
	m.mu.Unlock()

	if _, err := ctrl.Open(ctx); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return ctrl, nil
}

// Subscribe streams the session events of userID until ctx is cancelled
func (m *Manager) Subscribe(ctx context.Context, userID string) (<-chan Event, string) {
	return m.broadcaster.Subscribe(ctx, userID)
}

// ActiveSessions returns the number of controllers created so far
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}

// Close shuts down the broadcaster. Controllers stay usable but stop publishing
// to already-closed subscribers.
func (m *Manager) Close() {
	m.broadcaster.Close()
}
