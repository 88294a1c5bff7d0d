// ABOUTME: In-memory fan-out of session events to every open client of a user
// ABOUTME: Subscribers register per user key and receive view and notification events

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// EventType distinguishes session events
type EventType string

const (
	EventView         EventType = "view"
	EventNotification EventType = "notification"
)

// Event is published at every session transition
type Event struct {
	Type         EventType     `json:"type"`
	View         *Snapshot     `json:"view,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Notification is a user-visible toast
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Variant string `json:"variant,omitempty"` // "destructive" for failures
	Kind    string `json:"kind,omitempty"`    // upstream error kind, if any
}

// Broadcaster provides in-memory pub/sub for session events.
// Subscribers register for a user key and receive events as they happen,
// so every tab of the same user sees the same session.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // userKey -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given user key.
// The subscription is removed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, userKey string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userKey]; !ok {
		b.subscribers[userKey] = make(map[string]chan Event)
	}
	b.subscribers[userKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_key", userKey, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userKey, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of userKey.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(userKey string, event Event) {
	b.mu.RLock()
	subs, ok := b.subscribers[userKey]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Sending under the read lock keeps Unsubscribe from closing a channel mid-send
	for subID, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"user_key", userKey,
				"sub_id", subID,
				"type", event.Type)
		}
	}
	b.mu.RUnlock()
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userKey]
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
		delete(b.subscribers, userKey)
	}

	b.logger.Debug("subscriber removed", "user_key", userKey, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for userKey
func (b *Broadcaster) SubscriberCount(userKey string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userKey])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
