// ABOUTME: Session controller owning the current conversation and the send lifecycle
// ABOUTME: Optimistic user append, transient loading placeholder, reply keyed by conversation id

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/chatdeck/internal/codeblock"
	"github.com/2389/chatdeck/internal/llm"
	"github.com/2389/chatdeck/internal/store"
	"github.com/2389/chatdeck/internal/upstream"
)

var (
	// ErrEmptyMessage is returned when the message text is blank
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned when the current conversation already awaits a reply
	ErrBusy = errors.New("a response is already pending for this conversation")

	// ErrNoConversation is returned when no conversation is selected
	ErrNoConversation = errors.New("no current conversation")
)

const (
	failureTitle   = "Error"
	failureMessage = "Failed to generate a response. Please try again."
	billingTitle   = "Usage limit reached"
	billingMessage = "The AI service has reached its billing limit. Please try again later."
	deletedTitle   = "Conversation deleted"
	deletedMessage = "The conversation has been permanently removed."
)

// Publisher receives session events for a user key
type Publisher interface {
	Publish(userKey string, event Event)
}

// Recorder receives a measurement for every settled send
type Recorder interface {
	GenerationFinished(result string, kind upstream.Kind, elapsed time.Duration)
}

// Summary is a conversation list entry
type Summary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Timestamp    int64  `json:"timestamp"`
	MessageCount int    `json:"messageCount"`
}

// Snapshot is the renderable state of a session
type Snapshot struct {
	Conversations []Summary           `json:"conversations"` // most recently active first
	Current       *store.Conversation `json:"current"`       // includes the loading placeholder, if any
	Processing    bool                `json:"processing"`
}

// Outcome describes how a send settled
type Outcome struct {
	ConversationID string         `json:"conversationId"`
	UserMessage    store.Message  `json:"userMessage"`
	Reply          *store.Message `json:"reply,omitempty"`
	Err            error          `json:"-"`
	// Discarded is set when the reply arrived after its conversation was deleted
	Discarded bool `json:"discarded,omitempty"`
}

// Succeeded reports whether an assistant reply was stored
func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Reply != nil
}

// Controller mediates between UI actions, the conversation store and the
// response generator. All in-memory view changes replace the current
// conversation wholesale with a store result or a placeholder composition.
type Controller struct {
	mu        sync.Mutex
	key       string
	convs     *store.ConversationStore
	gen       llm.Generator
	publisher Publisher
	recorder  Recorder
	current   *store.Conversation
	pending   map[string]store.Message // conversation id -> loading placeholder
	now       func() time.Time
	logger    *slog.Logger
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithPublisher routes session events to p under key
func WithPublisher(key string, p Publisher) ControllerOption {
	return func(c *Controller) {
		c.key = key
		c.publisher = p
	}
}

// WithRecorder records send measurements
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithControllerLogger sets the logger
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithControllerClock overrides the time source for placeholders and timings
func WithControllerClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController creates a controller with no current conversation. Call Open
// before sending.
func NewController(convs *store.ConversationStore, gen llm.Generator, opts ...ControllerOption) *Controller {
	c := &Controller{
		convs:   convs,
		gen:     gen,
		pending: make(map[string]store.Message),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "session")
	return c
}

// Open selects the first stored conversation, or creates one when the store
// is empty. It is a no-op when a conversation is already current.
func (c *Controller) Open(ctx context.Context) (store.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return c.current.Clone(), nil
	}

	all, err := c.convs.ListAll(ctx)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("listing conversations: %w", err)
	}
	if len(all) > 0 {
		c.setCurrent(all[0])
	} else {
		created, err := c.convs.Create(ctx)
		if err != nil {
			return store.Conversation{}, fmt.Errorf("creating conversation: %w", err)
		}
		c.setCurrent(created)
	}
	c.publishViewLocked(ctx)
	return c.current.Clone(), nil
}

// Current returns the current conversation with any placeholder composed in,
// or nil when nothing is selected.
func (c *Controller) Current() *store.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.composedLocked()
}

// View returns a snapshot of the conversation list and the current conversation
func (c *Controller) View(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(ctx)
}

// Send appends text as a user message to the current conversation, waits for
// the generator and stores the reply. Blank text is rejected without touching
// the store or the generator. Generator failures do not return an error; they
// are reported in Outcome.Err and as a notification.
func (c *Controller) Send(ctx context.Context, text string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, ErrEmptyMessage
	}

	// UserMessageAppended
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return Outcome{}, ErrNoConversation
	}
	convID := c.current.ID
	if _, busy := c.pending[convID]; busy {
		c.mu.Unlock()
		return Outcome{}, ErrBusy
	}

	before := c.current.Clone()
	withUser, err := c.convs.Append(ctx, before, text, store.RoleUser, false)
	if err != nil {
		c.mu.Unlock()
		return Outcome{}, fmt.Errorf("appending user message: %w", err)
	}
	c.setCurrent(withUser)
	userMsg := withUser.Messages[len(withUser.Messages)-1]

	// AwaitingResponse
	c.pending[convID] = store.Message{
		ID:        "pending-" + uuid.NewString(),
		Role:      store.RoleAssistant,
		Timestamp: c.now().UnixMilli(),
		IsLoading: true,
	}
	c.publishViewLocked(ctx)
	c.mu.Unlock()

	c.logger.Debug("awaiting response", "conversation_id", convID)
	start := c.now()
	reply, genErr := c.gen.Generate(ctx, text, before.Messages)
	elapsed := c.now().Sub(start)

	// Settled
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, convID)

	out := Outcome{ConversationID: convID, UserMessage: userMsg}

	if genErr != nil {
		ue := upstream.Wrap(genErr, failureMessage)
		out.Err = ue
		c.record("failure", ue.Kind, elapsed)
		c.logger.Warn("response generation failed",
			"conversation_id", convID,
			"kind", ue.Kind,
			"error", genErr)
		c.publishViewLocked(ctx)
		c.notifyLocked(failureNotification(ue))
		return out, nil
	}

	// The reply belongs to convID even if the user moved on; merge it into the
	// freshest stored copy, or drop it if that conversation is gone.
	fresh, err := c.convs.Get(ctx, convID)
	if errors.Is(err, store.ErrNotFound) {
		out.Discarded = true
		c.record("discarded", "", elapsed)
		c.logger.Info("discarding reply for deleted conversation", "conversation_id", convID)
		c.publishViewLocked(ctx)
		return out, nil
	}
	if err != nil {
		c.publishViewLocked(ctx)
		return out, fmt.Errorf("reloading conversation: %w", err)
	}

	updated, err := c.convs.Append(ctx, fresh, reply, store.RoleAssistant, codeblock.Contains(reply))
	if err != nil {
		c.publishViewLocked(ctx)
		return out, fmt.Errorf("appending assistant message: %w", err)
	}
	if c.current != nil && c.current.ID == convID {
		c.setCurrent(updated)
	}
	replyMsg := updated.Messages[len(updated.Messages)-1]
	out.Reply = &replyMsg

	c.record("success", "", elapsed)
	c.logger.Debug("response stored",
		"conversation_id", convID,
		"is_code", replyMsg.IsCode,
		"elapsed", elapsed)
	c.publishViewLocked(ctx)
	return out, nil
}

// SelectConversation makes the stored conversation with id current. When no
// such conversation exists the current conversation becomes nil and
// store.ErrNotFound is returned; callers fall back to Open or StartNew.
func (c *Controller) SelectConversation(ctx context.Context, id string) (store.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, err := c.convs.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.current = nil
		c.publishViewLocked(ctx)
		return store.Conversation{}, err
	}
	if err != nil {
		return store.Conversation{}, fmt.Errorf("loading conversation: %w", err)
	}
	c.setCurrent(conv)
	c.publishViewLocked(ctx)
	return conv.Clone(), nil
}

// DeleteConversation removes id from the store. If it was current, the most
// recently active remaining conversation becomes current, or a new empty one
// is created.
func (c *Controller) DeleteConversation(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.convs.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	if c.current == nil || c.current.ID == id {
		remaining, err := c.convs.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("listing conversations: %w", err)
		}
		if len(remaining) > 0 {
			c.setCurrent(store.RecentFirst(remaining)[0])
		} else {
			created, err := c.convs.Create(ctx)
			if err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
			c.setCurrent(created)
		}
	}

	c.logger.Info("conversation deleted", "conversation_id", id)
	c.publishViewLocked(ctx)
	c.notifyLocked(Notification{Title: deletedTitle, Message: deletedMessage})
	return nil
}

// StartNew creates an empty conversation and makes it current
func (c *Controller) StartNew(ctx context.Context) (store.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	created, err := c.convs.Create(ctx)
	if err != nil {
		return store.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	c.setCurrent(created)
	c.publishViewLocked(ctx)
	return created.Clone(), nil
}

// ListConversations returns the stored conversations, most recently active first
func (c *Controller) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	all, err := c.convs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return store.RecentFirst(all), nil
}

// Pending reports whether conversation id is awaiting a reply
func (c *Controller) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

func (c *Controller) setCurrent(conv store.Conversation) {
	cp := conv.Clone()
	c.current = &cp
}

// composedLocked returns a copy of the current conversation with the pending
// placeholder, if any, appended as the last message.
func (c *Controller) composedLocked() *store.Conversation {
	if c.current == nil {
		return nil
	}
	view := c.current.Clone()
	if placeholder, ok := c.pending[view.ID]; ok {
		view.Messages = append(view.Messages, placeholder)
	}
	return &view
}

func (c *Controller) snapshotLocked(ctx context.Context) (Snapshot, error) {
	all, err := c.convs.ListAll(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("listing conversations: %w", err)
	}
	summaries := make([]Summary, 0, len(all))
	for _, conv := range store.RecentFirst(all) {
		summaries = append(summaries, Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			Timestamp:    conv.Timestamp,
			MessageCount: len(conv.Messages),
		})
	}

	snap := Snapshot{Conversations: summaries, Current: c.composedLocked()}
	if snap.Current != nil {
		_, snap.Processing = c.pending[snap.Current.ID]
	}
	return snap, nil
}

func (c *Controller) publishViewLocked(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	snap, err := c.snapshotLocked(ctx)
	if err != nil {
		c.logger.Warn("failed to build view for subscribers", "error", err)
		return
	}
	c.publisher.Publish(c.key, Event{Type: EventView, View: &snap})
}

func (c *Controller) notifyLocked(n Notification) {
	if c.publisher == nil {
		return
	}
	c.publisher.Publish(c.key, Event{Type: EventNotification, Notification: &n})
}

func (c *Controller) record(result string, kind upstream.Kind, elapsed time.Duration) {
	if c.recorder != nil {
		c.recorder.GenerationFinished(result, kind, elapsed)
	}
}

// failureNotification maps a normalized error to the toast shown to the user.
// Billing limits get their own wording; everything else, timeouts included,
// shares the generic message.
func failureNotification(err *upstream.Error) Notification {
	if err.Kind == upstream.KindBilling {
		return Notification{Title: billingTitle, Message: billingMessage, Variant: "destructive", Kind: string(err.Kind)}
	}
	return Notification{Title: failureTitle, Message: failureMessage, Variant: "destructive", Kind: string(err.Kind)}
}

// FailureNotification exposes the toast for err to callers outside a send
func FailureNotification(err error) Notification {
	return failureNotification(upstream.Wrap(err, failureMessage))
}
