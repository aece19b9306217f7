// Package conversation owns the ordered message history of a chat and keeps
// it mirrored to local storage.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/csassistant/internal/domain"
	"github.com/xiaot623/csassistant/internal/repository"
)

const (
	// Greeting seeds a fresh conversation.
	Greeting = "Hello! I'm your Computer Science Assistant. I can help you with any CS topic including algorithms, databases, networking, AI, and much more. What would you like to learn about today?"
	// ClearedGreeting seeds a conversation after Clear.
	ClearedGreeting = "Chat cleared! Ready to help with any Computer Science topic. What would you like to learn?"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotUserMessage  = errors.New("only user messages can be edited")
	ErrIDOutOfOrder    = errors.New("message id out of order")
	ErrInvalidRole     = errors.New("invalid message role")
)

// EditResult describes the outcome of an edit.
type EditResult struct {
	Message domain.Message
	// Truncated is true when the reply to the edited message (and anything
	// after it) was removed so it can be regenerated.
	Truncated bool
	Removed   int
}

// Store is the conversation history of one chat. Safe for concurrent use.
type Store struct {
	storage repository.Storage
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	messages []domain.Message
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a store holding only the seed greeting. Call Initialize to
// load a persisted snapshot.
func New(storage repository.Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.messages = []domain.Message{s.seed(Greeting)}
	return s
}

// Initialize loads the persisted snapshot. Missing, unreadable or corrupt
// snapshots, and snapshots holding only a greeting, leave the seed in place.
func (s *Store) Initialize(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, found, err := s.storage.GetItem(ctx, repository.KeyChatHistory)
	if err != nil {
		s.logger.Warn("snapshot_unreadable", zap.Error(err))
		return
	}
	if !found {
		return
	}
	messages, err := Decode(raw)
	if err != nil {
		s.logger.Warn("snapshot_corrupt", zap.Error(err))
		return
	}
	if len(messages) <= 1 {
		return
	}
	s.messages = messages
	s.logger.Debug("snapshot_loaded", zap.Int("messages", len(messages)))
}

// Append adds msg to the end of the conversation and persists it. A zero ID
// is replaced with the next id; a zero CreatedAt with the current time.
func (s *Store) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
		return domain.Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastID()
	if msg.ID == 0 {
		msg.ID = last + 1
	} else if msg.ID <= last {
		return domain.Message{}, fmt.Errorf("%w: %d after %d", ErrIDOutOfOrder, msg.ID, last)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	s.messages = append(s.messages, msg)
	if err := s.persist(ctx); err != nil {
		s.messages = s.messages[:len(s.messages)-1]
		return domain.Message{}, err
	}
	return msg, nil
}

// EditUserMessage replaces the text of a user message. When the message is
// the latest user message and is directly followed by a reply, everything
// after it is removed.
func (s *Store) EditUserMessage(ctx context.Context, id int64, text string) (EditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return EditResult{}, fmt.Errorf("%w: %d", ErrMessageNotFound, id)
	}
	if !s.messages[idx].IsUser() {
		return EditResult{}, fmt.Errorf("%w: %d", ErrNotUserMessage, id)
	}

	prev := s.copyMessages()

	editedAt := s.now()
	s.messages[idx].Text = text
	s.messages[idx].EditedAt = &editedAt

	result := EditResult{Message: s.messages[idx]}
	if s.isLatestUser(idx) && idx+1 < len(s.messages) && s.messages[idx+1].Role == domain.RoleAssistant {
		result.Removed = len(s.messages) - idx - 1
		result.Truncated = true
		s.messages = s.messages[:idx+1]
	}

	if err := s.persist(ctx); err != nil {
		s.messages = prev
		return EditResult{}, err
	}
	return result, nil
}

// Clear resets the conversation to the cleared greeting and removes the
// persisted snapshot.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.messages
	s.messages = []domain.Message{s.seed(ClearedGreeting)}
	if err := s.storage.RemoveItem(ctx, repository.KeyChatHistory); err != nil {
		s.messages = prev
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the conversation in order.
func (s *Store) Snapshot() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyMessages()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Last returns the most recent message.
func (s *Store) Last() domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[len(s.messages)-1]
}

// Get returns the message with id.
func (s *Store) Get(id int64) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Message{}, false
	}
	return s.messages[idx], true
}

// LastUserMessage returns the most recent user message.
func (s *Store) LastUserMessage() (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].IsUser() {
			return s.messages[i], true
		}
	}
	return domain.Message{}, false
}

func (s *Store) seed(text string) domain.Message {
	return domain.Message{
		ID:        1,
		Role:      domain.RoleAssistant,
		Text:      text,
		CreatedAt: s.now(),
	}
}

func (s *Store) persist(ctx context.Context) error {
	raw, err := Encode(s.messages)
	if err != nil {
		return err
	}
	if err := s.storage.SetItem(ctx, repository.KeyChatHistory, raw); err != nil {
		return fmt.Errorf("failed to persist conversation: %w", err)
	}
	return nil
}

func (s *Store) lastID() int64 {
	if len(s.messages) == 0 {
		return 0
	}
	return s.messages[len(s.messages)-1].ID
}

func (s *Store) indexOf(id int64) int {
	for i, m := range s.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) isLatestUser(idx int) bool {
	for _, m := range s.messages[idx+1:] {
		if m.IsUser() {
			return false
		}
	}
	return true
}

func (s *Store) copyMessages() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
