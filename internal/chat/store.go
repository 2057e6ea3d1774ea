package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/starford/fanout/internal/apperr"
	"github.com/starford/fanout/internal/ident"
)

// Store owns the authoritative in-memory chat graph for a session.
// All mutations are serialized by an internal mutex and flushed through the
// persistence layer before the mutating call returns.
type Store struct {
	mu      sync.Mutex
	chats   map[string]*Chat
	active  string
	clock   ident.Clock
	flusher Flusher
	logger  *slog.Logger
}

// NewStore creates an empty store. flusher may be nil (no persistence,
// used by some tests); clock defaults to the system clock.
func NewStore(flusher Flusher, clock ident.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = ident.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		chats:   make(map[string]*Chat),
		clock:   clock,
		flusher: flusher,
		logger:  logger,
	}
}

// Seed replaces the store contents with previously persisted state.
// It does not flush; it is the load path, not a mutation.
func (s *Store) Seed(activeChatID string, chats []Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = make(map[string]*Chat, len(chats))
	for _, c := range chats {
		cc := c.Clone()
		s.chats[cc.ID] = &cc
	}
	s.active = ""
	if _, ok := s.chats[activeChatID]; ok {
		s.active = activeChatID
	}
}

// CreateChat allocates a fresh chat and makes it the active chat.
// An empty title defaults to "Chat N" where N is one more than the current
// chat count. Always succeeds.
func (s *Store) CreateChat(ctx context.Context, title string) Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.createLocked(title)
	s.flushLocked(ctx)
	return c.Clone()
}

func (s *Store) createLocked(title string) *Chat {
	if title == "" {
		title = fmt.Sprintf("Chat %d", len(s.chats)+1)
	}
	now := s.clock.Now()
	c := &Chat{
		ID:           ident.New(),
		Title:        title,
		Messages:     []Message{},
		CreatedAt:    now,
		LastModified: now,
	}
	s.chats[c.ID] = c
	s.active = c.ID
	return c
}

// AddMessage appends a message to the given chat. An empty chatID is the
// one allowed implicit-creation path: a fresh chat is created first and the
// message lands there. A non-empty chatID that does not resolve fails with
// apperr.ErrNotFound. The owning chat's id is returned alongside the
// message so callers learn the id of an implicitly created chat.
func (s *Store) AddMessage(ctx context.Context, chatID, text string) (Message, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c *Chat
	if chatID == "" {
		c = s.createLocked("")
	} else {
		var ok bool
		c, ok = s.chats[chatID]
		if !ok {
			return Message{}, "", fmt.Errorf("chat: add message to %s: %w", chatID, apperr.ErrNotFound)
		}
	}

	now := s.clock.Now()
	m := Message{
		ID:        ident.New(),
		Text:      text,
		Timestamp: now,
	}
	c.Messages = append(c.Messages, m)
	c.LastModified = now
	s.flushLocked(ctx)
	return m, c.ID, nil
}

// UpdateMessage replaces a message's text and marks it edited.
// Returns false if the chat or message is not found.
func (s *Store) UpdateMessage(ctx context.Context, chatID, messageID, newText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return false
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages[i].Text = newText
			c.Messages[i].Edited = true
			c.LastModified = s.clock.Now()
			s.flushLocked(ctx)
			return true
		}
	}
	return false
}

// DeleteMessage removes a message by identity. Returns false if not found.
func (s *Store) DeleteMessage(ctx context.Context, chatID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return false
	}
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages = append(c.Messages[:i], c.Messages[i+1:]...)
			c.LastModified = s.clock.Now()
			s.flushLocked(ctx)
			return true
		}
	}
	return false
}

// UpdateChatTitle sets a chat's title. No-op if the chat is not found.
func (s *Store) UpdateChatTitle(ctx context.Context, chatID, newTitle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return
	}
	c.Title = newTitle
	c.LastModified = s.clock.Now()
	s.flushLocked(ctx)
}

// DeleteChat removes a chat. If it was the active chat, active becomes
// none. Returns false if the chat is not found.
func (s *Store) DeleteChat(ctx context.Context, chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return false
	}
	delete(s.chats, chatID)
	if s.active == chatID {
		s.active = ""
	}
	s.flushLocked(ctx)
	return true
}

// SwitchChat sets the active chat if it exists. Returns nil and leaves the
// active chat unchanged otherwise.
func (s *Store) SwitchChat(ctx context.Context, chatID string) *Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return nil
	}
	s.active = chatID
	s.flushLocked(ctx)
	out := c.Clone()
	return &out
}

// GetChat returns a copy of the chat, or an ErrNotFound error.
func (s *Store) GetChat(chatID string) (Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return Chat{}, fmt.Errorf("chat: get %s: %w", chatID, apperr.ErrNotFound)
	}
	return c.Clone(), nil
}

// ActiveChatID returns the id of the active chat, or "" if none.
func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// GetAllChatsOrdered returns all chats sorted by lastModified descending.
// Ties break by reverse creation order, then by id, so the order is
// deterministic.
func (s *Store) GetAllChatsOrdered() []Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Snapshot returns a view of the full store for persistence.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() View {
	v := View{ActiveChatID: s.active, Chats: make([]Chat, 0, len(s.chats))}
	for _, c := range s.chats {
		v.Chats = append(v.Chats, c.Clone())
	}
	return v
}

// flushLocked makes the current state durable. Flush failures are logged,
// not propagated: the persistence layer already falls back to the local
// tier, and a tier outage must not fail chat mutations.
func (s *Store) flushLocked(ctx context.Context) {
	if s.flusher == nil {
		return
	}
	if err := s.flusher.Flush(ctx, s.viewLocked()); err != nil {
		s.logger.Warn("chat: flush failed", slog.String("error", err.Error()))
	}
}
