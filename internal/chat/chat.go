// Package chat implements the in-memory chat entity store: a map of chat
// threads keyed by id, an active-chat pointer, and the CRUD operations the
// command surfaces are built on.
package chat

import (
	"context"
	"time"
)

// Message is a single entry in a chat. Messages are stored in append order;
// append order is the durable ordering used for display and export.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Edited    bool      `json:"edited"`
}

// Chat is a titled, ordered conversation container.
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// Clone returns a deep copy of the chat.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// View is a point-in-time copy of the store handed to the persistence
// layer. It shares no memory with the live entity graph.
type View struct {
	ActiveChatID string
	Chats        []Chat
}

// Flusher makes a store view durable. Every mutating store operation calls
// Flush before returning so in-memory and persisted state never diverge
// for longer than one call.
type Flusher interface {
	Flush(ctx context.Context, view View) error
}

// FlusherFunc adapts a function to the Flusher interface.
type FlusherFunc func(ctx context.Context, view View) error

// Flush implements Flusher.
func (f FlusherFunc) Flush(ctx context.Context, view View) error {
	return f(ctx, view)
}
