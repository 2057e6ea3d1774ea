// Package tier implements the two-tier persistence layer: a synchronized,
// quota-limited tier holding one record per chat, and a local tier holding
// one consolidated snapshot as the unconditional backup.
package tier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/fanout/internal/chat"
)

// MessageRecord is the persisted shape of a single message.
type MessageRecord struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Edited    bool      `json:"edited"`
}

// Record is the persisted shape of one chat. The synchronized tier stores
// each chat as an individual record to respect its per-item size ceiling.
type Record struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Messages     []MessageRecord `json:"messages"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastModified time.Time       `json:"lastModified"`
}

// Meta is the persisted store metadata.
type Meta struct {
	ActiveChatID string    `json:"activeChatId"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Snapshot is the consolidated local-tier backup: metadata plus every chat.
type Snapshot struct {
	ActiveChatID string          `json:"activeChatId"`
	Chats        []SnapshotEntry `json:"chats"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// SnapshotEntry is one chat in the consolidated snapshot. It serializes as
// a two-element array [id, record], the map-entry shape the snapshot format
// uses on the wire.
type SnapshotEntry struct {
	ID   string
	Chat Record
}

// MarshalJSON implements json.Marshaler.
func (e SnapshotEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.ID, e.Chat})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *SnapshotEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("tier: snapshot entry: %w", err)
	}
	if err := json.Unmarshal(pair[0], &e.ID); err != nil {
		return fmt.Errorf("tier: snapshot entry id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.Chat); err != nil {
		return fmt.Errorf("tier: snapshot entry record: %w", err)
	}
	return nil
}

// FromChat converts an entity to its persisted shape.
func FromChat(c chat.Chat) Record {
	msgs := make([]MessageRecord, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = MessageRecord(m)
	}
	return Record{
		ID:           c.ID,
		Title:        c.Title,
		Messages:     msgs,
		CreatedAt:    c.CreatedAt,
		LastModified: c.LastModified,
	}
}

// ToChat converts a persisted record back to the entity shape.
func (r Record) ToChat() chat.Chat {
	msgs := make([]chat.Message, len(r.Messages))
	for i, m := range r.Messages {
		msgs[i] = chat.Message(m)
	}
	return chat.Chat{
		ID:           r.ID,
		Title:        r.Title,
		Messages:     msgs,
		CreatedAt:    r.CreatedAt,
		LastModified: r.LastModified,
	}
}
