package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/fanout/internal/apperr"
	"github.com/starford/fanout/internal/chat"
	"github.com/starford/fanout/internal/checksum"
	"github.com/starford/fanout/internal/ident"
)

// Manager makes every chat store mutation durable across both tiers and
// recovers full state at startup.
//
// Flush writes each chat as an individual record to the synchronized tier
// (skipping records whose content is unchanged since the last successful
// write) and then writes one consolidated snapshot to the local tier as an
// unconditional backup. Individual synchronized-tier failures are logged
// and never abort the batch; the local tier is the durability floor.
type Manager struct {
	mu        sync.Mutex
	synced    Synced
	local     Local
	clock     ident.Clock
	logger    *slog.Logger
	checksums map[string]string // chat id -> digest of last record written to the synced tier
}

// NewManager creates a tier manager over the two backing tiers.
func NewManager(synced Synced, local Local, clock ident.Clock, logger *slog.Logger) *Manager {
	if clock == nil {
		clock = ident.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		synced:    synced,
		local:     local,
		clock:     clock,
		logger:    logger,
		checksums: make(map[string]string),
	}
}

// Flush implements chat.Flusher.
//
// A quota rejection from the synchronized tier is downgraded to a warning:
// the record survives in the local snapshot. Any other synchronized-tier
// failure is reported as an error, but only after the local backup write
// has completed.
func (m *Manager) Flush(ctx context.Context, view chat.View) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var syncErr error
	seen := make(map[string]struct{}, len(view.Chats))

	for _, c := range view.Chats {
		rec := FromChat(c)
		seen[rec.ID] = struct{}{}

		data, err := json.Marshal(rec)
		if err != nil {
			m.logger.Warn("tier: marshal chat failed",
				slog.String("chat_id", rec.ID), slog.String("error", err.Error()))
			continue
		}
		digest := checksum.Sum(data)
		if m.checksums[rec.ID] == digest {
			continue
		}

		switch err := m.synced.PutChat(ctx, rec); {
		case errors.Is(err, apperr.ErrQuotaExceeded):
			m.logger.Warn("tier: synced write over quota, relying on local backup",
				slog.String("chat_id", rec.ID), slog.String("error", err.Error()))
		case err != nil:
			m.logger.Warn("tier: synced write failed",
				slog.String("chat_id", rec.ID), slog.String("error", err.Error()))
			syncErr = err
		default:
			m.checksums[rec.ID] = digest
		}
	}

	// Remove records for chats deleted since the last flush.
	for id := range m.checksums {
		if _, ok := seen[id]; ok {
			continue
		}
		if err := m.synced.DeleteChat(ctx, id); err != nil {
			m.logger.Warn("tier: synced delete failed",
				slog.String("chat_id", id), slog.String("error", err.Error()))
			syncErr = err
			continue
		}
		delete(m.checksums, id)
	}

	now := m.clock.Now()
	if err := m.synced.PutMeta(ctx, Meta{ActiveChatID: view.ActiveChatID, LastUpdated: now}); err != nil {
		m.logger.Warn("tier: synced meta write failed", slog.String("error", err.Error()))
		syncErr = err
	}

	// The local backup is attempted regardless of the synced-tier outcome.
	if err := m.local.WriteSnapshot(ctx, buildSnapshot(view, now)); err != nil {
		return fmt.Errorf("tier: local backup: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("tier: synced tier flush: %w", syncErr)
	}
	return nil
}

// Load recovers the full store state. The synchronized tier is
// authoritative unless it yields zero chats, in which case the consolidated
// local snapshot is used. When both tiers hold chats, the copy with the
// newer recency marker wins; ties prefer the synchronized tier.
func (m *Manager) Load(ctx context.Context) (string, []chat.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, recs, syncErr := m.synced.Load(ctx)
	if syncErr != nil {
		m.logger.Warn("tier: synced load failed, falling back to local snapshot",
			slog.String("error", syncErr.Error()))
	}

	snap, hasSnap, localErr := m.local.ReadSnapshot(ctx)
	if localErr != nil {
		m.logger.Warn("tier: local snapshot read failed", slog.String("error", localErr.Error()))
		hasSnap = false
	}

	// Track what the synced tier currently holds so the next flush only
	// rewrites records that actually changed.
	m.checksums = make(map[string]string, len(recs))
	for _, rec := range recs {
		if data, err := json.Marshal(rec); err == nil {
			m.checksums[rec.ID] = checksum.Sum(data)
		}
	}

	useLocal := false
	switch {
	case syncErr != nil || len(recs) == 0:
		useLocal = hasSnap
	case hasSnap && len(snap.Chats) > 0 && snap.LastUpdated.After(meta.LastUpdated):
		useLocal = true
	}

	if useLocal {
		chats := make([]chat.Chat, 0, len(snap.Chats))
		for _, e := range snap.Chats {
			chats = append(chats, e.Chat.ToChat())
		}
		return snap.ActiveChatID, chats, nil
	}

	chats := make([]chat.Chat, 0, len(recs))
	for _, rec := range recs {
		chats = append(chats, rec.ToChat())
	}
	return meta.ActiveChatID, chats, nil
}

// buildSnapshot assembles the consolidated backup with entries in a
// deterministic order, so an unchanged store snapshots to identical bytes
// modulo the recency marker.
func buildSnapshot(view chat.View, now time.Time) Snapshot {
	entries := make([]SnapshotEntry, 0, len(view.Chats))
	for _, c := range view.Chats {
		entries = append(entries, SnapshotEntry{ID: c.ID, Chat: FromChat(c)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return Snapshot{
		ActiveChatID: view.ActiveChatID,
		Chats:        entries,
		LastUpdated:  now,
	}
}
