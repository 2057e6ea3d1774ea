package tier

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/fanout/internal/apperr"
)

// Synced is the synchronized, quota-limited tier. It holds chat metadata
// and one record per chat, each subject to a fixed per-item size ceiling.
type Synced interface {
	PutChat(ctx context.Context, rec Record) error
	DeleteChat(ctx context.Context, chatID string) error
	PutMeta(ctx context.Context, meta Meta) error
	Load(ctx context.Context) (Meta, []Record, error)
	Close() error
}

const syncedSchemaSQL = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

const metaKey = "store"

// SQLite implements Synced on a SQLite database.
type SQLite struct {
	conn        *sql.DB
	recordLimit int // max serialized record size in bytes, 0 = unlimited
}

// Verify *SQLite satisfies Synced at compile time.
var _ Synced = (*SQLite)(nil)

// OpenSQLite opens (or creates) the synchronized-tier database and applies
// the schema. recordLimit is the per-record byte ceiling; writes above it
// fail with apperr.ErrQuotaExceeded.
func OpenSQLite(dsn string, recordLimit int) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("tier: open synced db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tier: ping synced db: %w", err)
	}
	if _, err := conn.Exec(syncedSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tier: apply schema: %w", err)
	}
	return &SQLite{conn: conn, recordLimit: recordLimit}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// PutChat upserts one chat record, enforcing the per-record size ceiling.
func (s *SQLite) PutChat(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tier: marshal record %s: %w", rec.ID, err)
	}
	if s.recordLimit > 0 && len(data) > s.recordLimit {
		return fmt.Errorf("tier: record %s is %d bytes (limit %d): %w",
			rec.ID, len(data), s.recordLimit, apperr.ErrQuotaExceeded)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO chats (id, record, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			record     = excluded.record,
			updated_at = excluded.updated_at
	`, rec.ID, string(data), rec.LastModified.UTC())
	if err != nil {
		return fmt.Errorf("tier: put chat %s: %w", rec.ID, wrapUnavailable(err))
	}
	return nil
}

// DeleteChat removes a chat record. Deleting an absent record is a no-op.
func (s *SQLite) DeleteChat(ctx context.Context, chatID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("tier: delete chat %s: %w", chatID, wrapUnavailable(err))
	}
	return nil
}

// PutMeta upserts the store metadata record.
func (s *SQLite) PutMeta(ctx context.Context, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("tier: marshal meta: %w", err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO meta (k, v) VALUES (?, ?)
		ON CONFLICT(k) DO UPDATE SET v = excluded.v
	`, metaKey, string(data))
	if err != nil {
		return fmt.Errorf("tier: put meta: %w", wrapUnavailable(err))
	}
	return nil
}

// Load reads the metadata and every chat record. A missing meta row yields
// a zero Meta, not an error.
func (s *SQLite) Load(ctx context.Context) (Meta, []Record, error) {
	var meta Meta
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = ?`, metaKey).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Never initialized.
	case err != nil:
		return Meta{}, nil, fmt.Errorf("tier: load meta: %w", wrapUnavailable(err))
	default:
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return Meta{}, nil, fmt.Errorf("tier: decode meta: %w", err)
		}
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT record FROM chats`)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("tier: load chats: %w", wrapUnavailable(err))
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return Meta{}, nil, fmt.Errorf("tier: scan chat: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return Meta{}, nil, fmt.Errorf("tier: decode chat: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return Meta{}, nil, fmt.Errorf("tier: load chats: %w", wrapUnavailable(err))
	}
	return meta, recs, nil
}

// wrapUnavailable tags driver-level failures as tier unavailability so
// callers can recover through the local tier.
func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrTierUnavailable, err)
}
