package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Local is the unlimited local tier. It stores one consolidated snapshot
// and serves as the durability floor when the synchronized tier fails.
type Local interface {
	WriteSnapshot(ctx context.Context, snap Snapshot) error
	// ReadSnapshot returns ok=false when no snapshot has been written yet.
	ReadSnapshot(ctx context.Context) (Snapshot, bool, error)
}

// File implements Local backed by a single JSON file.
type File struct {
	path string
}

// Verify *File satisfies Local at compile time.
var _ Local = (*File)(nil)

// NewFile creates a file-backed local tier. The parent directory is
// created if missing.
func NewFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("tier: resolve snapshot path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("tier: create snapshot dir: %w", err)
	}
	return &File{path: abs}, nil
}

// WriteSnapshot atomically writes the snapshot: tmp file → fsync → rename.
func (f *File) WriteSnapshot(_ context.Context, snap Snapshot) error {
	if snap.Chats == nil {
		snap.Chats = []SnapshotEntry{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("tier: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".fanout-snapshot-*")
	if err != nil {
		return fmt.Errorf("tier: create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tier: write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tier: sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tier: close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("tier: rename snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot reads and decodes the consolidated snapshot.
func (f *File) ReadSnapshot(_ context.Context) (Snapshot, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("tier: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("tier: decode snapshot: %w", err)
	}
	return snap, true, nil
}
