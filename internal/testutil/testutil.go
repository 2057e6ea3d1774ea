// Package testutil provides shared test helpers for setting up persistence
// tiers and loggers.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/fanout/internal/tier"
)

// Logger returns a logger that discards all output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestSynced creates a temporary SQLite synchronized tier that is
// automatically cleaned up.
func TestSynced(t *testing.T, recordLimit int) *tier.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "fanout-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := tier.OpenSQLite(dbFile.Name(), recordLimit)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestLocal creates a file-backed local tier under a temporary directory.
func TestLocal(t *testing.T) *tier.File {
	t.Helper()
	f, err := tier.NewFile(t.TempDir() + "/snapshot.json")
	if err != nil {
		t.Fatal(err)
	}
	return f
}

// FixedClock implements ident.Clock with a controllable current time.
type FixedClock struct {
	Current time.Time
}

// Now returns the configured time.
func (c *FixedClock) Now() time.Time { return c.Current }

// Advance moves the clock forward by d and returns the new time.
func (c *FixedClock) Advance(d time.Duration) time.Time {
	c.Current = c.Current.Add(d)
	return c.Current
}
