// Package ident provides identifier generation and a mockable clock used
// for recency markers.
package ident

import (
	"time"

	"github.com/google/uuid"
)

// New returns a fresh opaque identifier. Identifiers are unique across
// chats, messages, and surfaces; callers treat them as opaque strings.
func New() string {
	return uuid.NewString()
}

// Clock abstracts time.Now so tests can pin timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall-clock time in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
