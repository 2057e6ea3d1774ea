// Package apperr defines sentinel errors shared across the application layers.
package apperr

import "errors"

var (
	// ErrNotFound means a chat, message, or target reference did not resolve.
	ErrNotFound = errors.New("not found")

	// ErrTierUnavailable means a storage tier could not be reached. Callers
	// recover by falling back to the other tier; it is never fatal.
	ErrTierUnavailable = errors.New("storage tier unavailable")

	// ErrQuotaExceeded means the synchronized tier rejected a write because a
	// record exceeds its per-item size ceiling.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrSurfaceNotFound means no live surface exists for a target that is
	// marked engaged. This is a consistency violation and must be reported.
	ErrSurfaceNotFound = errors.New("surface not found")

	// ErrAdapterFailed means a delivery adapter could not place the prompt
	// into the target's input surface.
	ErrAdapterFailed = errors.New("delivery adapter failed")
)
