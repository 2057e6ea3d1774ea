package target

import "context"

// Surface is one runtime-detectable live instance a target can receive a
// dispatch through.
type Surface struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// EventKind classifies an external surface change.
type EventKind string

const (
	// SurfaceClosed means a live surface disappeared.
	SurfaceClosed EventKind = "closed"
	// SurfaceNavigated means a live surface finished navigating to a new
	// location.
	SurfaceNavigated EventKind = "navigated"
)

// Event is an external surface change. Every event must trigger a full
// re-derivation of engaged state.
type Event struct {
	Kind    EventKind
	Surface Surface
}

// Host manages live surfaces. The registry derives all engaged state from
// the host's surface list; it never stores engagement independently.
type Host interface {
	// List returns every live surface.
	List(ctx context.Context) ([]Surface, error)
	// Open creates a new surface at the given locator.
	Open(ctx context.Context, locator string) (Surface, error)
	// Close tears down a surface. Closing an unknown surface is a no-op.
	Close(ctx context.Context, surfaceID string) error
	// Events streams external surface changes.
	Events() <-chan Event
}
