// Package target implements the dispatch target registry: the configured
// targets, their live surfaces, the engaged/disengaged state machine, and
// the tri-state aggregate toggle.
package target

// Target is one configured dispatch destination.
type Target struct {
	// ID is a stable short identifier, e.g. a model name.
	ID string
	// MatchQuery detects an already-open surface for this target.
	MatchQuery string
	// CreationLocator is the address used to create a new surface when
	// none exists.
	CreationLocator string
	// Adapter names the delivery adapter for this target.
	Adapter string
	// Enabled excludes a target from all derivations when false.
	Enabled bool
}

// State is the aggregate engagement state derived from the registry.
type State string

const (
	// AllEngaged means every enabled target has a live surface.
	AllEngaged State = "all_engaged"
	// AllDisengaged means no enabled target has a live surface.
	AllDisengaged State = "all_disengaged"
	// Mixed means some, but not all, enabled targets are engaged.
	Mixed State = "mixed"
)
