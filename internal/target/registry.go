package target

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/fanout/internal/apperr"
)

// Registry owns engaged-state derivation for the configured targets.
//
// Engaged state is transient: it is never persisted and is always
// re-derivable by probing the host's live surfaces. The aggregate tri-state
// is derived on every query, never stored.
type Registry struct {
	mu          sync.Mutex
	host        Host
	targets     []Target
	engaged     map[string]bool
	toggleDelay time.Duration
	logger      *slog.Logger
}

// NewRegistry creates a registry over the given host and target list.
// toggleDelay is the pause between per-target transitions during an
// aggregate toggle.
func NewRegistry(host Host, targets []Target, toggleDelay time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		host:        host,
		targets:     append([]Target(nil), targets...),
		engaged:     make(map[string]bool),
		toggleDelay: toggleDelay,
		logger:      logger,
	}
}

func (r *Registry) matches(t Target, s Surface) bool {
	return t.MatchQuery != "" && strings.Contains(s.Location, t.MatchQuery)
}

func (r *Registry) find(id string) (Target, bool) {
	for _, t := range r.targets {
		if t.ID == id && t.Enabled {
			return t, true
		}
	}
	return Target{}, false
}

// Targets returns the enabled targets in configured order.
func (r *Registry) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, 0, len(r.targets))
	for _, t := range r.targets {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

// SetTargets replaces the target list (config reload). Engaged state for
// targets no longer configured is dropped; callers should follow up with
// Rederive to settle the rest.
func (r *Registry) SetTargets(targets []Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append([]Target(nil), targets...)
	known := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		known[t.ID] = struct{}{}
	}
	for id := range r.engaged {
		if _, ok := known[id]; !ok {
			delete(r.engaged, id)
		}
	}
}

// Engage ensures the target has a live surface: an existing surface
// matching the target's match query confirms engagement, otherwise a new
// surface is created at the creation locator. Engaging an already-engaged
// target is a no-op beyond re-confirming the probe.
func (r *Registry) Engage(ctx context.Context, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engageLocked(ctx, targetID)
}

func (r *Registry) engageLocked(ctx context.Context, targetID string) error {
	t, ok := r.find(targetID)
	if !ok {
		return fmt.Errorf("target: engage %s: %w", targetID, apperr.ErrNotFound)
	}

	surfaces, err := r.host.List(ctx)
	if err != nil {
		return fmt.Errorf("target: engage %s: probe: %w", targetID, err)
	}
	for _, s := range surfaces {
		if r.matches(t, s) {
			r.engaged[t.ID] = true
			return nil
		}
	}

	s, err := r.host.Open(ctx, t.CreationLocator)
	if err != nil {
		r.engaged[t.ID] = false
		return fmt.Errorf("target: engage %s: open surface: %w", targetID, err)
	}
	r.logger.Info("target: surface opened",
		slog.String("target_id", t.ID), slog.String("location", s.Location))
	r.engaged[t.ID] = true
	return nil
}

// Disengage closes every live surface matching the target. Disengaging an
// already-disengaged target is a no-op.
func (r *Registry) Disengage(ctx context.Context, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disengageLocked(ctx, targetID)
}

func (r *Registry) disengageLocked(ctx context.Context, targetID string) error {
	t, ok := r.find(targetID)
	if !ok {
		return fmt.Errorf("target: disengage %s: %w", targetID, apperr.ErrNotFound)
	}

	surfaces, err := r.host.List(ctx)
	if err != nil {
		return fmt.Errorf("target: disengage %s: probe: %w", targetID, err)
	}
	var firstErr error
	for _, s := range surfaces {
		if !r.matches(t, s) {
			continue
		}
		if err := r.host.Close(ctx, s.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("target: disengage %s: close surface: %w", targetID, firstErr)
	}
	r.engaged[t.ID] = false
	return nil
}

// Rederive re-probes the host and recomputes every target's engaged state.
// It is called at startup and on every external surface event.
func (r *Registry) Rederive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	surfaces, err := r.host.List(ctx)
	if err != nil {
		return fmt.Errorf("target: rederive: %w", err)
	}
	for _, t := range r.targets {
		if !t.Enabled {
			delete(r.engaged, t.ID)
			continue
		}
		live := false
		for _, s := range surfaces {
			if r.matches(t, s) {
				live = true
				break
			}
		}
		r.engaged[t.ID] = live
	}
	return nil
}

// States returns each enabled target's engaged flag.
func (r *Registry) States() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.targets))
	for _, t := range r.targets {
		if t.Enabled {
			out[t.ID] = r.engaged[t.ID]
		}
	}
	return out
}

// EngagedTargets returns the engaged subset in configured order.
func (r *Registry) EngagedTargets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Target
	for _, t := range r.targets {
		if t.Enabled && r.engaged[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// Aggregate derives the tri-state from the current engaged flags. A
// registry with no enabled targets reads as AllDisengaged.
func (r *Registry) Aggregate() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aggregateLocked()
}

func (r *Registry) aggregateLocked() State {
	total, engaged := 0, 0
	for _, t := range r.targets {
		if !t.Enabled {
			continue
		}
		total++
		if r.engaged[t.ID] {
			engaged++
		}
	}
	switch {
	case engaged == 0:
		return AllDisengaged
	case engaged == total:
		return AllEngaged
	default:
		return Mixed
	}
}

// Toggle drives every target to a uniform state: disengaged when all are
// currently engaged, engaged otherwise (so toggling while Mixed engages
// the stragglers). Targets already in the desired state are skipped; a
// small delay separates per-target transitions. Per-target failures are
// logged and do not stop the sweep.
func (r *Registry) Toggle(ctx context.Context) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desired := r.aggregateLocked() != AllEngaged
	first := true
	for _, t := range r.targets {
		if !t.Enabled || r.engaged[t.ID] == desired {
			continue
		}
		if !first && r.toggleDelay > 0 {
			select {
			case <-time.After(r.toggleDelay):
			case <-ctx.Done():
				return r.aggregateLocked(), ctx.Err()
			}
		}
		first = false

		var err error
		if desired {
			err = r.engageLocked(ctx, t.ID)
		} else {
			err = r.disengageLocked(ctx, t.ID)
		}
		if err != nil {
			r.logger.Warn("target: toggle transition failed",
				slog.String("target_id", t.ID), slog.String("error", err.Error()))
		}
	}
	return r.aggregateLocked(), nil
}

// Surface returns a live surface for the target, or ok=false when none
// matches despite the target's registration.
func (r *Registry) Surface(ctx context.Context, targetID string) (Surface, bool, error) {
	r.mu.Lock()
	t, found := r.find(targetID)
	r.mu.Unlock()
	if !found {
		return Surface{}, false, fmt.Errorf("target: surface for %s: %w", targetID, apperr.ErrNotFound)
	}
	surfaces, err := r.host.List(ctx)
	if err != nil {
		return Surface{}, false, fmt.Errorf("target: surface for %s: probe: %w", targetID, err)
	}
	for _, s := range surfaces {
		if r.matches(t, s) {
			return s, true, nil
		}
	}
	return Surface{}, false, nil
}
