package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/fanout/internal/apperr"
	"github.com/starford/fanout/internal/target"
)

// Outcome classifies the result of one target's delivery attempt.
type Outcome string

const (
	// OutcomeDelivered means the adapter placed and submitted the prompt.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeAdapterFailed means the adapter could not locate an input or
	// submit affordance on the surface.
	OutcomeAdapterFailed Outcome = "adapter_failed"
	// OutcomeSurfaceNotFound means no live surface existed for a target
	// marked engaged. The inconsistency is reported, never silently
	// ignored.
	OutcomeSurfaceNotFound Outcome = "surface_not_found"
)

// Result is one target's dispatch outcome.
type Result struct {
	TargetID string  `json:"targetId"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
}

// SurfaceFinder locates the live surface for a target. The target registry
// satisfies this interface.
type SurfaceFinder interface {
	Surface(ctx context.Context, targetID string) (target.Surface, bool, error)
}

// Coordinator fans a prompt out to the engaged targets. Targets are
// disjoint live surfaces with no shared mutable state, so deliveries run
// concurrently; one target's failure never prevents invocation of the
// rest, and the coordinator does not retry.
type Coordinator struct {
	finder   SurfaceFinder
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewCoordinator creates a dispatch coordinator.
func NewCoordinator(finder SurfaceFinder, adapters map[string]Adapter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{finder: finder, adapters: adapters, logger: logger}
}

// Dispatch delivers the prompt to every given target independently and
// returns one result per target, in input order.
func (c *Coordinator) Dispatch(ctx context.Context, prompt string, targets []target.Target) []Result {
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target.Target) {
			defer wg.Done()
			results[i] = c.dispatchOne(ctx, prompt, t)
		}(i, t)
	}
	wg.Wait()

	for _, res := range results {
		if res.Outcome != OutcomeDelivered {
			c.logger.Warn("dispatch: delivery failed",
				slog.String("target_id", res.TargetID),
				slog.String("outcome", string(res.Outcome)),
				slog.String("reason", res.Reason))
		}
	}
	return results
}

func (c *Coordinator) dispatchOne(ctx context.Context, prompt string, t target.Target) Result {
	surface, ok, err := c.finder.Surface(ctx, t.ID)
	if err != nil {
		return Result{TargetID: t.ID, Outcome: OutcomeSurfaceNotFound, Reason: err.Error()}
	}
	if !ok {
		miss := fmt.Errorf("dispatch: %s: engaged but no live surface matches: %w",
			t.ID, apperr.ErrSurfaceNotFound)
		return Result{TargetID: t.ID, Outcome: OutcomeSurfaceNotFound, Reason: miss.Error()}
	}

	adapter, ok := c.adapters[t.Adapter]
	if !ok {
		return Result{TargetID: t.ID, Outcome: OutcomeAdapterFailed,
			Reason: "no adapter registered for " + t.Adapter}
	}
	if err := adapter.Deliver(ctx, prompt, t.ID, surface); err != nil {
		return Result{TargetID: t.ID, Outcome: OutcomeAdapterFailed, Reason: err.Error()}
	}
	return Result{TargetID: t.ID, Outcome: OutcomeDelivered}
}
