package target

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/starford/fanout/internal/ident"
)

// HTTPHost implements Host over plain HTTP endpoints. A surface is an
// established session against a target's web endpoint; opening performs a
// GET against the creation locator, and a periodic health sweep closes
// sessions whose endpoint stops responding, emitting SurfaceClosed events.
type HTTPHost struct {
	mu       sync.Mutex
	client   *http.Client
	sessions map[string]Surface
	events   chan Event
	interval time.Duration
	logger   *slog.Logger
}

// Verify *HTTPHost satisfies Host at compile time.
var _ Host = (*HTTPHost)(nil)

// NewHTTPHost creates an HTTP surface host. probeInterval controls the
// health sweep cadence; zero disables sweeping.
func NewHTTPHost(client *http.Client, probeInterval time.Duration, logger *slog.Logger) *HTTPHost {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHost{
		client:   client,
		sessions: make(map[string]Surface),
		events:   make(chan Event, 64),
		interval: probeInterval,
		logger:   logger,
	}
}

// List returns every live session in a stable order.
func (h *HTTPHost) List(_ context.Context) ([]Surface, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Surface, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Open establishes a session against the locator. A redirected response
// records the final URL as the surface location.
func (h *HTTPHost) Open(ctx context.Context, locator string) (Surface, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return Surface{}, fmt.Errorf("host: open %s: %w", locator, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return Surface{}, fmt.Errorf("host: open %s: %w", locator, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Surface{}, fmt.Errorf("host: open %s: unexpected status %d", locator, resp.StatusCode)
	}

	s := Surface{ID: ident.New(), Location: resp.Request.URL.String()}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	return s, nil
}

// Close drops a session. Unknown ids are a no-op.
func (h *HTTPHost) Close(_ context.Context, surfaceID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, surfaceID)
	return nil
}

// Events implements Host.
func (h *HTTPHost) Events() <-chan Event {
	return h.events
}

// Run executes the health sweep loop until ctx is cancelled. Each sweep
// probes every session's location; a session whose endpoint fails the
// probe is closed and a SurfaceClosed event is emitted. A session whose
// probe lands on a different final URL is updated in place and a
// SurfaceNavigated event is emitted.
func (h *HTTPHost) Run(ctx context.Context) {
	if h.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

func (h *HTTPHost) sweep(ctx context.Context) {
	h.mu.Lock()
	sessions := make([]Surface, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Location, nil)
		if err != nil {
			continue
		}
		resp, err := h.client.Do(req)
		if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if resp != nil {
				resp.Body.Close()
			}
			h.mu.Lock()
			delete(h.sessions, s.ID)
			h.mu.Unlock()
			h.logger.Info("host: surface lost", slog.String("location", s.Location))
			h.emit(ctx, Event{Kind: SurfaceClosed, Surface: s})
			continue
		}
		final := resp.Request.URL.String()
		resp.Body.Close()
		if final != s.Location {
			moved := Surface{ID: s.ID, Location: final}
			h.mu.Lock()
			h.sessions[s.ID] = moved
			h.mu.Unlock()
			h.emit(ctx, Event{Kind: SurfaceNavigated, Surface: moved})
		}
	}
}

func (h *HTTPHost) emit(ctx context.Context, ev Event) {
	select {
	case h.events <- ev:
	case <-ctx.Done():
	}
}
