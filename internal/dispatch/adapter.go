// Package dispatch delivers a prompt to the engaged targets through
// per-target delivery adapters, collecting per-target outcomes without
// aborting the batch.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/fanout/internal/apperr"
	"github.com/starford/fanout/internal/target"
)

// Adapter places prompt text into a target's live surface and triggers its
// submission. Adapters may implement several fallback strategies
// internally; the coordinator only sees success or failure.
type Adapter interface {
	Deliver(ctx context.Context, prompt, targetID string, surface target.Surface) error
}

// Adapter names accepted in target configuration.
const (
	AdapterJSON     = "json"
	AdapterForm     = "form"
	AdapterFallback = "fallback"
)

// Adapters builds the standard adapter set keyed by configuration name.
func Adapters(client *http.Client) map[string]Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return map[string]Adapter{
		AdapterJSON:     &JSONAdapter{Client: client},
		AdapterForm:     &FormAdapter{Client: client},
		AdapterFallback: &FallbackAdapter{Client: client},
	}
}

// JSONAdapter posts the prompt as a JSON body to the surface location.
// This is the adapter for targets with a structured prompt endpoint.
type JSONAdapter struct {
	Client *http.Client
}

// Deliver implements Adapter.
func (a *JSONAdapter) Deliver(ctx context.Context, prompt, targetID string, surface target.Surface) error {
	body, err := json.Marshal(map[string]string{"prompt": prompt, "target": targetID})
	if err != nil {
		return fmt.Errorf("dispatch: marshal prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, surface.Location, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dispatch: %s: %w", targetID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.send(req, targetID)
}

func (a *JSONAdapter) send(req *http.Request, targetID string) error {
	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: %s: %v: %w", targetID, err, apperr.ErrAdapterFailed)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch: %s: status %d: %w", targetID, resp.StatusCode, apperr.ErrAdapterFailed)
	}
	return nil
}

// FormAdapter posts the prompt as form data, trying candidate field names
// in priority order until one is accepted. This is the adapter for targets
// with a plain input form.
type FormAdapter struct {
	Client *http.Client
	// Fields are candidate input field names, tried in order.
	Fields []string
}

var defaultFormFields = []string{"prompt", "q", "message", "text"}

// Deliver implements Adapter.
func (a *FormAdapter) Deliver(ctx context.Context, prompt, targetID string, surface target.Surface) error {
	fields := a.Fields
	if len(fields) == 0 {
		fields = defaultFormFields
	}
	var lastErr error
	for _, field := range fields {
		form := url.Values{field: {prompt}, "target": {targetID}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, surface.Location,
			strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("dispatch: %s: %w", targetID, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := a.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("field %q: status %d", field, resp.StatusCode)
	}
	return fmt.Errorf("dispatch: %s: no input field accepted (%v): %w",
		targetID, lastErr, apperr.ErrAdapterFailed)
}

// FallbackAdapter tries a list of candidate submission paths under the
// surface location in priority order, then falls back to posting the raw
// prompt to the surface location itself.
type FallbackAdapter struct {
	Client *http.Client
	// Paths are candidate submission endpoints relative to the surface
	// location, tried in order.
	Paths []string
}

var defaultFallbackPaths = []string{"/api/prompt", "/prompt", "/send"}

// Deliver implements Adapter.
func (a *FallbackAdapter) Deliver(ctx context.Context, prompt, targetID string, surface target.Surface) error {
	paths := a.Paths
	if len(paths) == 0 {
		paths = defaultFallbackPaths
	}

	base := strings.TrimRight(surface.Location, "/")
	body, err := json.Marshal(map[string]string{"prompt": prompt, "target": targetID})
	if err != nil {
		return fmt.Errorf("dispatch: marshal prompt: %w", err)
	}

	for _, p := range paths {
		if a.post(ctx, base+p, "application/json", body) {
			return nil
		}
	}
	// Last resort: raw prompt against the surface itself.
	if a.post(ctx, surface.Location, "text/plain", []byte(prompt)) {
		return nil
	}
	return fmt.Errorf("dispatch: %s: no submission endpoint accepted: %w",
		targetID, apperr.ErrAdapterFailed)
}

func (a *FallbackAdapter) post(ctx context.Context, u, contentType string, payload []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := a.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
