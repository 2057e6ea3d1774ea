package internal

import (
	"github.com/starford/fanout/internal/ident"
	"github.com/starford/fanout/internal/target"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	configPath string
	host       target.Host
	clock      ident.Clock
	mcpMode    bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfigPath sets the configuration file path, enabling hot-reload of
// the target list when the file changes.
func WithConfigPath(path string) Option {
	return func(a *application) {
		a.configPath = path
	}
}

// WithHost overrides the surface host (used by tests).
func WithHost(host target.Host) Option {
	return func(a *application) {
		a.host = host
	}
}

// WithClock overrides the clock (used by tests).
func WithClock(clock ident.Clock) Option {
	return func(a *application) {
		a.clock = clock
	}
}

// WithMCPMode serves the MCP tool surface on stdio instead of the HTTP API.
func WithMCPMode(enabled bool) Option {
	return func(a *application) {
		a.mcpMode = enabled
	}
}
