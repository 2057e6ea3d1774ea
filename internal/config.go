package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/fanout/internal/dispatch"
	"github.com/starford/fanout/internal/target"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Store    StoreConfig       `yaml:"store"`
	Targets  []TargetConfig    `yaml:"targets"`
	Dispatch DispatchConfig    `yaml:"dispatch"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for i := range c.Targets {
		t := &c.Targets[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("targets[%d]: %w", i, err)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("targets[%d]: duplicate id %q", i, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	if err := c.Dispatch.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig holds the two persistence tiers.
//
// SyncedPath is the synchronized, quota-limited tier database;
// SnapshotPath is the consolidated local backup file. RecordLimitBytes is
// the synchronized tier's per-record size ceiling (0 = unlimited).
type StoreConfig struct {
	SyncedPath       string `yaml:"synced_path"`
	SnapshotPath     string `yaml:"snapshot_path"`
	RecordLimitBytes int    `yaml:"record_limit_bytes"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SyncedPath, validation.Required),
		validation.Field(&c.SnapshotPath, validation.Required),
		validation.Field(&c.RecordLimitBytes, validation.Min(0)),
	)
}

// TargetConfig describes one dispatch target.
type TargetConfig struct {
	ID              string `yaml:"id"`
	MatchQuery      string `yaml:"match_query"`
	CreationLocator string `yaml:"creation_locator"`
	Adapter         string `yaml:"adapter"`
	Enabled         *bool  `yaml:"enabled"` // nil defaults to true
}

// Validate validates a target entry.
func (c *TargetConfig) Validate() error {
	if c.Adapter == "" {
		c.Adapter = dispatch.AdapterJSON
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.MatchQuery, validation.Required),
		validation.Field(&c.CreationLocator, validation.Required),
		validation.Field(&c.Adapter, validation.In(
			dispatch.AdapterJSON, dispatch.AdapterForm, dispatch.AdapterFallback)),
	)
}

// Target converts the entry to the registry's target type.
func (c *TargetConfig) Target() target.Target {
	return target.Target{
		ID:              c.ID,
		MatchQuery:      c.MatchQuery,
		CreationLocator: c.CreationLocator,
		Adapter:         c.Adapter,
		Enabled:         c.Enabled == nil || *c.Enabled,
	}
}

// TargetList converts every configured entry in order.
func (c *Config) TargetList() []target.Target {
	out := make([]target.Target, 0, len(c.Targets))
	for i := range c.Targets {
		out = append(out, c.Targets[i].Target())
	}
	return out
}

// DispatchConfig holds surface and delivery tuning.
type DispatchConfig struct {
	// ToggleDelay is the pause between per-target transitions during an
	// aggregate toggle sweep.
	ToggleDelay time.Duration `yaml:"toggle_delay"`
	// ProbeInterval is the surface health sweep cadence (0 disables).
	ProbeInterval time.Duration `yaml:"probe_interval"`
	// RequestTimeout bounds each surface probe and delivery request.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Validate validates the dispatch configuration.
func (c *DispatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ToggleDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.ProbeInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			SyncedPath:       "./fanout-sync.db",
			SnapshotPath:     "./fanout-snapshot.json",
			RecordLimitBytes: 8192,
		},
		Dispatch: DispatchConfig{
			ToggleDelay:    250 * time.Millisecond,
			ProbeInterval:  30 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
