package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/slipbox/internal/layout"
	"github.com/starford/slipbox/internal/navigation"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app" toml:"app"`
	Storage StorageConfig     `yaml:"storage" toml:"storage"`
	// Scope selects which slip-box of the backend this process serves.
	Scope   string        `yaml:"scope" toml:"scope"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Layout  layout.Config `yaml:"layout" toml:"layout"`
	View    ViewConfig    `yaml:"view" toml:"view"`
	Session SessionConfig `yaml:"session" toml:"session"`
	Events  EventsConfig  `yaml:"events" toml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(c.Scope, validation.Required.Error("scope is required")); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if err := c.View.Validate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return c.Events.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
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

// StorageConfig selects the persistence backend. Path is the SQLite database
// file for the sqlite backend and the data directory for the file backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendSQLite, BackendFile)),
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
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

// ViewConfig holds defaults for neighbourhood queries and map views.
type ViewConfig struct {
	DefaultDepth int `yaml:"default_depth" toml:"default_depth"`
	MaxDepth     int `yaml:"max_depth" toml:"max_depth"`
	// SelectMode is what a node click in the map does: "browse" or "exit".
	SelectMode string `yaml:"select_mode" toml:"select_mode"`
	// FrameRate caps websocket frames per second per connection. Zero means
	// every tick is sent.
	FrameRate float64 `yaml:"frame_rate" toml:"frame_rate"`
}

// Validate validates the view configuration.
func (c *ViewConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultDepth, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(c.DefaultDepth)),
		validation.Field(&c.SelectMode, validation.Required, validation.In(string(navigation.ModeBrowse), string(navigation.ModeExitOnSelect))),
		validation.Field(&c.FrameRate, validation.Min(0.0)),
	)
}

// SessionConfig tunes the background persistence of the note session.
type SessionConfig struct {
	QueueSize    int           `yaml:"queue_size" toml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

// Validate validates the session configuration.
func (c *SessionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.WriteTimeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// EventsConfig tunes the SSE change stream.
type EventsConfig struct {
	GraphThrottle time.Duration `yaml:"graph_throttle" toml:"graph_throttle"`
	Heartbeat     time.Duration `yaml:"heartbeat" toml:"heartbeat"`
	// Replay is how many recent events a reconnecting client can catch up on.
	Replay int `yaml:"replay" toml:"replay"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.GraphThrottle, validation.Min(time.Duration(0))),
		validation.Field(&c.Heartbeat, validation.Min(time.Duration(0))),
		validation.Field(&c.Replay, validation.Min(0), validation.Max(100000)),
	)
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
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    "./slipbox.db",
		},
		Scope: "default",
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Layout: layout.DefaultConfig(),
		View: ViewConfig{
			DefaultDepth: 1,
			MaxDepth:     8,
			SelectMode:   string(navigation.ModeBrowse),
			FrameRate:    30,
		},
		Session: SessionConfig{
			QueueSize:    256,
			WriteTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			GraphThrottle: 2 * time.Second,
			Heartbeat:     15 * time.Second,
			Replay:        256,
		},
	}
}
