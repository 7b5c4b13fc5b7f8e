package internal

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/slipbox/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfig_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"empty scope", func(c *Config) { c.Scope = "" }},
		{"zero default depth", func(c *Config) { c.View.DefaultDepth = 0 }},
		{"max depth below default", func(c *Config) { c.View.DefaultDepth, c.View.MaxDepth = 3, 2 }},
		{"unknown select mode", func(c *Config) { c.View.SelectMode = "teleport" }},
		{"friction of one", func(c *Config) { c.Layout.Friction = 1 }},
		{"zero queue", func(c *Config) { c.Session.QueueSize = 0 }},
		{"negative heartbeat", func(c *Config) { c.Events.Heartbeat = -time.Second }},
		{"negative replay", func(c *Config) { c.Events.Replay = -1 }},
		{"port out of range", func(c *Config) { c.App.HTTP.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("SLIPBOX_TEST_TOKEN", "s3cret")
	path := writeFile(t, "config.yaml", `
app:
  log_level: debug
  http:
    port: 9090
storage:
  backend: file
  path: /tmp/slipbox
scope: work
auth:
  mode: token
  token: ${SLIPBOX_TEST_TOKEN}
layout:
  tick_interval: 33ms
view:
  default_depth: 2
  select_mode: exit
`)

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.LogLevel != slog.LevelDebug || cfg.App.HTTP.Port != 9090 {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Scope != "work" {
		t.Errorf("storage = %+v, scope = %q", cfg.Storage, cfg.Scope)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Errorf("token not expanded: %q", cfg.Auth.Token)
	}
	if cfg.Layout.TickInterval != 33*time.Millisecond {
		t.Errorf("tick interval = %v", cfg.Layout.TickInterval)
	}
	// Fields missing from the file keep their defaults.
	if cfg.Layout.WarmupTicks != 300 || cfg.View.MaxDepth != 8 {
		t.Errorf("defaults lost: layout = %+v, view = %+v", cfg.Layout, cfg.View)
	}
	if cfg.View.DefaultDepth != 2 || cfg.View.SelectMode != "exit" {
		t.Errorf("view = %+v", cfg.View)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
scope = "notes"

[app.http]
port = 7070

[storage]
backend = "sqlite"
path = "notes.db"

[session]
queue_size = 16
write_timeout = "2s"
`)

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 7070 || cfg.Scope != "notes" || cfg.Storage.Path != "notes.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Session.QueueSize != 16 || cfg.Session.WriteTimeout != 2*time.Second {
		t.Errorf("session = %+v", cfg.Session)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeFile(t, "config.yaml", "storage:\n  backend: memory\n")
	err := pkgconfig.Load(path, NewDefaultConfig())
	if err == nil || !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Load = %v, want validation failure", err)
	}
}

func TestLoadWithDefaults_MissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"), "", cfg); err != nil {
		t.Fatalf("LoadWithDefaults: %v", err)
	}
	if cfg.Scope != "default" {
		t.Errorf("scope = %q", cfg.Scope)
	}
}
