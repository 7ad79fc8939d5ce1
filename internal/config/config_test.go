// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
sessions:
  - id: main
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "secret"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "bot.yaml", `
sessions:
  - id: main
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "secret"
    owner: "@me:example.org"
    allowed_rooms:
      - "!room:example.org"

database:
  path: "./test.db"

plugins:
  dir: "./handlers"
  quiet_period: "2s"

commands:
  prefixes: ["!", "."]
  concurrency: 4

cache:
  ttl: "45s"
  high_water: 100
  low_water: 50

dedup:
  lock_timeout: "10s"
  retention: "1m"

dispatcher:
  retry_category: "downloader"
  max_attempts: 3
  exec_timeout: "20s"
  notify_feature_disabled: true

server:
  http_addr: "127.0.0.1:8080"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(cfg.Sessions))
	}
	s := cfg.Sessions[0]
	if s.ID != "main" || s.Owner != "@me:example.org" || len(s.AllowedRooms) != 1 {
		t.Errorf("unexpected session: %+v", s)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Plugins.Dir != "./handlers" {
		t.Errorf("Plugins.Dir = %q", cfg.Plugins.Dir)
	}
	if cfg.Plugins.QuietPeriod != 2*time.Second {
		t.Errorf("Plugins.QuietPeriod = %v, want 2s", cfg.Plugins.QuietPeriod)
	}
	if strings.Join(cfg.Commands.Prefixes, "") != "!." {
		t.Errorf("Commands.Prefixes = %v", cfg.Commands.Prefixes)
	}
	if cfg.Cache.TTL != 45*time.Second {
		t.Errorf("Cache.TTL = %v, want 45s", cfg.Cache.TTL)
	}
	if cfg.Dedup.Retention != time.Minute {
		t.Errorf("Dedup.Retention = %v, want 1m", cfg.Dedup.Retention)
	}
	if cfg.Dispatcher.RetryCategory != "downloader" || cfg.Dispatcher.MaxAttempts != 3 {
		t.Errorf("unexpected dispatcher config: %+v", cfg.Dispatcher)
	}
	if cfg.Dispatcher.ExecTimeout != 20*time.Second {
		t.Errorf("Dispatcher.ExecTimeout = %v, want 20s", cfg.Dispatcher.ExecTimeout)
	}
	if !cfg.Dispatcher.NotifyFeatureDisabled {
		t.Error("Dispatcher.NotifyFeatureDisabled = false, want true")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "bot.toml", `
[[sessions]]
id = "main"
homeserver = "https://matrix.example.org"
user_id = "@bot:example.org"
access_token = "secret"

[dedup]
lock_timeout = "5s"

[logging]
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].UserID != "@bot:example.org" {
		t.Errorf("unexpected sessions: %+v", cfg.Sessions)
	}
	if cfg.Dedup.LockTimeout != 5*time.Second {
		t.Errorf("Dedup.LockTimeout = %v, want 5s", cfg.Dedup.LockTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bot.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./data/coven-bot.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Plugins.Dir != "./plugins" {
		t.Errorf("Plugins.Dir = %q", cfg.Plugins.Dir)
	}
	if len(cfg.Commands.Prefixes) != 1 || cfg.Commands.Prefixes[0] != "!" {
		t.Errorf("Commands.Prefixes = %v", cfg.Commands.Prefixes)
	}
	if strings.Join(cfg.Dispatcher.DedupDenialCategories, ",") != "group,owner" {
		t.Errorf("DedupDenialCategories = %v", cfg.Dispatcher.DedupDenialCategories)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Dedup.LockTimeout != 0 {
		t.Errorf("unset duration should stay zero, got %v", cfg.Dedup.LockTimeout)
	}
}

func TestLoad_SessionIDDefaultsToUserID(t *testing.T) {
	cfg, err := Load(writeConfig(t, "bot.yaml", `
sessions:
  - homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "secret"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sessions[0].ID != "@bot:example.org" {
		t.Errorf("Sessions[0].ID = %q", cfg.Sessions[0].ID)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_TOKEN", "expanded-token")

	cfg, err := Load(writeConfig(t, "bot.yaml", `
sessions:
  - id: main
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "${TEST_MATRIX_TOKEN}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sessions[0].AccessToken != "expanded-token" {
		t.Errorf("AccessToken = %q, want expanded-token", cfg.Sessions[0].AccessToken)
	}
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "bot.yaml", `
sessions:
  - id: main
    homeserver: "https://matrix.example.org"
    user_id: "@bot:example.org"
    access_token: "${COVEN_BOT_TEST_UNSET_TOKEN}"
`))
	if err == nil || !strings.Contains(err.Error(), "access_token is required") {
		t.Errorf("expected access_token error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COVEN_BOT_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("COVEN_BOT_PREFIXES", "/,#")
	t.Setenv("COVEN_BOT_LOG_FORMAT", "json")
	t.Setenv("COVEN_BOT_HTTP_ADDR", "0.0.0.0:9000")

	cfg, err := Load(writeConfig(t, "bot.yaml", minimalYAML+`
database:
  path: "./from-file.db"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want override", cfg.Database.Path)
	}
	if strings.Join(cfg.Commands.Prefixes, " ") != "/ #" {
		t.Errorf("Commands.Prefixes = %v", cfg.Commands.Prefixes)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/bot.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "bot.yaml", "sessions: [unclosed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "bot.yaml", minimalYAML+`
dedup:
  retention: "soon"
`))
	if err == nil || !strings.Contains(err.Error(), "dedup.retention") {
		t.Errorf("expected dedup.retention error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Sessions: []SessionConfig{{
				ID:          "main",
				Homeserver:  "https://matrix.example.org",
				UserID:      "@bot:example.org",
				AccessToken: "secret",
			}},
			Commands: CommandsConfig{Prefixes: []string{"!"}},
			Logging:  LoggingConfig{Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no sessions", func(c *Config) { c.Sessions = nil }, "at least one session"},
		{"missing homeserver", func(c *Config) { c.Sessions[0].Homeserver = "" }, "homeserver is required"},
		{"bad scheme", func(c *Config) { c.Sessions[0].Homeserver = "ftp://x" }, "http or https"},
		{"missing user", func(c *Config) { c.Sessions[0].UserID = "" }, "user_id is required"},
		{"duplicate id", func(c *Config) { c.Sessions = append(c.Sessions, c.Sessions[0]) }, "duplicate session id"},
		{"empty prefix", func(c *Config) { c.Commands.Prefixes = []string{" "} }, "empty prefixes"},
		{"watermarks", func(c *Config) { c.Cache.HighWater, c.Cache.LowWater = 10, 10 }, "low_water"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
