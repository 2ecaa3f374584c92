package config

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/go-cmp/cmp"
)

// isolate points the XDG base directories at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	xdg.Reload()
	return dir
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultUsesXDGDirectories(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if want := filepath.Join(dir, "data", AppName); cfg.Cache.Dir != want {
		t.Errorf("Cache.Dir = %q, want %q", cfg.Cache.Dir, want)
	}
	if want := filepath.Join(dir, "state", AppName, "macrolog.log"); cfg.Log.File != want {
		t.Errorf("Log.File = %q, want %q", cfg.Log.File, want)
	}
	if want := filepath.Join(dir, "config", AppName, "config.toml"); DefaultPath() != want {
		t.Errorf("DefaultPath() = %q, want %q", DefaultPath(), want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"redis with url", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisURL = "redis://localhost:6379/0" }, true},
		{"redis without url", func(c *Config) { c.Cache.Backend = "redis" }, false},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "etcd" }, false},
		{"cron schedule", func(c *Config) { c.Sync.Schedule = "*/5 * * * *" }, true},
		{"bad schedule", func(c *Config) { c.Sync.Schedule = "every now and then" }, false},
		{"empty schedule", func(c *Config) { c.Sync.Schedule = "" }, false},
		{"negative timeout", func(c *Config) { c.Server.Timeout = -time.Second }, false},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }, false},
		{"anthropic provider", func(c *Config) { c.Recognize.Provider = "anthropic" }, true},
		{"unknown provider", func(c *Config) { c.Recognize.Provider = "tesseract" }, false},
		{"timezone", func(c *Config) { c.Timezone = "UTC" }, true},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := NewLoader("", quietLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	isolate(t)

	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.toml"), quietLogger()).Load()
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "macrolog.toml")
	writeFile(t, path, `
timezone = "UTC"

[server]
url = "https://api.example.com"
timeout = "30s"

[sync]
schedule = "@every 5m"
debounce = "1s"
`)
	t.Setenv("MACROLOG_SERVER_TOKEN", "from-env")
	t.Setenv("MACROLOG_SYNC_DEBOUNCE", "5s")

	cfg, err := NewLoader(path, quietLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.URL != "https://api.example.com" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Server.Timeout = %v, want 30s", cfg.Server.Timeout)
	}
	if cfg.Server.Token != "from-env" {
		t.Errorf("Server.Token = %q, want value from environment", cfg.Server.Token)
	}
	if cfg.Sync.Debounce != 5*time.Second {
		t.Errorf("Sync.Debounce = %v, environment should beat the file", cfg.Sync.Debounce)
	}
	if cfg.Sync.Schedule != "@every 5m" {
		t.Errorf("Sync.Schedule = %q", cfg.Sync.Schedule)
	}
	if cfg.Server.Burst != 10 {
		t.Errorf("Server.Burst = %d, want default 10", cfg.Server.Burst)
	}
	if loc, _ := cfg.Location(); loc != time.UTC {
		t.Errorf("Location() = %v, want UTC", loc)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "macrolog.yaml")
	writeFile(t, path, "cache:\n  backend: file\ndashboard:\n  enabled: true\n  port: 9000\n")

	cfg, err := NewLoader(path, quietLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.Backend != "file" || !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("unexpected config: %+v %+v", cfg.Cache, cfg.Dashboard)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "macrolog.toml")
	writeFile(t, path, "[cache]\nbackend = \"etcd\"\n")

	l := NewLoader(path, quietLogger())
	if _, err := l.Load(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Load error = %v, want ErrInvalid", err)
	}
	if l.Current() != nil {
		t.Error("Current() should stay nil after a failed load")
	}
}

func TestWriteThenLoad(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config", AppName, "config.toml")

	want := Default()
	want.Server.URL = "http://localhost:8000"
	want.Server.Token = "secret"
	want.Sync.Schedule = "@every 30s"
	want.Dashboard.Enabled = true

	if err := Write(path, want, false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := NewLoader(path, quietLogger()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if err := Write(path, want, false); err == nil {
		t.Error("second Write without overwrite should fail")
	}
	if err := Write(path, want, true); err != nil {
		t.Errorf("Write with overwrite: %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Server.Token = "secret"
	cfg.Recognize.APIKey = "sk-123"

	r := cfg.Redacted()
	if strings.Contains(r.Server.Token, "secret") || strings.Contains(r.Recognize.APIKey, "sk-") {
		t.Errorf("secrets not masked: %+v %+v", r.Server, r.Recognize)
	}
	if cfg.Server.Token != "secret" {
		t.Error("Redacted modified the original")
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}
	dir := isolate(t)
	path := filepath.Join(dir, "macrolog.toml")
	writeFile(t, path, "[sync]\nschedule = \"@every 1m\"\n")

	l := NewLoader(path, quietLogger())
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := make(chan *Config, 4)
	l.Watch(func(c *Config) { changed <- c })

	writeFile(t, path, "[sync]\nschedule = \"@every 10s\"\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Sync.Schedule == "@every 10s" {
				if cur := l.Current(); cur == nil || cur.Sync.Schedule != "@every 10s" {
					t.Errorf("Current() not updated: %+v", cur)
				}
				return
			}
		case <-deadline:
			t.Fatal("config change not observed within 5s")
		}
	}
}
