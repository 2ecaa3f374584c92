// Package config loads macrolog settings from a TOML or YAML file, MACROLOG_*
// environment variables and command-line flags, in increasing precedence.
//
// Default locations follow the XDG base directory specification:
//
//	$XDG_CONFIG_HOME/macrolog/config.toml   settings
//	$XDG_DATA_HOME/macrolog/                cache database
//	$XDG_STATE_HOME/macrolog/macrolog.log   log file
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/robfig/cron/v3"

	"github.com/macrolog/macrolog/internal/cache/probe"
)

// AppName names the XDG subdirectories.
const AppName = "macrolog"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete set of settings.
type Config struct {
	Server    Server    `mapstructure:"server" toml:"server" yaml:"server"`
	Cache     Cache     `mapstructure:"cache" toml:"cache" yaml:"cache"`
	Sync      Sync      `mapstructure:"sync" toml:"sync" yaml:"sync"`
	Dashboard Dashboard `mapstructure:"dashboard" toml:"dashboard" yaml:"dashboard"`
	Log       Log       `mapstructure:"log" toml:"log" yaml:"log"`
	Recognize Recognize `mapstructure:"recognize" toml:"recognize" yaml:"recognize"`

	// Timezone decides which calendar day "today" is. Empty means the
	// system zone.
	Timezone string `mapstructure:"timezone" toml:"timezone" yaml:"timezone"`
}

// Server configures the remote service.
type Server struct {
	URL               string        `mapstructure:"url" toml:"url" yaml:"url"`
	Token             string        `mapstructure:"token" toml:"token,omitempty" yaml:"token,omitempty"`
	Timeout           time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" toml:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `mapstructure:"burst" toml:"burst" yaml:"burst"`
}

// Cache configures the local store.
type Cache struct {
	// Backend is one of auto, sqlite, file, redis, memory.
	Backend  string `mapstructure:"backend" toml:"backend" yaml:"backend"`
	Dir      string `mapstructure:"dir" toml:"dir" yaml:"dir"`
	RedisURL string `mapstructure:"redis_url" toml:"redis_url,omitempty" yaml:"redis_url,omitempty"`
	RedisKey string `mapstructure:"redis_key" toml:"redis_key,omitempty" yaml:"redis_key,omitempty"`
}

// Sync configures the background reconciler.
type Sync struct {
	Schedule    string        `mapstructure:"schedule" toml:"schedule" yaml:"schedule"`
	Debounce    time.Duration `mapstructure:"debounce" toml:"debounce" yaml:"debounce"`
	PassTimeout time.Duration `mapstructure:"pass_timeout" toml:"pass_timeout" yaml:"pass_timeout"`
}

// Dashboard configures the WebSocket dashboard served by the daemon.
type Dashboard struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Host    string `mapstructure:"host" toml:"host" yaml:"host"`
	Port    int    `mapstructure:"port" toml:"port" yaml:"port"`
}

// Log configures the rotating log file.
type Log struct {
	File       string `mapstructure:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" yaml:"compress"`
}

// Recognizer providers.
const (
	ProviderRemote    = "remote"
	ProviderAnthropic = "anthropic"
)

// Recognize selects the photo recognizer.
type Recognize struct {
	// Provider is "remote" (the service's /food/recognize) or "anthropic".
	Provider string `mapstructure:"provider" toml:"provider" yaml:"provider"`
	APIKey   string `mapstructure:"api_key" toml:"api_key,omitempty" yaml:"api_key,omitempty"`
	Model    string `mapstructure:"model" toml:"model,omitempty" yaml:"model,omitempty"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: Server{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Cache: Cache{
			Backend:  probe.BackendAuto,
			Dir:      filepath.Join(xdg.DataHome, AppName),
			RedisKey: "macrolog:cache",
		},
		Sync: Sync{
			Schedule:    "@every 1m",
			Debounce:    2 * time.Second,
			PassTimeout: 2 * time.Minute,
		},
		Dashboard: Dashboard{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Log: Log{
			File:       filepath.Join(xdg.StateHome, AppName, AppName+".log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Recognize: Recognize{
			Provider: ProviderRemote,
		},
	}
}

// Validate checks the settings that can be checked without I/O.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case probe.BackendAuto, probe.BackendSQLite, probe.BackendFile, probe.BackendMemory:
	case probe.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("%w: cache.redis_url is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown cache.backend %q", ErrInvalid, c.Cache.Backend)
	}
	if c.Sync.Schedule == "" {
		return fmt.Errorf("%w: sync.schedule is required", ErrInvalid)
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("%w: sync.schedule %q: %v", ErrInvalid, c.Sync.Schedule, err)
	}
	if c.Server.Timeout < 0 || c.Sync.Debounce < 0 || c.Sync.PassTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("%w: dashboard.port %d out of range", ErrInvalid, c.Dashboard.Port)
	}
	switch c.Recognize.Provider {
	case ProviderRemote, ProviderAnthropic:
	default:
		return fmt.Errorf("%w: unknown recognize.provider %q", ErrInvalid, c.Recognize.Provider)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
