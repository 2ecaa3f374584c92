package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MACROLOG_SERVER_URL.
const EnvPrefix = "MACROLOG"

// Loader reads Config through viper.
type Loader struct {
	v        *viper.Viper
	path     string
	explicit bool
	logger   *log.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader prepares a loader for path. An empty path uses DefaultPath and
// tolerates the file being absent; an explicit path must exist.
func NewLoader(path string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	l := &Loader{
		v:        viper.New(),
		path:     path,
		explicit: path != "",
		logger:   logger,
	}
	if l.path == "" {
		l.path = DefaultPath()
	}

	l.v.SetConfigFile(l.path)
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	setDefaults(l.v, Default())
	return l
}

// setDefaults registers every key so environment variables are seen by
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("server.token", d.Server.Token)
	v.SetDefault("server.timeout", d.Server.Timeout)
	v.SetDefault("server.requests_per_second", d.Server.RequestsPerSecond)
	v.SetDefault("server.burst", d.Server.Burst)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.redis_url", d.Cache.RedisURL)
	v.SetDefault("cache.redis_key", d.Cache.RedisKey)

	v.SetDefault("sync.schedule", d.Sync.Schedule)
	v.SetDefault("sync.debounce", d.Sync.Debounce)
	v.SetDefault("sync.pass_timeout", d.Sync.PassTimeout)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.host", d.Dashboard.Host)
	v.SetDefault("dashboard.port", d.Dashboard.Port)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("recognize.provider", d.Recognize.Provider)
	v.SetDefault("recognize.api_key", d.Recognize.APIKey)
	v.SetDefault("recognize.model", d.Recognize.Model)

	v.SetDefault("timezone", d.Timezone)
}

// Viper exposes the underlying instance so callers can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Path returns the config file location, whether or not it exists.
func (l *Loader) Path() string {
	return l.path
}

// FileExists reports whether the config file is present.
func (l *Loader) FileExists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Load reads the file (if any), applies overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		notFound := errors.As(err, &pathErr) && errors.Is(pathErr.Err, fs.ErrNotExist)
		if !notFound || l.explicit {
			return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Current returns the last successfully loaded config, or nil.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch reloads the config whenever the file changes and passes the new
// value to fn. Invalid edits are logged and ignored; the previous config
// stays current. Watch is a no-op when the file does not exist.
func (l *Loader) Watch(fn func(*Config)) {
	if !l.FileExists() {
		l.logger.Printf("Config file %s not found, not watching", l.path)
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Printf("Config file changed (%s)", e.Op)
		cfg, err := l.Load()
		if err != nil {
			l.logger.Printf("WARNING: Failed to reload config: %v", err)
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}
