// Package config loads runtime settings and the server/module bootstrap file.
//
// Settings come from an optional settings file (YAML or TOML) and
// FOURALLPORTAL_* environment variables, environment first. The bootstrap
// file describes which PIM servers and modules exist and is reconciled into
// the event store by the initialize command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides. The key "lock.redis.addr"
// is read from FOURALLPORTAL_LOCK_REDIS_ADDR.
const EnvPrefix = "FOURALLPORTAL"

// Lock backends.
const (
	LockBackendStore = "store"
	LockBackendRedis = "redis"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Settings holds all runtime settings.
type Settings struct {
	Database  DatabaseSettings
	Bootstrap BootstrapSettings
	Lock      LockSettings
	Log       LogSettings
	Sync      SyncSettings
	Execute   ExecuteSettings
	Remote    RemoteSettings
	Metrics   MetricsSettings
	Mapping   MappingSettings
}

// DatabaseSettings locates the SQLite event store.
type DatabaseSettings struct {
	Path string
}

// BootstrapSettings locates the server/module bootstrap file.
type BootstrapSettings struct {
	File string
}

// LockSettings selects the sync lock backend.
type LockSettings struct {
	Backend string
	TTL     time.Duration
	Redis   RedisSettings
}

// RedisSettings configures the redis lock backend.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// LogSettings configures diagnostics logging.
type LogSettings struct {
	Level  string
	Format string
}

// SyncSettings tunes remote paging.
type SyncSettings struct {
	PageSize int
	MaxPages int // 0 = unlimited
}

// ExecuteSettings tunes the execute phase.
type ExecuteSettings struct {
	MaxThreads int
	BatchSize  int
	StaleAfter time.Duration // 0 disables stale recovery
}

// RemoteSettings configures the PIM HTTP client.
type RemoteSettings struct {
	Timeout        time.Duration
	RateLimit      float64 // requests per second, < 0 = unlimited
	Burst          int
	KeyringService string
}

// MetricsSettings configures the metrics textfile export.
type MetricsSettings struct {
	Textfile string // empty = no export
}

// MappingSettings configures how modules resolve to mappers.
type MappingSettings struct {
	// DynamicClasses are mapping classes without a mapper of their own.
	// Modules using them are handled by the dynamic mapper.
	DynamicClasses []string
}

// Load reads settings from path, or from fourallportal.{yaml,toml} in the
// working directory or /etc/fourallportal when path is empty. A missing
// default settings file is not an error; a missing explicit one is.
func Load(path string) (*Settings, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fourallportal")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fourallportal")
	}

	// Keys where zero is meaningful get their default here instead of in
	// applyDefaults.
	v.SetDefault("execute.stale_after", time.Hour)
	v.SetDefault("remote.rate_limit", 10.0)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Settings{
		Database: DatabaseSettings{
			Path: v.GetString("database.path"),
		},
		Bootstrap: BootstrapSettings{
			File: v.GetString("bootstrap.file"),
		},
		Lock: LockSettings{
			Backend: strings.ToLower(v.GetString("lock.backend")),
			TTL:     v.GetDuration("lock.ttl"),
			Redis: RedisSettings{
				Addr:     v.GetString("lock.redis.addr"),
				Password: v.GetString("lock.redis.password"),
				DB:       v.GetInt("lock.redis.db"),
			},
		},
		Log: LogSettings{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		Sync: SyncSettings{
			PageSize: v.GetInt("sync.page_size"),
			MaxPages: v.GetInt("sync.max_pages"),
		},
		Execute: ExecuteSettings{
			MaxThreads: v.GetInt("execute.max_threads"),
			BatchSize:  v.GetInt("execute.batch_size"),
			StaleAfter: v.GetDuration("execute.stale_after"),
		},
		Remote: RemoteSettings{
			Timeout:        v.GetDuration("remote.timeout"),
			RateLimit:      v.GetFloat64("remote.rate_limit"),
			Burst:          v.GetInt("remote.burst"),
			KeyringService: v.GetString("remote.keyring_service"),
		},
		Metrics: MetricsSettings{
			Textfile: v.GetString("metrics.textfile"),
		},
		Mapping: MappingSettings{
			DynamicClasses: trimAll(v.GetStringSlice("mapping.dynamic_classes")),
		},
	}

	applyDefaults(s)

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// applyDefaults fills empty settings.
func applyDefaults(s *Settings) {
	if s.Database.Path == "" {
		s.Database.Path = "fourallportal.db"
	}
	if s.Bootstrap.File == "" {
		s.Bootstrap.File = "servers.yaml"
	}
	if s.Lock.Backend == "" {
		s.Lock.Backend = LockBackendStore
	}
	if s.Lock.TTL == 0 {
		s.Lock.TTL = 10 * time.Minute
	}
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = LogFormatText
	}
	if s.Sync.PageSize == 0 {
		s.Sync.PageSize = 100
	}
	if s.Execute.MaxThreads == 0 {
		s.Execute.MaxThreads = 4
	}
	if s.Execute.BatchSize == 0 {
		s.Execute.BatchSize = 50
	}
	if s.Remote.Timeout == 0 {
		s.Remote.Timeout = 30 * time.Second
	}
	if s.Remote.Burst == 0 {
		s.Remote.Burst = 1
	}
	if s.Remote.KeyringService == "" {
		s.Remote.KeyringService = "fourallportal"
	}
}

// validate rejects settings no run could work with.
func (s *Settings) validate() error {
	switch s.Lock.Backend {
	case LockBackendStore:
	case LockBackendRedis:
		if s.Lock.Redis.Addr == "" {
			return fmt.Errorf("lock.redis.addr is required when lock.backend is %q", LockBackendRedis)
		}
	default:
		return fmt.Errorf("lock.backend must be %q or %q, got %q", LockBackendStore, LockBackendRedis, s.Lock.Backend)
	}
	if s.Lock.TTL < 0 {
		return fmt.Errorf("lock.ttl cannot be negative")
	}

	if _, err := ParseLogLevel(s.Log.Level); err != nil {
		return err
	}
	if s.Log.Format != LogFormatText && s.Log.Format != LogFormatJSON {
		return fmt.Errorf("log.format must be %q or %q, got %q", LogFormatText, LogFormatJSON, s.Log.Format)
	}

	if s.Sync.PageSize < 0 {
		return fmt.Errorf("sync.page_size cannot be negative")
	}
	if s.Sync.MaxPages < 0 {
		return fmt.Errorf("sync.max_pages cannot be negative")
	}
	if s.Execute.MaxThreads < 0 {
		return fmt.Errorf("execute.max_threads cannot be negative")
	}
	if s.Execute.BatchSize < 0 {
		return fmt.Errorf("execute.batch_size cannot be negative")
	}
	if s.Execute.StaleAfter < 0 {
		return fmt.Errorf("execute.stale_after cannot be negative")
	}
	if s.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout cannot be negative")
	}
	if s.Remote.Burst < 0 {
		return fmt.Errorf("remote.burst cannot be negative")
	}
	for _, class := range s.Mapping.DynamicClasses {
		if class == "" {
			return fmt.Errorf("mapping.dynamic_classes cannot contain an empty class name")
		}
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", name)
	}
}
