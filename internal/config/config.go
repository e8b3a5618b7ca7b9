package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"learnsession/internal/tracing"
	"learnsession/pkg/types"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "LEARNSESSION_"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
type Config struct {
	Database *DatabaseConfig `json:"database" envPrefix:"DATABASE_"`
	HTTP     *HTTPConfig     `json:"http" envPrefix:"HTTP_"`
	Session  *SessionConfig  `json:"session" envPrefix:"SESSION_"`
	Cleanup  *CleanupConfig  `json:"cleanup" envPrefix:"CLEANUP_"`
	Tracing  *tracing.Config `json:"tracing" envPrefix:"TRACING_"`
}

// DatabaseConfig locates the sqlite progress store
type DatabaseConfig struct {
	Path           string        `json:"path" env:"PATH"`
	Timeout        time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxConnections int           `json:"max_connections" env:"MAX_CONNECTIONS"`
}

// HTTPConfig controls the JSON API listener
type HTTPConfig struct {
	Port         int           `json:"port" env:"PORT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	Host         string        `json:"host" env:"HOST"`
	// EvidenceLimit caps voice and photo posts per session per minute
	EvidenceLimit int `json:"evidence_limit" env:"EVIDENCE_LIMIT"`
}

// SessionConfig tunes the session engine
type SessionConfig struct {
	// TimerUnit is the real duration of one policy minute
	TimerUnit        time.Duration `json:"timer_unit" env:"TIMER_UNIT"`
	EventBufferSize  int           `json:"event_buffer_size" env:"EVENT_BUFFER_SIZE"`
	ArchiveRetention time.Duration `json:"archive_retention" env:"ARCHIVE_RETENTION"`
	// DefaultAgeGroup is used for children nobody registered; empty rejects them
	DefaultAgeGroup string `json:"default_age_group" env:"DEFAULT_AGE_GROUP"`
	// Children seeds known children, as child:ageGroup pairs in the environment
	Children    map[string]string `json:"children" env:"CHILDREN"`
	AgeCacheTTL time.Duration     `json:"age_cache_ttl" env:"AGE_CACHE_TTL"`
}

// CleanupConfig controls the periodic sweep of stale buffers and archives
type CleanupConfig struct {
	Interval    time.Duration `json:"interval" env:"INTERVAL"`
	MaxAgeHours int           `json:"max_age_hours" env:"MAX_AGE_HOURS"`
}

// DefaultConfig returns production-ready defaults
func DefaultConfig() *Config {
	tracingCfg := tracing.DefaultConfig()
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./learnsession.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			Host:          "0.0.0.0",
			EvidenceLimit: 100,
		},
		Session: &SessionConfig{
			TimerUnit:        time.Minute,
			EventBufferSize:  1000,
			ArchiveRetention: 24 * time.Hour,
			AgeCacheTTL:      10 * time.Minute,
		},
		Cleanup: &CleanupConfig{
			Interval:    15 * time.Minute,
			MaxAgeHours: 6,
		},
		Tracing: &tracingCfg,
	}
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.Session == nil || c.Cleanup == nil || c.Tracing == nil {
		return fmt.Errorf("database, http, session, cleanup and tracing sections are required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.EvidenceLimit <= 0 {
		return fmt.Errorf("HTTP evidence limit must be positive")
	}

	if c.Session.TimerUnit <= 0 {
		return fmt.Errorf("session timer unit must be positive")
	}
	if c.Session.EventBufferSize <= 0 {
		return fmt.Errorf("session event buffer size must be positive")
	}
	if c.Session.ArchiveRetention <= 0 {
		return fmt.Errorf("session archive retention must be positive")
	}
	if c.Session.DefaultAgeGroup != "" && !types.IsValidAgeGroup(types.AgeGroup(c.Session.DefaultAgeGroup)) {
		return fmt.Errorf("unknown default age group %q", c.Session.DefaultAgeGroup)
	}
	for child, group := range c.Session.Children {
		if !types.IsValidChildID(child) {
			return fmt.Errorf("invalid child id %q", child)
		}
		if !types.IsValidAgeGroup(types.AgeGroup(group)) {
			return fmt.Errorf("unknown age group %q for child %s", group, child)
		}
	}

	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	if c.Cleanup.MaxAgeHours <= 0 {
		return fmt.Errorf("cleanup max age must be positive")
	}

	switch c.Tracing.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.Tracing.Exporter)
	}
	return nil
}

// ChildAgeGroups returns the seeded children as typed age groups
func (c *SessionConfig) ChildAgeGroups() map[string]types.AgeGroup {
	out := make(map[string]types.AgeGroup, len(c.Children))
	for child, group := range c.Children {
		out[child] = types.AgeGroup(group)
	}
	return out
}

// applyEnv overlays LEARNSESSION_* variables onto cfg
func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromEnv returns defaults overridden by environment variables
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile is the JSON shape of a config file. Durations are strings
// such as "30s"; absent fields leave the current value alone.
type ConfigFile struct {
	Database *struct {
		Path           string `json:"path"`
		Timeout        string `json:"timeout"`
		MaxConnections int    `json:"max_connections"`
	} `json:"database"`
	HTTP *struct {
		Port          int    `json:"port"`
		ReadTimeout   string `json:"read_timeout"`
		WriteTimeout  string `json:"write_timeout"`
		Host          string `json:"host"`
		EvidenceLimit int    `json:"evidence_limit"`
	} `json:"http"`
	Session *struct {
		TimerUnit        string            `json:"timer_unit"`
		EventBufferSize  int               `json:"event_buffer_size"`
		ArchiveRetention string            `json:"archive_retention"`
		DefaultAgeGroup  string            `json:"default_age_group"`
		Children         map[string]string `json:"children"`
		AgeCacheTTL      string            `json:"age_cache_ttl"`
	} `json:"session"`
	Cleanup *struct {
		Interval    string `json:"interval"`
		MaxAgeHours int    `json:"max_age_hours"`
	} `json:"cleanup"`
	// Tracing is decoded over the current values so partial sections work
	Tracing json.RawMessage `json:"tracing"`
}

// durations parses each non-empty string into its target
type durations map[*time.Duration]string

func (d durations) apply() error {
	for target, raw := range d {
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*target = parsed
	}
	return nil
}

// applyFile overlays the JSON file at path onto cfg
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	parse := durations{}
	if f := file.Database; f != nil {
		if f.Path != "" {
			cfg.Database.Path = f.Path
		}
		if f.MaxConnections > 0 {
			cfg.Database.MaxConnections = f.MaxConnections
		}
		parse[&cfg.Database.Timeout] = f.Timeout
	}
	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			cfg.HTTP.Port = f.Port
		}
		if f.Host != "" {
			cfg.HTTP.Host = f.Host
		}
		if f.EvidenceLimit > 0 {
			cfg.HTTP.EvidenceLimit = f.EvidenceLimit
		}
		parse[&cfg.HTTP.ReadTimeout] = f.ReadTimeout
		parse[&cfg.HTTP.WriteTimeout] = f.WriteTimeout
	}
	if f := file.Session; f != nil {
		if f.EventBufferSize > 0 {
			cfg.Session.EventBufferSize = f.EventBufferSize
		}
		if f.DefaultAgeGroup != "" {
			cfg.Session.DefaultAgeGroup = f.DefaultAgeGroup
		}
		if f.Children != nil {
			cfg.Session.Children = f.Children
		}
		parse[&cfg.Session.TimerUnit] = f.TimerUnit
		parse[&cfg.Session.ArchiveRetention] = f.ArchiveRetention
		parse[&cfg.Session.AgeCacheTTL] = f.AgeCacheTTL
	}
	if f := file.Cleanup; f != nil {
		if f.MaxAgeHours > 0 {
			cfg.Cleanup.MaxAgeHours = f.MaxAgeHours
		}
		parse[&cfg.Cleanup.Interval] = f.Interval
	}
	if len(file.Tracing) > 0 {
		if err := json.Unmarshal(file.Tracing, cfg.Tracing); err != nil {
			return fmt.Errorf("failed to parse tracing section in %s: %w", path, err)
		}
	}

	if err := parse.apply(); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// LoadFromFile returns defaults overridden by the JSON file at path
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence layers defaults, then environment, then the file
// at path (when given), and validates the result
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
