package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Archive   ArchiveConfig   `yaml:"archive"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Limits    LimitsConfig    `yaml:"limits"`
	Reaper    ReaperConfig    `yaml:"reaper"`
	MDNS      MDNSConfig      `yaml:"mdns"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DBPath    string `yaml:"db_path"`
	QueueSize int    `yaml:"queue_size"`
}

type RateLimitConfig struct {
	PerSecond     float64 `yaml:"per_second"`
	Burst         int     `yaml:"burst"`
	MaxViolations int     `yaml:"max_violations"`
}

type LimitsConfig struct {
	MaxPointsPerBatch int   `yaml:"max_points_per_batch"`
	MaxNameLength     int   `yaml:"max_name_length"`
	MaxRoomIDLength   int   `yaml:"max_room_id_length"`
	MaxLocalIDLength  int   `yaml:"max_local_id_length"`
	MaxMessageSize    int64 `yaml:"max_message_size"`
}

// A zero PendingTTL disables the reaper
type ReaperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:   true,
			DBPath:    "./data/inkwell.db",
			QueueSize: 4096,
		},
		RateLimit: RateLimitConfig{
			PerSecond:     100,
			Burst:         200,
			MaxViolations: 1000,
		},
		Limits: LimitsConfig{
			MaxPointsPerBatch: 2048,
			MaxNameLength:     50,
			MaxRoomIDLength:   50,
			MaxLocalIDLength:  128,
			MaxMessageSize:    1024 * 1024,
		},
		Reaper: ReaperConfig{
			Interval:   time.Minute,
			PendingTTL: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	if addr, ok := lookup("INKWELL_ADDR"); ok && addr != "" {
		c.Server.Addr = addr
	}
	if path, ok := lookup("INKWELL_DB_PATH"); ok && path != "" {
		c.Archive.DBPath = path
	}
	if v, ok := lookup("INKWELL_ARCHIVE"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INKWELL_ARCHIVE: %w", err)
		}
		c.Archive.Enabled = enabled
	}
	if v, ok := lookup("INKWELL_MDNS"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("INKWELL_MDNS: %w", err)
		}
		c.MDNS.Enabled = enabled
	}
	if level, ok := lookup("INKWELL_LOG_LEVEL"); ok && level != "" {
		c.Log.Level = level
	}
	if format, ok := lookup("INKWELL_LOG_FORMAT"); ok && format != "" {
		c.Log.Format = format
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr must not be empty"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Archive.Enabled {
		if c.Archive.DBPath == "" {
			errs = append(errs, errors.New("archive.db_path is required when the archive is enabled"))
		}
		if c.Archive.QueueSize <= 0 {
			errs = append(errs, errors.New("archive.queue_size must be positive"))
		}
	}
	if c.RateLimit.PerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate_limit.per_second and rate_limit.burst must be positive"))
	}
	if c.Limits.MaxPointsPerBatch <= 0 {
		errs = append(errs, errors.New("limits.max_points_per_batch must be positive"))
	}
	if c.Limits.MaxNameLength <= 0 || c.Limits.MaxRoomIDLength <= 0 || c.Limits.MaxLocalIDLength <= 0 {
		errs = append(errs, errors.New("limits lengths must be positive"))
	}
	if c.Limits.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("limits.max_message_size must be positive"))
	}
	if c.Reaper.PendingTTL < 0 {
		errs = append(errs, errors.New("reaper.pending_ttl must not be negative"))
	}
	if c.Reaper.PendingTTL > 0 && c.Reaper.Interval <= 0 {
		errs = append(errs, errors.New("reaper.interval must be positive when the reaper is enabled"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	return errors.Join(errs...)
}
