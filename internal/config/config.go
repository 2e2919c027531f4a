// Package config loads and validates bridge configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	History HistoryConfig `mapstructure:"history"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Preview PreviewConfig `mapstructure:"preview"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// WorkerConfig describes the external worker executable.
type WorkerConfig struct {
	Command              string `mapstructure:"command"`
	Script               string `mapstructure:"script"`
	WorkDir              string `mapstructure:"work_dir"`
	GracePeriodSeconds   int    `mapstructure:"grace_period_seconds"`
	CourseTimeoutSeconds int    `mapstructure:"course_timeout_seconds"`
	CoursesFile          string `mapstructure:"courses_file"`
	DefaultCourseURL     string `mapstructure:"default_course_url"`
}

// HistoryConfig bounds the in-memory run history.
type HistoryConfig struct {
	LogCapacity      int `mapstructure:"log_capacity"`
	DownloadCapacity int `mapstructure:"download_capacity"`
}

// StreamConfig governs event stream sessions.
type StreamConfig struct {
	MailboxSize      int `mapstructure:"mailbox_size"`
	KeepAliveSeconds int `mapstructure:"keepalive_seconds"`
}

// PreviewConfig bounds the file preview endpoint.
type PreviewConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("worker.command", "node")
	v.SetDefault("worker.script", "scraper.js")
	v.SetDefault("worker.work_dir", ".")
	v.SetDefault("worker.grace_period_seconds", 5)
	v.SetDefault("worker.course_timeout_seconds", 120)
	v.SetDefault("history.log_capacity", 500)
	v.SetDefault("history.download_capacity", 300)
	v.SetDefault("stream.mailbox_size", 500)
	v.SetDefault("stream.keepalive_seconds", 10)
	v.SetDefault("preview.max_bytes", 8*1024*1024)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must be set")
	}
	if c.History.LogCapacity <= 0 {
		return fmt.Errorf("history.log_capacity must be > 0")
	}
	if c.History.DownloadCapacity <= 0 {
		return fmt.Errorf("history.download_capacity must be > 0")
	}
	if c.Stream.MailboxSize <= 0 {
		return fmt.Errorf("stream.mailbox_size must be > 0")
	}
	if c.Stream.KeepAliveSeconds <= 0 {
		return fmt.Errorf("stream.keepalive_seconds must be > 0")
	}
	if c.Preview.MaxBytes <= 0 {
		return fmt.Errorf("preview.max_bytes must be > 0")
	}
	return nil
}

// GracePeriod returns the worker termination grace period.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.Worker.GracePeriodSeconds) * time.Second
}

// CourseTimeout returns the course listing timeout.
func (c Config) CourseTimeout() time.Duration {
	return time.Duration(c.Worker.CourseTimeoutSeconds) * time.Second
}

// KeepAlive returns the stream idle keepalive interval.
func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.Stream.KeepAliveSeconds) * time.Second
}
