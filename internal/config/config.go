package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Claudia configuration
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Session  SessionConfig  `mapstructure:"session"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DataConfig controls where Claudia stores its state
type DataConfig struct {
	// Dir is the directory where session state, the run ledger, and logs live.
	// If empty, defaults to ~/.claudia-coder.
	// Supports ~ for home directory expansion.
	Dir string `mapstructure:"dir"`
}

// SessionConfig controls session persistence and retention behavior
type SessionConfig struct {
	// MaxSessions is the maximum number of sessions kept on disk.
	// Running sessions are always retained; the remainder of the budget goes
	// to the most recently started finished sessions (default: 100)
	MaxSessions int `mapstructure:"max_sessions"`
	// StaleAgeMinutes is how old a running session must be before startup
	// cleanup marks it as errored (default: 60, 0 = disabled)
	StaleAgeMinutes int `mapstructure:"stale_age_minutes"`
	// HistoryLimit is the default number of sessions returned by history
	// queries when no explicit limit is given (default: 20)
	HistoryLimit int `mapstructure:"history_limit"`
}

// ExecutorConfig controls how work packets are executed
type ExecutorConfig struct {
	// Command is the executable invoked for each work packet (default: "claude")
	Command string `mapstructure:"command"`
	// Args are extra arguments passed to the command before the packet ID
	Args []string `mapstructure:"args"`
	// Concurrency is the number of packets executed in parallel.
	// 0 runs all packets at once (default: 1)
	Concurrency int `mapstructure:"concurrency"`
	// FailFast stops launching new packets after the first failure and
	// finalizes the session as errored (default: false)
	FailFast bool `mapstructure:"fail_fast"`
	// TimeoutMinutes is the maximum runtime per packet in minutes (0 = disabled)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// ServerConfig controls the HTTP API server
type ServerConfig struct {
	// Addr is the listen address for the API server (default: ":8844")
	Addr string `mapstructure:"addr"`
	// ShutdownTimeoutSeconds is how long to wait for in-flight requests
	// during graceful shutdown (default: 10)
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// ResolveDir returns the resolved data directory path.
// If Dir is empty, it returns ~/.claudia-coder.
// If Dir starts with ~, it expands to the user's home directory.
func (d *DataConfig) ResolveDir() string {
	if d.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ".claudia-coder"
		}
		return filepath.Join(home, ".claudia-coder")
	}

	path := d.Dir

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}

	return path
}

// StaleAge returns the stale session threshold as a time.Duration (0 means disabled)
func (s *SessionConfig) StaleAge() time.Duration {
	return time.Duration(s.StaleAgeMinutes) * time.Minute
}

// Timeout returns the per-packet timeout as a time.Duration (0 means disabled)
func (e *ExecutorConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMinutes) * time.Minute
}

// ShutdownTimeout returns the graceful shutdown timeout as a time.Duration
func (s *ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Dir: "", // Empty means use default: ~/.claudia-coder
		},
		Session: SessionConfig{
			MaxSessions:     100,
			StaleAgeMinutes: 60, // Running sessions older than 1h are stale
			HistoryLimit:    20,
		},
		Executor: ExecutorConfig{
			Command:        "claude",
			Args:           []string{},
			Concurrency:    1, // Sequential execution by default
			FailFast:       false,
			TimeoutMinutes: 0, // Disabled by default (no max runtime limit)
		},
		Server: ServerConfig{
			Addr:                   ":8844",
			ShutdownTimeoutSeconds: 10,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Data defaults
	viper.SetDefault("data.dir", defaults.Data.Dir)

	// Session defaults
	viper.SetDefault("session.max_sessions", defaults.Session.MaxSessions)
	viper.SetDefault("session.stale_age_minutes", defaults.Session.StaleAgeMinutes)
	viper.SetDefault("session.history_limit", defaults.Session.HistoryLimit)

	// Executor defaults
	viper.SetDefault("executor.command", defaults.Executor.Command)
	viper.SetDefault("executor.args", defaults.Executor.Args)
	viper.SetDefault("executor.concurrency", defaults.Executor.Concurrency)
	viper.SetDefault("executor.fail_fast", defaults.Executor.FailFast)
	viper.SetDefault("executor.timeout_minutes", defaults.Executor.TimeoutMinutes)

	// Server defaults
	viper.SetDefault("server.addr", defaults.Server.Addr)
	viper.SetDefault("server.shutdown_timeout_seconds", defaults.Server.ShutdownTimeoutSeconds)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "claudia-coder")
	}
	// Fall back to ~/.config/claudia-coder
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claudia-coder"
	}
	return filepath.Join(home, ".config", "claudia-coder")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
