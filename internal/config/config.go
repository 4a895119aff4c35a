// Package config provides configuration management for distconv using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultMaxOpenConns     = 25
	defaultMaxIdleConns     = 10
	defaultConnMaxIdleTime  = 30 * time.Minute
	defaultScanCron         = "5 * * * *" // hourly at minute 5
	defaultScanBatchSize    = 20
	defaultHeartbeatTimeout = 30 * time.Second
	defaultTaskStallTimeout = 60 * time.Second
	defaultSweepInterval    = 30 * time.Second
	defaultPingInterval     = 5 * time.Second
	defaultPongTimeout      = 10 * time.Second
)

// Config holds all configuration for the coordinator.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Liveness LivenessConfig `mapstructure:"liveness"`
	Socket   SocketConfig   `mapstructure:"socket"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// ScanConfig holds filesystem scanner configuration.
type ScanConfig struct {
	// Paths are the absolute scan roots, comma-separated in file/env form.
	Paths []string `mapstructure:"paths"`

	// Cron is the scan schedule (5-field cron, default hourly at minute 5).
	Cron string `mapstructure:"cron"`

	// Interval schedules scans on a fixed period instead; ignored unless
	// Cron is cleared.
	Interval time.Duration `mapstructure:"interval"`

	// OnStartup triggers one scan when the daemon boots.
	OnStartup bool `mapstructure:"on_startup"`

	// BatchSize bounds how many files are committed per transaction.
	BatchSize int `mapstructure:"batch_size"`
}

// LivenessConfig holds heartbeat and stall detection configuration.
type LivenessConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	TaskStallTimeout time.Duration `mapstructure:"task_stall_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
}

// SocketConfig holds realtime channel keepalive configuration.
type SocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with DISTCONV_, with underscores for nesting.
// Example: DISTCONV_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/distconv")
		v.AddConfigPath("$HOME/.distconv")
	}

	v.SetEnvPrefix("DISTCONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// scan.paths may arrive as a single comma-separated string from env vars.
	cfg.Scan.Paths = splitPaths(cfg.Scan.Paths)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// splitPaths expands comma-separated entries and trims whitespace.
func splitPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		for _, part := range strings.Split(p, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "distconv.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("scan.paths", []string{})
	v.SetDefault("scan.cron", defaultScanCron)
	v.SetDefault("scan.interval", 0)
	v.SetDefault("scan.on_startup", true)
	v.SetDefault("scan.batch_size", defaultScanBatchSize)

	v.SetDefault("liveness.heartbeat_timeout", defaultHeartbeatTimeout)
	v.SetDefault("liveness.task_stall_timeout", defaultTaskStallTimeout)
	v.SetDefault("liveness.sweep_interval", defaultSweepInterval)

	v.SetDefault("socket.ping_interval", defaultPingInterval)
	v.SetDefault("socket.pong_timeout", defaultPongTimeout)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Scan.BatchSize < 1 {
		return fmt.Errorf("scan.batch_size must be at least 1")
	}
	if c.Liveness.HeartbeatTimeout <= 0 {
		return fmt.Errorf("liveness.heartbeat_timeout must be positive")
	}
	if c.Liveness.TaskStallTimeout <= 0 {
		return fmt.Errorf("liveness.task_stall_timeout must be positive")
	}
	if c.Liveness.SweepInterval <= 0 {
		return fmt.Errorf("liveness.sweep_interval must be positive")
	}

	return nil
}

// ValidateScanRoots fails only when every configured root is missing; a
// subset of unreachable roots is tolerated and skipped by the scanner.
func (c *ScanConfig) ValidateScanRoots() error {
	if len(c.Paths) == 0 {
		return nil
	}
	for _, root := range c.Paths {
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			return nil
		}
	}
	return fmt.Errorf("none of the configured scan roots exist: %s", strings.Join(c.Paths, ", "))
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
