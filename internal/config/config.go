// Package config handles loading and validating the vigil daemon
// configuration from YAML files, with defaults suitable for local
// development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilsec/vigil/internal/db"
)

// Config represents the complete daemon configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Engine configuration (admission limits, job timeouts)
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// EngineConfig holds admission and job lifecycle settings
type EngineConfig struct {
	// Maximum jobs running concurrently across all accounts
	MaxConcurrentJobs int `yaml:"max_concurrent_jobs" json:"max_concurrent_jobs"`

	// Maximum jobs running concurrently per account
	MaxJobsPerAccount int `yaml:"max_jobs_per_account" json:"max_jobs_per_account"`

	// Maximum queued (pending) jobs per account before rejection
	MaxQueueDepth int `yaml:"max_queue_depth" json:"max_queue_depth"`

	// Default per-job execution timeout when the request omits one
	DefaultJobTimeout time.Duration `yaml:"default_job_timeout" json:"default_job_timeout"`

	// Hard cap on per-job execution timeout
	MaxJobTimeout time.Duration `yaml:"max_job_timeout" json:"max_job_timeout"`

	// Grace period before a cooperative cancel is forced
	CancelGracePeriod time.Duration `yaml:"cancel_grace_period" json:"cancel_grace_period"`
}

// SchedulerConfig holds scheduled scan settings
type SchedulerConfig struct {
	// Enable the scheduler loop
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Interval between due-definition sweeps
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Request timeout
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	// Enable CORS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Allowed methods
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`

	// Allowed headers
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// RateLimitConfig holds API rate limiting settings
type RateLimitConfig struct {
	// Enable rate limiting
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Requests per second per client
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second"`

	// Burst size
	BurstSize int `yaml:"burst_size" json:"burst_size"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "/var/run/vigil.pid",
			WorkDir:         "/var/lib/vigil",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: db.DefaultConfig(),
		Engine: EngineConfig{
			MaxConcurrentJobs: 10,
			MaxJobsPerAccount: 3,
			MaxQueueDepth:     20,
			DefaultJobTimeout: 5 * time.Minute,
			MaxJobTimeout:     1 * time.Hour,
			CancelGracePeriod: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			TickInterval: 30 * time.Second,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8080,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Account-ID"},
			},
			RequestTimeout: 30 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stdout",
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate database configuration
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	// Validate engine configuration
	if c.Engine.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("max concurrent jobs must be positive")
	}
	if c.Engine.MaxJobsPerAccount <= 0 {
		return fmt.Errorf("max jobs per account must be positive")
	}
	if c.Engine.MaxJobsPerAccount > c.Engine.MaxConcurrentJobs {
		return fmt.Errorf("max jobs per account cannot exceed max concurrent jobs")
	}
	if c.Engine.MaxQueueDepth <= 0 {
		return fmt.Errorf("max queue depth must be positive")
	}
	if c.Engine.DefaultJobTimeout <= 0 {
		return fmt.Errorf("default job timeout must be positive")
	}
	if c.Engine.MaxJobTimeout < c.Engine.DefaultJobTimeout {
		return fmt.Errorf("max job timeout cannot be below the default job timeout")
	}
	if c.Engine.CancelGracePeriod <= 0 {
		return fmt.Errorf("cancel grace period must be positive")
	}

	// Validate scheduler configuration
	if c.Scheduler.Enabled && c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler tick interval must be positive")
	}

	// Validate API configuration
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("API port must be between 1 and 65535")
		}
		if c.API.ListenAddr == "" {
			return fmt.Errorf("API listen address is required when API is enabled")
		}
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// GetDatabaseConfig returns the database configuration
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}
