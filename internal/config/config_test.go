package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// valid returns a config that passes Validate.
func valid() *Config {
	cfg := Default()
	cfg.Database.Database = "vigil"
	cfg.Database.Username = "vigil"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 10, cfg.Engine.MaxConcurrentJobs)
	assert.Equal(t, 3, cfg.Engine.MaxJobsPerAccount)
	assert.Equal(t, 20, cfg.Engine.MaxQueueDepth)
	assert.Equal(t, 5*time.Minute, cfg.Engine.DefaultJobTimeout)
	assert.Equal(t, time.Hour, cfg.Engine.MaxJobTimeout)
	assert.Equal(t, 10*time.Second, cfg.Engine.CancelGracePeriod)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.GetAPIAddress())
	assert.Contains(t, cfg.API.CORS.AllowedHeaders, "X-Account-ID")

	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  database: vigil
  username: vigil
engine:
  max_concurrent_jobs: 4
  max_jobs_per_account: 2
scheduler:
  tick_interval: 10s
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Engine.MaxConcurrentJobs)
	assert.Equal(t, 2, cfg.Engine.MaxJobsPerAccount)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, 20, cfg.Engine.MaxQueueDepth)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  database: vigil
  username: vigil
engine:
  max_concurrent_jobs: 2
  max_jobs_per_account: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max jobs per account")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := valid()
	cfg.API.Port = 9090
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.API.Port)
	assert.Equal(t, cfg.Engine, loaded.Engine)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing database name", func(c *Config) { c.Database.Database = "" }, "database name"},
		{"missing username", func(c *Config) { c.Database.Username = "" }, "database username"},
		{"zero concurrent jobs", func(c *Config) { c.Engine.MaxConcurrentJobs = 0 }, "max concurrent jobs"},
		{"per-account above global", func(c *Config) { c.Engine.MaxJobsPerAccount = 11 }, "cannot exceed"},
		{"zero queue depth", func(c *Config) { c.Engine.MaxQueueDepth = 0 }, "queue depth"},
		{"max timeout below default", func(c *Config) { c.Engine.MaxJobTimeout = time.Minute }, "max job timeout"},
		{"zero grace period", func(c *Config) { c.Engine.CancelGracePeriod = 0 }, "grace period"},
		{"zero tick interval", func(c *Config) { c.Scheduler.TickInterval = 0 }, "tick interval"},
		{"bad api port", func(c *Config) { c.API.Port = 70000 }, "API port"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSkipsDisabledComponents(t *testing.T) {
	cfg := valid()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.TickInterval = 0
	cfg.API.Enabled = false
	cfg.API.Port = 0

	assert.NoError(t, cfg.Validate())
}
