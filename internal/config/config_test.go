package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shardtopo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, []string{"localhost:7917"}, cfg.Hosts)
	assert.Equal(t, 20, cfg.Retries)
	assert.Equal(t, 2*time.Second, cfg.RetryInterval)
	assert.Equal(t, 10, cfg.Parallelism)
	assert.Equal(t, 30, cfg.Scheduler.MaxCopies)
	assert.Equal(t, 8, cfg.Scheduler.CopiesPerHost)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.PollInterval)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
hosts: [ns1.example.com, "ns2.example.com:9000"]
retries: 3
retry_interval: 250ms
scheduler:
  max_copies: 4
  poll_interval: 1m
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ns1.example.com", "ns2.example.com:9000"}, cfg.Hosts)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryInterval)
	assert.Equal(t, 10, cfg.Parallelism, "unset keys keep their default")
	assert.Equal(t, 4, cfg.Scheduler.MaxCopies)
	assert.Equal(t, 8, cfg.Scheduler.CopiesPerHost)
	assert.Equal(t, time.Minute, cfg.Scheduler.PollInterval)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "hosts: [from-file]\nretries: 3\n")
	t.Setenv(EnvHosts, " a:1, b ,,")
	t.Setenv(EnvRetries, "0")
	t.Setenv(EnvDryRun, "true")
	t.Setenv(EnvPollInterval, "10ms")
	t.Setenv(EnvCopiesPerHost, "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b"}, cfg.Hosts)
	assert.Equal(t, 0, cfg.Retries)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 10*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, 2, cfg.Scheduler.CopiesPerHost)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("bad yaml", func(t *testing.T) {
		_, err := Load(writeFile(t, "hosts: [unterminated"))
		assert.Error(t, err)
	})
	t.Run("bad env values", func(t *testing.T) {
		t.Setenv(EnvRetries, "many")
		t.Setenv(EnvRetryInterval, "soon")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), EnvRetries)
		assert.Contains(t, err.Error(), EnvRetryInterval)
	})
	t.Run("invalid values", func(t *testing.T) {
		t.Setenv(EnvParallelism, "0")
		_, err := Load("")
		assert.ErrorContains(t, err, "parallelism")
	})
}

func TestReadLeavesValidationToCaller(t *testing.T) {
	t.Setenv(EnvParallelism, "0")
	cfg, err := Read("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Parallelism)
	assert.Error(t, cfg.Validate())

	cfg.Parallelism = 5
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no hosts", func(c *Config) { c.Hosts = nil }, false},
		{"negative retries", func(c *Config) { c.Retries = -1 }, false},
		{"zero retries", func(c *Config) { c.Retries = 0 }, true},
		{"negative interval", func(c *Config) { c.RetryInterval = -time.Second }, false},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }, false},
		{"zero max copies", func(c *Config) { c.Scheduler.MaxCopies = 0 }, false},
		{"zero copies per host", func(c *Config) { c.Scheduler.CopiesPerHost = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.DryRun = true
	cfg.Hosts = []string{"a", "b"}

	tc := cfg.Topology()
	assert.Equal(t, []string{"a", "b"}, tc.Hosts)
	assert.True(t, tc.DryRun)
	assert.Equal(t, cfg.Retries, tc.Retries)
	assert.Equal(t, cfg.Parallelism, tc.Parallelism)

	tc.Hosts[0] = "changed"
	assert.Equal(t, "a", cfg.Hosts[0])

	opts := cfg.SchedulerOptions()
	assert.Equal(t, 30, opts.MaxCopies)
	assert.Equal(t, 8, opts.CopiesPerHost)
	assert.Nil(t, opts.Observer)
}
