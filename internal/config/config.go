// Package config loads the settings shared by shardctl and the library
// packages: the shard manager hosts, retry policy, traversal parallelism and
// scheduler limits.
//
// Values are layered. Defaults come first, then an optional YAML file, then
// SHARDTOPO_* environment variables. Command line flags are applied by the
// caller on top of the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardtopo/internal/rpc"
	"github.com/dreamware/shardtopo/internal/scheduler"
	"github.com/dreamware/shardtopo/internal/topology"
)

// Environment variables read by Load.
const (
	EnvHosts         = "SHARDTOPO_HOSTS"
	EnvRetries       = "SHARDTOPO_RETRIES"
	EnvRetryInterval = "SHARDTOPO_RETRY_INTERVAL"
	EnvParallelism   = "SHARDTOPO_PARALLELISM"
	EnvDryRun        = "SHARDTOPO_DRY_RUN"
	EnvMaxCopies     = "SHARDTOPO_MAX_COPIES"
	EnvCopiesPerHost = "SHARDTOPO_COPIES_PER_HOST"
	EnvPollInterval  = "SHARDTOPO_POLL_INTERVAL"
)

// Config is the complete client configuration.
type Config struct {
	// Hosts are shard manager endpoints, primary first. A host without a
	// port uses rpc.DefaultPort.
	Hosts         []string        `yaml:"hosts"`
	Retries       int             `yaml:"retries"`
	RetryInterval time.Duration   `yaml:"retry_interval"`
	Parallelism   int             `yaml:"parallelism"`
	DryRun        bool            `yaml:"dry_run"`
	Scheduler     SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig holds the admission limits of a migration run.
type SchedulerConfig struct {
	MaxCopies     int           `yaml:"max_copies"`
	CopiesPerHost int           `yaml:"copies_per_host"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration for a single local shard manager.
func Default() Config {
	return Config{
		Hosts:         []string{fmt.Sprintf("localhost:%d", rpc.DefaultPort)},
		Retries:       rpc.DefaultRetries,
		RetryInterval: rpc.DefaultRetryInterval,
		Parallelism:   topology.DefaultParallelism,
		Scheduler: SchedulerConfig{
			MaxCopies:     scheduler.DefaultMaxCopies,
			CopiesPerHost: scheduler.DefaultCopiesPerHost,
			PollInterval:  scheduler.DefaultPollInterval,
		},
	}
}

// Load builds a Config with Read and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read builds a Config from the defaults, the YAML file at path (skipped
// when path is empty) and the environment without validating it, for
// callers that apply further overrides first.
func Read(path string) (Config, error) {
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
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := getenv(EnvHosts, ""); v != "" {
		c.Hosts = SplitHosts(v)
	}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envInt(EnvRetries, &c.Retries))
	collect(envDuration(EnvRetryInterval, &c.RetryInterval))
	collect(envInt(EnvParallelism, &c.Parallelism))
	collect(envBool(EnvDryRun, &c.DryRun))
	collect(envInt(EnvMaxCopies, &c.Scheduler.MaxCopies))
	collect(envInt(EnvCopiesPerHost, &c.Scheduler.CopiesPerHost))
	collect(envDuration(EnvPollInterval, &c.Scheduler.PollInterval))
	return errors.Join(errs...)
}

// SplitHosts parses a comma separated host list, dropping blanks.
func SplitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Validate rejects settings no client could run with.
func (c Config) Validate() error {
	switch {
	case len(c.Hosts) == 0:
		return errors.New("config: no hosts")
	case c.Retries < 0:
		return fmt.Errorf("config: retries must not be negative, got %d", c.Retries)
	case c.RetryInterval < 0:
		return fmt.Errorf("config: retry interval must not be negative, got %v", c.RetryInterval)
	case c.Parallelism <= 0:
		return fmt.Errorf("config: parallelism must be positive, got %d", c.Parallelism)
	}
	return c.SchedulerOptions().Validate()
}

// Topology returns the client configuration for topology.New.
func (c Config) Topology() topology.Config {
	return topology.Config{
		Hosts:         append([]string(nil), c.Hosts...),
		Retries:       c.Retries,
		RetryInterval: c.RetryInterval,
		Parallelism:   c.Parallelism,
		DryRun:        c.DryRun,
	}
}

// SchedulerOptions returns the admission limits for scheduler.New.
func (c Config) SchedulerOptions() scheduler.Options {
	return scheduler.Options{
		MaxCopies:     c.Scheduler.MaxCopies,
		CopiesPerHost: c.Scheduler.CopiesPerHost,
		PollInterval:  c.Scheduler.PollInterval,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, dst *int) error {
	v := getenv(k, "")
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = n
	return nil
}

func envBool(k string, dst *bool) error {
	v := getenv(k, "")
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = b
	return nil
}

func envDuration(k string, dst *time.Duration) error {
	v := getenv(k, "")
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	*dst = d
	return nil
}
