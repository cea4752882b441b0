// Package config loads server configuration from environment
// variables (prefixed WATERWHEEL_) or an optional YAML file, via
// viper — the teacher's own config-loading dependency.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of settings the server process reads at
// startup. Fields match spec §6's "CLI & env" list.
type Config struct {
	DatabaseURL   string `mapstructure:"database_url"`
	RedisURL      string `mapstructure:"redis_url"`
	BindAddr      string `mapstructure:"bind_addr"`
	KubeNamespace string `mapstructure:"kube_namespace"`
	StatsdAddr    string `mapstructure:"statsd_addr"`

	// CatchupRateLimit is loaded but not read by any component: the
	// scheduler replays backfilled activations back to back, without
	// pacing.
	CatchupRateLimit time.Duration `mapstructure:"catchup_rate_limit"`

	// CircuitBreakerFailures/Window implement the "5 failures in 60
	// seconds aborts the process" rule from spec §5.
	CircuitBreakerFailures int           `mapstructure:"circuit_breaker_failures"`
	CircuitBreakerWindow   time.Duration `mapstructure:"circuit_breaker_window"`

	// SchedulerLockFile is the secondary, host-local defense-in-depth
	// lock backing spec §9's single-active-scheduler invariant: the
	// Postgres advisory lock already serializes across hosts, this
	// guards against two processes racing to take it on the same host.
	SchedulerLockFile string `mapstructure:"scheduler_lock_file"`
}

// Load reads configuration from the environment (WATERWHEEL_* vars)
// and, if present, a YAML file at path. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WATERWHEEL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("bind_addr", ":8080")
	v.SetDefault("database_url", "postgres://localhost:5432/waterwheel?sslmode=disable")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("catchup_rate_limit", 10*time.Millisecond)
	v.SetDefault("circuit_breaker_failures", 5)
	v.SetDefault("circuit_breaker_window", 60*time.Second)
	v.SetDefault("scheduler_lock_file", "/tmp/waterwheel-scheduler.lock")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
