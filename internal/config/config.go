// Package config loads the Agent Run Engine's configuration from the
// process environment. There is no config file format: every knob is an
// environment variable with a typed default, wired by hand rather than
// through a config framework.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ShadewG/autobot-engine/internal/graph"
	"github.com/ShadewG/autobot-engine/internal/lock"
	"github.com/ShadewG/autobot-engine/internal/runengine"
)

// Config is every tunable internal/app needs to wire the engine.
type Config struct {
	// DatabaseURL is the pgx DSN shared by the Persistent Store, Checkpoint
	// Store and Job Queue (one Postgres instance backs all three).
	DatabaseURL string

	// MetricsAddr is where internal/app listens for Prometheus scrapes.
	// Empty disables the listener.
	MetricsAddr string

	Lock      lock.Options
	Graph     graph.Options
	RunEngine runengine.Options

	// SchedulerInterval is how often internal/runengine.Scheduler polls
	// for due follow-ups. Default 30s.
	SchedulerInterval time.Duration

	// QueueWorkers overrides MaxWorkers per internal/queue profile name
	// (agent, email, analysis, generation, portal). A name absent from
	// this map keeps internal/queue.Profiles' built-in default.
	QueueWorkers map[string]int
}

// Load reads Config from the environment, applying the same defaults
// their zero-value structs (lock.Options, graph.Options,
// runengine.Options) already carry wherever a variable is unset.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("ENGINE_DATABASE_URL"),
		MetricsAddr: getEnv("ENGINE_METRICS_ADDR", ""),
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: ENGINE_DATABASE_URL is required")
	}

	var err error
	if cfg.Lock.LockTTL, err = getEnvDuration("ENGINE_LOCK_TTL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Lock.HeartbeatInterval, err = getEnvDuration("ENGINE_LOCK_HEARTBEAT_INTERVAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Lock.ReaperInterval, err = getEnvDuration("ENGINE_LOCK_REAPER_INTERVAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Lock.LockTimeout, err = getEnvDuration("ENGINE_LOCK_TIMEOUT", 0); err != nil {
		return Config{}, err
	}

	if cfg.Graph.WallClockBudget, err = getEnvDuration("ENGINE_GRAPH_WALL_CLOCK_BUDGET", 0); err != nil {
		return Config{}, err
	}
	if cfg.Graph.DefaultNodeTimeout, err = getEnvDuration("ENGINE_GRAPH_NODE_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	if cfg.Graph.MaxConditionalIterations, err = getEnvInt("ENGINE_GRAPH_MAX_CONDITIONAL_ITERATIONS", 0); err != nil {
		return Config{}, err
	}

	if cfg.RunEngine.GraphExecutionTimeout, err = getEnvDuration("ENGINE_RUN_TIMEOUT", 0); err != nil {
		return Config{}, err
	}

	if cfg.SchedulerInterval, err = getEnvDuration("ENGINE_SCHEDULER_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}

	cfg.QueueWorkers = map[string]int{}
	for _, name := range []string{"agent", "email", "analysis", "generation", "portal"} {
		n, err := getEnvInt("ENGINE_QUEUE_"+envSuffix(name)+"_WORKERS", 0)
		if err != nil {
			return Config{}, err
		}
		if n > 0 {
			cfg.QueueWorkers[name] = n
		}
	}

	return cfg, nil
}

func envSuffix(queueName string) string {
	return strings.ToUpper(queueName)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return d, nil
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	return n, nil
}
