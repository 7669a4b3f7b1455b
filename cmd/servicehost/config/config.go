// Package config provides configuration parsing for the service host.
//
// Values come from command-line flags, then environment variables, then
// defaults, in that order of precedence.
//
//	cfg := config.ParseFlags()
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Listen     string
	GRPCListen string

	// Storage backend: memory, redis or sqlite.
	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	KeyPrefix     string

	PollInterval time.Duration

	// Prometheus signal source. Load monitoring services fail to refresh
	// without it.
	PromURL  string
	PromStep time.Duration
	GapFill  bool

	LogFormat string
	LogLevel  string
}

func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address (empty disables gRPC)")
	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend (memory|redis|sqlite)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.StringVar(&cfg.SQLitePath, "sqlite-path", getEnv("SQLITE_PATH", "data/gridservices.db"), "SQLite database file")
	flag.StringVar(&cfg.KeyPrefix, "key-prefix", getEnv("KEY_PREFIX", ""), "Prefix prepended to every storage key")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", getEnvDuration("POLL_INTERVAL", 100*time.Millisecond), "Sampler poll interval")
	flag.StringVar(&cfg.PromURL, "prom-url", getEnv("PROM_URL", "http://localhost:9090"), "Prometheus server URL (empty disables load monitoring)")
	flag.DurationVar(&cfg.PromStep, "prom-step", getEnvDuration("PROM_STEP", time.Minute), "Prometheus query step")
	flag.BoolVar(&cfg.GapFill, "gap-fill", getEnvBool("GAP_FILL", false), "Forward-fill missing signal samples")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format (text|json)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	return cfg
}

// Validate checks the backend selection and the values it requires.
func (c *Config) Validate() error {
	switch c.Storage {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("-redis-addr is required for redis storage")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("-sqlite-path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("invalid -storage %q (memory|redis|sqlite)", c.Storage)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("-poll-interval must be positive, got %v", c.PollInterval)
	}
	if c.PromStep < time.Second {
		return fmt.Errorf("-prom-step must be at least 1s, got %v", c.PromStep)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
