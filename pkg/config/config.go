package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	GitHub        GitHubConfig
	Graph         GraphConfig
	Scheduler     SchedulerConfig
	Notify        NotifyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is "memory" or "postgres".
	Type string

	PostgresURL      string
	PostgresMaxConns int

	// Redis backs the graph snapshot cache; empty disables the L2 tier.
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// GitHubConfig holds provider credentials.
type GitHubConfig struct {
	Token string

	// BaseURL overrides the API host for GitHub Enterprise.
	BaseURL string
}

// GraphConfig tunes dependency graph construction and caching.
type GraphConfig struct {
	NodeCap     int
	CacheTTL    time.Duration
	L1CacheSize int
}

// SchedulerConfig configures the standalone queue-processing worker.
type SchedulerConfig struct {
	// CronSpec is the robfig/cron schedule for processing passes.
	CronSpec string

	// ManifestPath points at the YAML file listing repositories to process.
	ManifestPath string
}

// NotifyConfig configures webhook event delivery.
type NotifyConfig struct {
	// Endpoints is a comma-separated list of url or url|secret pairs.
	Endpoints string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // "json" or "text"
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("MERGEPLANE_HOST", "0.0.0.0"),
			Port:            getEnv("MERGEPLANE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("MERGEPLANE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("MERGEPLANE_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("MERGEPLANE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("MERGEPLANE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("MERGEPLANE_HEALTH_PORT", "9090"),
		},
		Storage: StorageConfig{
			Type:             getEnv("MERGEPLANE_STORAGE_TYPE", "memory"),
			PostgresURL:      getEnv("MERGEPLANE_POSTGRES_URL", ""),
			PostgresMaxConns: getEnvInt("MERGEPLANE_POSTGRES_MAX_CONNS", 20),
			RedisURL:         getEnv("MERGEPLANE_REDIS_URL", ""),
			RedisPassword:    getEnv("MERGEPLANE_REDIS_PASSWORD", ""),
			RedisDB:          getEnvInt("MERGEPLANE_REDIS_DB", 0),
		},
		GitHub: GitHubConfig{
			Token:   getEnv("MERGEPLANE_GITHUB_TOKEN", ""),
			BaseURL: getEnv("MERGEPLANE_GITHUB_BASE_URL", ""),
		},
		Graph: GraphConfig{
			NodeCap:     getEnvInt("MERGEPLANE_GRAPH_NODE_CAP", 500),
			CacheTTL:    getEnvDuration("MERGEPLANE_GRAPH_CACHE_TTL", 30*time.Second),
			L1CacheSize: getEnvInt("MERGEPLANE_GRAPH_L1_CACHE_SIZE", 128),
		},
		Scheduler: SchedulerConfig{
			CronSpec:     getEnv("MERGEPLANE_SCHEDULER_CRON", "*/2 * * * *"),
			ManifestPath: getEnv("MERGEPLANE_SCHEDULER_MANIFEST", "repositories.yaml"),
		},
		Notify: NotifyConfig{
			Endpoints: getEnv("MERGEPLANE_NOTIFY_ENDPOINTS", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("MERGEPLANE_LOG_LEVEL", "info"),
			LogFormat:      getEnv("MERGEPLANE_LOG_FORMAT", "json"),
			MetricsEnabled: getEnvBool("MERGEPLANE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.GitHub.Token == "" {
		return fmt.Errorf("github token is required")
	}

	if c.Graph.NodeCap < 1 {
		return fmt.Errorf("graph node cap must be positive")
	}
	if c.Graph.L1CacheSize < 1 {
		return fmt.Errorf("graph L1 cache size must be positive")
	}

	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}

	return nil
}

// NotifyEndpoints parses the endpoint list into (url, secret) pairs.
func (c *Config) NotifyEndpoints() [][2]string {
	raw := strings.TrimSpace(c.Notify.Endpoints)
	if raw == "" {
		return nil
	}
	var out [][2]string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		url, secret, _ := strings.Cut(part, "|")
		out = append(out, [2]string{url, secret})
	}
	return out
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
