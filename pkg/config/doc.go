// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	MERGEPLANE_HOST="0.0.0.0"
//	MERGEPLANE_PORT="8080"
//	MERGEPLANE_HEALTH_PORT="9090"
//	MERGEPLANE_READ_TIMEOUT="15s"
//	MERGEPLANE_WRITE_TIMEOUT="30s"
//
// Storage settings:
//
//	MERGEPLANE_STORAGE_TYPE="postgres"  # memory, postgres
//	MERGEPLANE_POSTGRES_URL="postgres://localhost/mergeplane"
//	MERGEPLANE_POSTGRES_MAX_CONNS="20"
//	MERGEPLANE_REDIS_URL="localhost:6379"
//
// Provider settings:
//
//	MERGEPLANE_GITHUB_TOKEN="ghp_..."
//	MERGEPLANE_GITHUB_BASE_URL=""  # set for GitHub Enterprise
//
// Graph settings:
//
//	MERGEPLANE_GRAPH_NODE_CAP="500"
//	MERGEPLANE_GRAPH_CACHE_TTL="30s"
//	MERGEPLANE_GRAPH_L1_CACHE_SIZE="128"
//
// Scheduler worker settings:
//
//	MERGEPLANE_SCHEDULER_CRON="*/2 * * * *"
//	MERGEPLANE_SCHEDULER_MANIFEST="repositories.yaml"
//
// Notification settings:
//
//	MERGEPLANE_NOTIFY_ENDPOINTS="https://ci.example.com/hook|secret,https://other/hook"
//
// Observability settings:
//
//	MERGEPLANE_LOG_LEVEL="info"  # debug, info, warn, error
//	MERGEPLANE_LOG_FORMAT="json" # json, text
//	MERGEPLANE_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
//
// # Related Packages
//
//   - pkg/api: consumes server configuration
//   - pkg/observability: consumes logging and metrics configuration
package config
