// Command mergeplane runs the merge orchestration API server.
package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/mergeplane/mergeplane/pkg/api"
	"github.com/mergeplane/mergeplane/pkg/config"
	"github.com/mergeplane/mergeplane/pkg/graph"
	"github.com/mergeplane/mergeplane/pkg/notify"
	"github.com/mergeplane/mergeplane/pkg/observability"
	"github.com/mergeplane/mergeplane/pkg/provider"
	"github.com/mergeplane/mergeplane/pkg/queue"
	"github.com/mergeplane/mergeplane/pkg/workflow"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}

	log := newLogger(cfg)

	var db *sql.DB
	if cfg.Storage.Type == "postgres" {
		db, err = sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			log.Fatalf("failed to open postgres connection: %v", err)
		}
		db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		defer db.Close()
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisURL,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		defer redisClient.Close()
	}

	var workflowStore workflow.Store
	var queueStore queue.Store
	if db != nil {
		workflowStore = workflow.NewPostgresStore(db)
		queueStore = queue.NewPostgresStore(db, log)
	} else {
		workflowStore = workflow.NewMemoryStore()
		queueStore = queue.NewMemoryStore()
		log.Warn("using in-memory storage; state is lost on restart")
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	if db != nil && metrics != nil {
		dbStatsDone := make(chan struct{})
		defer close(dbStatsDone)
		go metrics.ObserveDBStats(func() (int, int) {
			stats := db.Stats()
			return stats.InUse, stats.Idle
		}, 15*time.Second, dbStatsDone)
	}

	client := provider.NewGitHubClient(cfg.GitHub.Token, cfg.GitHub.BaseURL, log).WithMetrics(metrics)

	broadcaster := newBroadcaster(cfg, log)

	cache, err := graph.NewSnapshotCache(cfg.Graph.L1CacheSize, cfg.Graph.CacheTTL, redisClient)
	if err != nil {
		log.Fatalf("failed to create snapshot cache: %v", err)
	}
	cache.WithMetrics(metrics)

	builder := graph.NewBuilder(workflowStore).WithNodeCap(cfg.Graph.NodeCap).WithMetrics(metrics)
	graphService := graph.NewService(builder, workflowStore, cache)
	scheduler := queue.NewScheduler(queueStore, client, broadcaster, log).WithMetrics(metrics)

	server := api.NewServer(api.Options{
		Graph:   graph.NewHandlers(graphService),
		Queue:   queue.NewHandlers(queueStore, scheduler, broadcaster, log),
		Metrics: metrics,
		Log:     log,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port so probes bypass API middleware.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("health server stopped")
		}
	}()

	go func() {
		log.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"storage": cfg.Storage.Type,
		}).Info("mergeplane API server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	shutdownLog := observability.NewLogger(parseLogLevel(cfg.Observability.LogLevel), os.Stdout)
	if err := observability.GracefulShutdown(shutdownLog, httpServer, cfg.Server.ShutdownTimeout, func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	}); err != nil {
		log.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if strings.EqualFold(cfg.Observability.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}
	return log
}

func newBroadcaster(cfg *config.Config, log *logrus.Logger) notify.Broadcaster {
	pairs := cfg.NotifyEndpoints()
	if len(pairs) == 0 {
		return notify.NopBroadcaster{}
	}
	endpoints := make([]notify.Endpoint, 0, len(pairs))
	for _, p := range pairs {
		endpoints = append(endpoints, notify.Endpoint{URL: p[0], Secret: p[1]})
	}
	return notify.NewWebhookBroadcaster(endpoints, log)
}

func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}
