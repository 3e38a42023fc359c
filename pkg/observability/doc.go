// Package observability provides structured logging, Prometheus metrics, and health checks.
//
// # Overview
//
// This package centralizes observability infrastructure including JSON logging,
// metrics collection, health probes, panic recovery, and graceful shutdown.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("server started")
//
// Context-aware logging:
//
//	logger.WithField("request_id", reqID).WithError(err).Error("request failed")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.QueueMergesTotal.WithLabelValues("acme/widgets", "success").Inc()
//	metrics.GraphBuildDuration.WithLabelValues("acme/widgets").Observe(0.02)
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//	fmt.Printf("Status: %s\n", status.Status)
//
// Liveness and readiness probes are served on the health port via
// RegisterHealthRoutes. Redis being down degrades the service; the
// database being down marks it unhealthy.
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/httputil: request logging and recovery middleware
package observability
