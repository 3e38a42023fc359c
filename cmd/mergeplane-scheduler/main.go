// Command mergeplane-scheduler runs periodic queue processing passes for the
// repositories listed in a YAML manifest.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/mergeplane/mergeplane/pkg/config"
	"github.com/mergeplane/mergeplane/pkg/notify"
	"github.com/mergeplane/mergeplane/pkg/observability"
	"github.com/mergeplane/mergeplane/pkg/provider"
	"github.com/mergeplane/mergeplane/pkg/queue"
)

var (
	manifestPath = flag.String("manifest", "", "Path to the repository manifest (overrides MERGEPLANE_SCHEDULER_MANIFEST)")
	cronSpec     = flag.String("schedule", "", "Cron schedule for processing passes (overrides MERGEPLANE_SCHEDULER_CRON)")
	runOnce      = flag.Bool("run-once", false, "Run one pass for every repository and exit")
)

// Manifest lists the repositories the worker processes.
type Manifest struct {
	Repositories []ManifestEntry `yaml:"repositories"`
}

// ManifestEntry is one repository to process.
type ManifestEntry struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	if *manifestPath == "" {
		*manifestPath = cfg.Scheduler.ManifestPath
	}
	if *cronSpec == "" {
		*cronSpec = cfg.Scheduler.CronSpec
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Observability.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if strings.EqualFold(cfg.Observability.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	manifest, err := loadManifest(*manifestPath)
	if err != nil {
		log.Fatalf("failed to load manifest: %v", err)
	}
	if len(manifest.Repositories) == 0 {
		log.Fatalf("manifest %s lists no repositories", *manifestPath)
	}

	var store queue.Store
	if cfg.Storage.Type == "postgres" {
		db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
		if err != nil {
			log.Fatalf("failed to open postgres connection: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		store = queue.NewPostgresStore(db, log)
	} else {
		// A memory store is only useful for dry runs; passes see an empty queue.
		store = queue.NewMemoryStore()
		log.Warn("using in-memory storage; the worker will see an empty queue")
	}

	client := provider.NewGitHubClient(cfg.GitHub.Token, cfg.GitHub.BaseURL, log)
	broadcaster := newBroadcaster(cfg, log)
	scheduler := queue.NewScheduler(store, client, broadcaster, log)
	panicLog := observability.NewLogger(observability.InfoLevel, os.Stdout)

	if *runOnce {
		processAll(context.Background(), scheduler, manifest, log)
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*cronSpec, func() {
		// A panicking pass must not take down the worker; the next tick
		// starts clean.
		defer observability.RecoverPanic(panicLog, "scheduled processing pass")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		processAll(ctx, scheduler, manifest, log)
	})
	if err != nil {
		log.Fatalf("failed to schedule processing passes: %v", err)
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule":     *cronSpec,
		"repositories": len(manifest.Repositories),
	}).Info("mergeplane scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("received signal %s, stopping", sig)

	stopCtx := c.Stop()
	<-stopCtx.Done()
}

func processAll(ctx context.Context, scheduler *queue.Scheduler, manifest *Manifest, log *logrus.Logger) {
	for _, entry := range manifest.Repositories {
		repoID := entry.Owner + "/" + entry.Repo
		result, err := scheduler.ProcessQueue(ctx, entry.Owner, entry.Repo, repoID)
		if err != nil {
			log.WithError(err).WithField("repository_id", repoID).Error("processing pass failed")
			continue
		}
		log.WithFields(logrus.Fields{
			"repository_id": repoID,
			"processed":     result.Processed,
			"merged":        result.Merged,
			"blocked":       result.Blocked,
			"failed":        result.Failed,
		}).Info("processing pass complete")
	}
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
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
