package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mergeplane/mergeplane/pkg/observability"
)

// SnapshotCache is a short-TTL read-through cache for built graph snapshots.
// The L1 is an in-process LRU; Redis, when configured, shares snapshots
// across replicas. A miss or cache failure just falls back to rebuilding,
// so the cache never affects correctness.
type SnapshotCache struct {
	l1      *lru.Cache[string, cachedSnapshot]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

type cachedSnapshot struct {
	graph   *Graph
	expires time.Time
}

// NewSnapshotCache creates a snapshot cache. redisClient may be nil for
// single-replica deployments.
func NewSnapshotCache(size int, ttl time.Duration, redisClient *redis.Client) (*SnapshotCache, error) {
	if size <= 0 {
		size = 128
	}
	l1, err := lru.New[string, cachedSnapshot](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot LRU: %w", err)
	}
	return &SnapshotCache{l1: l1, redis: redisClient, ttl: ttl}, nil
}

// WithMetrics instruments cache lookups. A nil metrics disables recording.
func (c *SnapshotCache) WithMetrics(m *observability.Metrics) *SnapshotCache {
	c.metrics = m
	return c
}

func (c *SnapshotCache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *SnapshotCache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(tier).Inc()
	}
}

// Get returns a cached snapshot for the repository if one is still fresh.
func (c *SnapshotCache) Get(ctx context.Context, repositoryID string) (*Graph, bool) {
	if entry, ok := c.l1.Get(repositoryID); ok {
		if time.Now().Before(entry.expires) {
			c.recordHit("l1")
			return entry.graph, true
		}
		c.l1.Remove(repositoryID)
	}
	c.recordMiss("l1")

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, snapshotKey(repositoryID)).Bytes()
	if err != nil {
		// redis.Nil and transport errors are both treated as a miss
		c.recordMiss("redis")
		return nil, false
	}

	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		c.redis.Del(ctx, snapshotKey(repositoryID))
		c.recordMiss("redis")
		return nil, false
	}
	g.reindex()

	c.l1.Add(repositoryID, cachedSnapshot{graph: &g, expires: time.Now().Add(c.ttl)})
	c.recordHit("redis")
	return &g, true
}

// Put stores a freshly built snapshot.
func (c *SnapshotCache) Put(ctx context.Context, g *Graph) {
	c.l1.Add(g.RepositoryID, cachedSnapshot{graph: g, expires: time.Now().Add(c.ttl)})

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		return
	}
	c.redis.Set(ctx, snapshotKey(g.RepositoryID), data, c.ttl)
}

// Invalidate drops any cached snapshot for the repository. Called after
// queue mutations that change what the next graph build should see.
func (c *SnapshotCache) Invalidate(ctx context.Context, repositoryID string) {
	c.l1.Remove(repositoryID)
	if c.redis != nil {
		c.redis.Del(ctx, snapshotKey(repositoryID))
	}
}

func snapshotKey(repositoryID string) string {
	return "graph:snapshot:" + repositoryID
}

// reindex rebuilds the unexported lookup maps after deserialization.
func (g *Graph) reindex() {
	g.nodesByID = make(map[string]*PRNode, len(g.Nodes))
	for _, n := range g.Nodes {
		g.nodesByID[n.ID] = n
	}
	g.cyclic = make(map[string]bool)
	for _, cycle := range g.Cycles {
		for _, id := range cycle {
			g.cyclic[id] = true
		}
	}
}
