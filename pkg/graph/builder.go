package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mergeplane/mergeplane/pkg/observability"
	"github.com/mergeplane/mergeplane/pkg/workflow"
)

// DefaultNodeCap bounds the pairwise file_conflict scan. Repositories with
// more open PRs than this still get branch and declared edges, but the graph
// is flagged degraded and file overlap is skipped.
const DefaultNodeCap = 500

// Builder constructs point-in-time dependency graphs from workflow records.
type Builder struct {
	store   workflow.Store
	nodeCap int
	metrics *observability.Metrics
}

// NewBuilder creates a graph builder over the given workflow store.
func NewBuilder(store workflow.Store) *Builder {
	return &Builder{store: store, nodeCap: DefaultNodeCap}
}

// WithNodeCap overrides the file_conflict node cap.
func (b *Builder) WithNodeCap(n int) *Builder {
	b.nodeCap = n
	return b
}

// WithMetrics instruments graph builds. A nil metrics disables recording.
func (b *Builder) WithMetrics(m *observability.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build fetches the repository's active PRs and assembles a graph snapshot
// with branch_dependency, file_conflict, and declared edges, then runs cycle
// detection and critical path planning. The result is internally consistent
// and safe for concurrent read-only use.
func (b *Builder) Build(ctx context.Context, repositoryID string) (*Graph, error) {
	start := time.Now()
	records, err := b.store.ListActive(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows for %s: %w", repositoryID, err)
	}

	g := &Graph{
		RepositoryID: repositoryID,
		Nodes:        make([]*PRNode, 0, len(records)),
		Edges:        make([]Edge, 0),
		GeneratedAt:  time.Now().UTC(),
		nodesByID:    make(map[string]*PRNode, len(records)),
	}

	byBranch := make(map[string]*PRNode, len(records))
	for _, rec := range records {
		node := &PRNode{
			ID:           rec.ID,
			PRNumber:     rec.PRNumber,
			Title:        rec.Title,
			Branch:       rec.HeadBranch,
			BaseBranch:   rec.BaseBranch,
			Author:       rec.AuthorLogin,
			Status:       rec.Status,
			RiskLevel:    rec.RiskLevel,
			FilesChanged: append([]string(nil), rec.AffectedFiles...),
			CreatedAt:    rec.CreatedAt,
		}
		g.Nodes = append(g.Nodes, node)
		g.nodesByID[node.ID] = node
		byBranch[node.Branch] = node
	}

	seen := make(map[edgeKey]bool)
	addEdge := func(e Edge) {
		if g.nodesByID[e.Source] == nil || g.nodesByID[e.Target] == nil {
			return
		}
		k := edgeKey{e.Source, e.Target, e.Type}
		if seen[k] {
			return
		}
		seen[k] = true
		g.Edges = append(g.Edges, e)
	}

	// Branch stacking: a PR whose base branch is another PR's head branch
	// depends on that PR landing first.
	for _, node := range g.Nodes {
		if base, ok := byBranch[node.BaseBranch]; ok && base.ID != node.ID {
			addEdge(BranchDependencyEdge(node.ID, base.ID,
				fmt.Sprintf("PR #%d is stacked on branch %s (PR #%d)", node.PRNumber, base.Branch, base.PRNumber)))
		}
	}

	// File overlap: pairwise scan, skipped above the node cap.
	if len(g.Nodes) > b.nodeCap {
		g.Degraded = true
	} else {
		for i := 0; i < len(g.Nodes); i++ {
			for j := i + 1; j < len(g.Nodes); j++ {
				shared, strength := fileOverlap(g.Nodes[i].FilesChanged, g.Nodes[j].FilesChanged)
				if len(shared) > 0 {
					addEdge(FileConflictEdge(g.Nodes[i].ID, g.Nodes[j].ID, shared, strength))
				}
			}
		}
	}

	// Declared dependencies come pre-computed from collaborators.
	for _, rec := range records {
		for _, decl := range rec.Dependencies {
			addEdge(DeclaredEdge(decl))
		}
	}

	g.Cycles = detectCycles(g)
	g.cyclic = make(map[string]bool)
	for _, cycle := range g.Cycles {
		for _, id := range cycle {
			g.cyclic[id] = true
		}
	}
	g.CriticalPath = criticalPath(g)

	if b.metrics != nil {
		b.metrics.GraphBuildDuration.WithLabelValues(repositoryID).Observe(time.Since(start).Seconds())
		b.metrics.GraphNodesTotal.WithLabelValues(repositoryID).Set(float64(len(g.Nodes)))
		b.metrics.GraphCyclesTotal.WithLabelValues(repositoryID).Set(float64(len(g.Cycles)))
	}
	return g, nil
}

type edgeKey struct {
	source string
	target string
	typ    EdgeType
}

// fileOverlap returns the sorted intersection of two file sets and the
// Jaccard strength |intersection| / |union|.
func fileOverlap(a, b []string) ([]string, float64) {
	if len(a) == 0 || len(b) == 0 {
		return nil, 0
	}

	inA := make(map[string]bool, len(a))
	for _, f := range a {
		inA[f] = true
	}

	var shared []string
	seenB := make(map[string]bool, len(b))
	union := len(inA)
	for _, f := range b {
		if seenB[f] {
			continue
		}
		seenB[f] = true
		if inA[f] {
			shared = append(shared, f)
		} else {
			union++
		}
	}
	if len(shared) == 0 {
		return nil, 0
	}

	sort.Strings(shared)
	return shared, float64(len(shared)) / float64(union)
}
