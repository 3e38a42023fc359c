package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mergeplane/mergeplane/pkg/errors"
	"github.com/mergeplane/mergeplane/pkg/workflow"
)

// Service composes the graph builder and planners behind the read API. All
// operations are pure queries over one fetched snapshot; concurrent callers
// each get an independent, internally consistent graph.
type Service struct {
	builder *Builder
	store   workflow.Store
	cache   *SnapshotCache
}

// NewService creates a graph query service. cache may be nil.
func NewService(builder *Builder, store workflow.Store, cache *SnapshotCache) *Service {
	return &Service{builder: builder, store: store, cache: cache}
}

// DependencyGraph returns the current dependency graph snapshot for a repository.
func (s *Service) DependencyGraph(ctx context.Context, repositoryID string) (*Graph, error) {
	return s.snapshot(ctx, repositoryID)
}

// Invalidate drops any cached snapshot so the next query rebuilds from the
// workflow store.
func (s *Service) Invalidate(ctx context.Context, repositoryID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, repositoryID)
	}
}

// ImpactAnalysis returns the blocking impact of one workflow's PR.
func (s *Service) ImpactAnalysis(ctx context.Context, workflowID string) (*ImpactReport, error) {
	rec, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	g, err := s.snapshot(ctx, rec.RepositoryID)
	if err != nil {
		return nil, err
	}
	return g.Impact(workflowID)
}

// MergeOrder computes the recommended merge order for a repository's open PRs.
func (s *Service) MergeOrder(ctx context.Context, repositoryID string) (*MergeOrder, error) {
	g, err := s.snapshot(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	order := &MergeOrder{
		RepositoryID: repositoryID,
		HasConflicts: len(g.Cycles) > 0,
		Order:        make([]OrderEntry, 0, len(g.CriticalPath)),
		GeneratedAt:  g.GeneratedAt,
	}

	for _, cycle := range g.Cycles {
		order.ConflictDetail = append(order.ConflictDetail, describeCycle(g, cycle))
	}

	dependents := g.branchDependents()
	adjacency := g.branchAdjacency()
	for i, id := range g.CriticalPath {
		node := g.Node(id)
		if node == nil {
			continue
		}
		order.Order = append(order.Order, OrderEntry{
			PRID:          id,
			PRNumber:      node.PRNumber,
			Title:         node.Title,
			Position:      i,
			BlockedByN:    len(adjacency[id]),
			BlocksN:       len(dependents[id]),
			EstimatedRisk: node.RiskLevel,
			InCycle:       g.InCycle(id),
		})
	}

	return order, nil
}

// MergeCheckResult is the per-PR readiness view derived from the graph.
type MergeCheckResult struct {
	PRID      string   `json:"pr_id"`
	CanMerge  bool     `json:"can_merge"`
	BlockedBy []string `json:"blocked_by"`
	InCycle   bool     `json:"in_cycle"`
	Reasons   []string `json:"reasons,omitempty"`
}

// MergeCheck reports whether a PR is mergeable from a dependency standpoint.
func (s *Service) MergeCheck(ctx context.Context, workflowID string) (*MergeCheckResult, error) {
	report, err := s.ImpactAnalysis(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	result := &MergeCheckResult{
		PRID:      workflowID,
		BlockedBy: report.BlockedBy,
		InCycle:   report.MergeOrderPosition == nil,
	}
	if result.InCycle {
		result.Reasons = append(result.Reasons, "part of a circular dependency")
	}
	if len(report.BlockedBy) > 0 {
		result.Reasons = append(result.Reasons, fmt.Sprintf("%d dependency PR(s) must merge first", len(report.BlockedBy)))
	}
	result.CanMerge = len(result.Reasons) == 0
	return result, nil
}

// SimulateMerge projects the graph state after merging one PR now. The
// persisted state is untouched; only the returned projection reflects the
// removal.
func (s *Service) SimulateMerge(ctx context.Context, workflowID string) (*Simulation, error) {
	rec, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	g, err := s.snapshot(ctx, rec.RepositoryID)
	if err != nil {
		return nil, err
	}
	if g.Node(workflowID) == nil {
		return nil, errors.NewNotFound("workflow", workflowID)
	}

	// Nodes that currently list workflowID among their bases become
	// unblocked if that was their only remaining base.
	remaining := make(map[string]int)
	for _, e := range g.Edges {
		if e.Type == EdgeBranchDependency && e.Target == workflowID {
			remaining[e.Source] = 0
		}
	}
	for _, e := range g.Edges {
		if e.Type != EdgeBranchDependency || e.Target == workflowID {
			continue
		}
		if _, ok := remaining[e.Source]; ok {
			remaining[e.Source]++
		}
	}
	unblocked := make([]string, 0, len(remaining))
	for id, n := range remaining {
		if n == 0 {
			unblocked = append(unblocked, id)
		}
	}

	projected := g.without(workflowID)
	previouslyCyclic := g.cyclic

	var newConflicts [][]string
	for _, cycle := range projected.Cycles {
		fresh := true
		for _, id := range cycle {
			if previouslyCyclic[id] {
				fresh = false
				break
			}
		}
		if fresh {
			newConflicts = append(newConflicts, cycle)
		}
	}

	return &Simulation{
		PRID:            workflowID,
		Unblocked:       sorted(unblocked),
		NewCriticalPath: projected.CriticalPath,
		NewConflicts:    newConflicts,
	}, nil
}

// without returns a derived graph with the node and its edges removed and
// cycles/critical path recomputed.
func (g *Graph) without(id string) *Graph {
	derived := &Graph{
		RepositoryID: g.RepositoryID,
		GeneratedAt:  g.GeneratedAt,
		Degraded:     g.Degraded,
		nodesByID:    make(map[string]*PRNode, len(g.Nodes)),
	}
	for _, n := range g.Nodes {
		if n.ID == id {
			continue
		}
		derived.Nodes = append(derived.Nodes, n)
		derived.nodesByID[n.ID] = n
	}
	for _, e := range g.Edges {
		if e.Source == id || e.Target == id {
			continue
		}
		derived.Edges = append(derived.Edges, e)
	}

	derived.Cycles = detectCycles(derived)
	derived.cyclic = make(map[string]bool)
	for _, cycle := range derived.Cycles {
		for _, cid := range cycle {
			derived.cyclic[cid] = true
		}
	}
	derived.CriticalPath = criticalPath(derived)
	return derived
}

func (s *Service) snapshot(ctx context.Context, repositoryID string) (*Graph, error) {
	if s.cache != nil {
		if g, ok := s.cache.Get(ctx, repositoryID); ok {
			return g, nil
		}
	}

	g, err := s.builder.Build(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, g)
	}
	return g, nil
}

func describeCycle(g *Graph, cycle []string) string {
	parts := make([]string, 0, len(cycle)+1)
	for _, id := range cycle {
		if n := g.Node(id); n != nil {
			parts = append(parts, fmt.Sprintf("#%d", n.PRNumber))
		} else {
			parts = append(parts, id)
		}
	}
	if len(parts) > 0 {
		parts = append(parts, parts[0])
	}
	return "Circular dependency: " + strings.Join(parts, " -> ")
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
