package graph

import (
	"fmt"
	"sort"

	"github.com/mergeplane/mergeplane/pkg/errors"
)

// riskWeight converts a node's declared risk into the additive score term.
func riskWeight(n *PRNode) float64 {
	switch n.RiskLevel.Rank() {
	case 0:
		return 1
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 8
	}
}

// Impact computes the blocking relationships and score for one PR in the
// snapshot. blockedBy is strictly the PR's outgoing branch_dependency edges;
// directlyBlocks additionally includes file_conflict neighbors since either
// side merging first forces the other to resolve conflicts.
func (g *Graph) Impact(prID string) (*ImpactReport, error) {
	node := g.Node(prID)
	if node == nil {
		return nil, errors.NewNotFound("workflow", prID)
	}

	blockedBy := make([]string, 0)
	direct := make([]string, 0)
	inDirect := make(map[string]bool)

	for _, e := range g.Edges {
		switch e.Type {
		case EdgeBranchDependency:
			if e.Source == prID {
				blockedBy = append(blockedBy, e.Target)
			}
			if e.Target == prID && !inDirect[e.Source] {
				inDirect[e.Source] = true
				direct = append(direct, e.Source)
			}
		case EdgeFileConflict:
			var other string
			if e.Source == prID {
				other = e.Target
			} else if e.Target == prID {
				other = e.Source
			} else {
				continue
			}
			if !inDirect[other] {
				inDirect[other] = true
				direct = append(direct, other)
			}
		}
	}

	// Transitive closure over branch dependents only, excluding the PR
	// itself and anything already counted as direct.
	dependents := g.branchDependents()
	transitive := make([]string, 0)
	visited := map[string]bool{prID: true}
	queue := append([]string(nil), direct...)
	for _, id := range direct {
		visited[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range dependents[id] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			transitive = append(transitive, dep)
			queue = append(queue, dep)
		}
	}

	sort.Strings(blockedBy)
	sort.Strings(direct)
	sort.Strings(transitive)

	report := &ImpactReport{
		PRID:               prID,
		DirectlyBlocks:     direct,
		TransitivelyBlocks: transitive,
		BlockedBy:          blockedBy,
		ImpactScore:        10*float64(len(direct)) + 3*float64(len(transitive)) + riskWeight(node),
	}

	if !g.InCycle(prID) {
		for i, id := range g.CriticalPath {
			if id == prID {
				pos := i
				report.MergeOrderPosition = &pos
				break
			}
		}
	}

	report.Recommendations = recommendations(g, node, report)
	return report, nil
}

func recommendations(g *Graph, node *PRNode, r *ImpactReport) []string {
	var recs []string

	if g.InCycle(node.ID) {
		recs = append(recs, "Part of a circular dependency chain. Resolve the cycle before merging.")
	}
	if n := len(r.DirectlyBlocks) + len(r.TransitivelyBlocks); n > 0 {
		recs = append(recs, fmt.Sprintf("Merging this PR unblocks %d dependent PR(s).", n))
	}
	if len(r.BlockedBy) > 0 {
		recs = append(recs, fmt.Sprintf("Blocked by %d PR(s) that must merge first.", len(r.BlockedBy)))
	}
	if node.RiskLevel.Rank() >= 2 && len(r.DirectlyBlocks) > 2 {
		recs = append(recs, "High-risk PR with many dependents. Consider merging early in a quiet period.")
	}
	if len(recs) == 0 {
		recs = append(recs, "No dependencies detected. Safe to merge independently.")
	}
	return recs
}
