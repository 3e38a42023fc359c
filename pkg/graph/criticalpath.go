package graph

import "sort"

// criticalPath computes a safe merge sequence for the acyclic portion of the
// branch_dependency subgraph using Kahn's algorithm. Among ready nodes it
// picks the lowest risk first, tie-broken by creation time then PR number, so
// the order is deterministic for a given snapshot. Nodes caught in cycles are
// appended at the end ordered by PR number; their merge position is reported
// as null elsewhere.
//
// Edges point dependent -> base, so a node becomes ready once everything it
// is stacked on has been emitted. In-degree here counts incoming edges from
// dependents of the node's bases, i.e. we process bases before dependents by
// walking edges in reverse.
func criticalPath(g *Graph) []string {
	dependents := g.branchDependents()

	// outstanding[n] = number of bases n is still waiting on.
	outstanding := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		if g.cyclic[n.ID] {
			continue
		}
		outstanding[n.ID] = 0
	}
	for _, e := range g.Edges {
		if e.Type != EdgeBranchDependency {
			continue
		}
		if g.cyclic[e.Source] || g.cyclic[e.Target] {
			continue
		}
		outstanding[e.Source]++
	}

	ready := make([]string, 0)
	for id, n := range outstanding {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	path := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return lessRisky(g.Node(ready[i]), g.Node(ready[j]))
		})

		id := ready[0]
		ready = ready[1:]
		path = append(path, id)

		for _, dep := range dependents[id] {
			if _, ok := outstanding[dep]; !ok {
				continue
			}
			outstanding[dep]--
			if outstanding[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	// Cyclic nodes go last, by PR number, flagged via null positions.
	var cyclic []*PRNode
	for _, n := range g.Nodes {
		if g.cyclic[n.ID] {
			cyclic = append(cyclic, n)
		}
	}
	sort.Slice(cyclic, func(i, j int) bool { return cyclic[i].PRNumber < cyclic[j].PRNumber })
	for _, n := range cyclic {
		path = append(path, n.ID)
	}

	return path
}

func lessRisky(a, b *PRNode) bool {
	if a.RiskLevel.Rank() != b.RiskLevel.Rank() {
		return a.RiskLevel.Rank() < b.RiskLevel.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.PRNumber < b.PRNumber
}
