package graph

import "sort"

type color uint8

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // fully explored
)

// detectCycles finds circular dependency chains in the branch_dependency
// subgraph. The DFS is iterative with explicit frames so deep PR stacks
// cannot exhaust the call stack. A back-edge to a gray node yields one cycle,
// reconstructed from the current path; components with several overlapping
// cycles report at least one cycle each rather than enumerating all of them.
func detectCycles(g *Graph) [][]string {
	adj := g.branchAdjacency()

	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	colors := make(map[string]color, len(ids))
	var cycles [][]string
	reported := make(map[string]bool) // cycle member ids already covered

	type frame struct {
		id     string
		cursor int
	}

	for _, start := range ids {
		if colors[start] != white {
			continue
		}

		stack := []frame{{id: start}}
		colors[start] = gray
		path := []string{start}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			out := adj[top.id]

			if top.cursor < len(out) {
				next := out[top.cursor]
				top.cursor++

				switch colors[next] {
				case white:
					colors[next] = gray
					stack = append(stack, frame{id: next})
					path = append(path, next)
				case gray:
					cycle := extractCycle(path, next)
					if !covered(cycle, reported) {
						cycles = append(cycles, cycle)
						for _, id := range cycle {
							reported[id] = true
						}
					}
				}
				continue
			}

			colors[top.id] = black
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
		}
	}

	return cycles
}

// extractCycle walks the DFS path from the back-edge target to its end.
func extractCycle(path []string, target string) []string {
	for i, id := range path {
		if id == target {
			return append([]string(nil), path[i:]...)
		}
	}
	// Back-edge target must be on the path while gray; unreachable.
	return append([]string(nil), path...)
}

func covered(cycle []string, reported map[string]bool) bool {
	for _, id := range cycle {
		if reported[id] {
			return true
		}
	}
	return false
}
