// Package graph models pull request interdependencies and derives safe merge
// ordering from them.
//
// # Overview
//
// The builder turns one snapshot of a repository's active PRs into an
// ephemeral dependency graph: branch stacking edges, file overlap edges, and
// pre-computed explicit/semantic dependencies. On top of that snapshot the
// package detects circular dependency chains, plans a risk-ordered critical
// path, scores blocking impact per PR, and answers what-if merge projections.
//
// # Key Features
//
// Graph Building: one node per open PR, tagged edge variants per dependency kind
// Cycle Detection: iterative DFS over the branch_dependency subgraph
// Critical Path: Kahn's algorithm ordered by declared risk
// Impact Analysis: direct/transitive blocking sets and a numeric score
// Simulation: recompute ordering with one PR conceptually merged
//
// # Usage Example
//
// Build and query a snapshot:
//
//	svc := graph.NewService(graph.NewBuilder(store), store, cache)
//	order, err := svc.MergeOrder(ctx, repositoryID)
//	if order.HasConflicts {
//		for _, d := range order.ConflictDetail {
//			fmt.Println(d)
//		}
//	}
//
// Impact of one PR:
//
//	report, err := svc.ImpactAnalysis(ctx, workflowID)
//	fmt.Printf("blocks %d PRs directly\n", len(report.DirectlyBlocks))
//
// All queries are read-only and hold no locks; concurrent callers each get an
// independent snapshot.
//
// # Related Packages
//
//   - pkg/queue: consumes merge ordering for queue processing
//   - pkg/workflow: supplies the PR records graphs are built from
package graph
