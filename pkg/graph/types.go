package graph

import (
	"time"

	"github.com/mergeplane/mergeplane/pkg/workflow"
)

// EdgeType discriminates the dependency edge variants.
type EdgeType string

const (
	EdgeBranchDependency   EdgeType = "branch_dependency"
	EdgeFileConflict       EdgeType = "file_conflict"
	EdgeSemanticDependency EdgeType = "semantic_dependency"
	EdgeExplicit           EdgeType = "explicit"
)

// PRNode is a point-in-time snapshot of one open pull request. Nodes are
// built fresh per query and never persisted.
type PRNode struct {
	ID           string             `json:"id"`
	PRNumber     int                `json:"pr_number"`
	Title        string             `json:"title"`
	Branch       string             `json:"branch"`
	BaseBranch   string             `json:"base_branch"`
	Author       string             `json:"author"`
	Status       string             `json:"status"`
	RiskLevel    workflow.RiskLevel `json:"risk_level"`
	FilesChanged []string           `json:"files_changed"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Edge is a directed dependency between two PR nodes. The payload beyond the
// common fields depends on the edge type; each constructor carries only what
// its variant needs.
type Edge struct {
	Source      string   `json:"source"`
	Target      string   `json:"target"`
	Type        EdgeType `json:"type"`
	Strength    float64  `json:"strength"`
	Description string   `json:"description,omitempty"`

	// ConflictFiles is set only on file_conflict edges.
	ConflictFiles []string `json:"conflict_files,omitempty"`
}

// BranchDependencyEdge builds an edge recording that source's base branch is
// target's head branch, so target must merge first.
func BranchDependencyEdge(source, target, description string) Edge {
	return Edge{
		Source:      source,
		Target:      target,
		Type:        EdgeBranchDependency,
		Strength:    1.0,
		Description: description,
	}
}

// FileConflictEdge builds an edge recording textual-merge risk between two
// PRs that touch overlapping files.
func FileConflictEdge(source, target string, conflictFiles []string, strength float64) Edge {
	return Edge{
		Source:        source,
		Target:        target,
		Type:          EdgeFileConflict,
		Strength:      strength,
		ConflictFiles: conflictFiles,
	}
}

// DeclaredEdge builds an explicit or semantic dependency edge from a
// pre-computed declaration.
func DeclaredEdge(decl workflow.DependencyDecl) Edge {
	t := EdgeExplicit
	if decl.Kind == "semantic" {
		t = EdgeSemanticDependency
	}
	return Edge{
		Source:      decl.SourceID,
		Target:      decl.TargetID,
		Type:        t,
		Strength:    decl.Strength,
		Description: decl.Description,
	}
}

// Graph is one ephemeral dependency graph snapshot for a repository.
type Graph struct {
	RepositoryID string     `json:"repository_id"`
	Nodes        []*PRNode  `json:"nodes"`
	Edges        []Edge     `json:"edges"`
	Cycles       [][]string `json:"cycles"`
	CriticalPath []string   `json:"critical_path"`
	GeneratedAt  time.Time  `json:"generated_at"`

	// Degraded is true when the node count exceeded the builder's cap and
	// file_conflict computation was skipped.
	Degraded bool `json:"degraded,omitempty"`

	nodesByID map[string]*PRNode
	cyclic    map[string]bool
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *PRNode {
	return g.nodesByID[id]
}

// InCycle reports whether the node participates in a detected cycle.
func (g *Graph) InCycle(id string) bool {
	return g.cyclic[id]
}

// branchAdjacency returns the outgoing branch_dependency adjacency list,
// with edges ordered as they appear in g.Edges.
func (g *Graph) branchAdjacency() map[string][]string {
	adj := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		if e.Type == EdgeBranchDependency {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}
	return adj
}

// branchDependents returns the reverse branch_dependency adjacency list
// (base id -> ids of PRs stacked on it).
func (g *Graph) branchDependents() map[string][]string {
	rev := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		if e.Type == EdgeBranchDependency {
			rev[e.Target] = append(rev[e.Target], e.Source)
		}
	}
	return rev
}

// ImpactReport describes what a single PR blocks and is blocked by.
type ImpactReport struct {
	PRID               string   `json:"pr_id"`
	DirectlyBlocks     []string `json:"directly_blocks"`
	TransitivelyBlocks []string `json:"transitively_blocks"`
	BlockedBy          []string `json:"blocked_by"`
	ImpactScore        float64  `json:"impact_score"`
	MergeOrderPosition *int     `json:"merge_order_position"` // null when the PR is in a cycle
	Recommendations    []string `json:"recommendations"`
}

// OrderEntry is one position in a recommended merge order.
type OrderEntry struct {
	PRID          string             `json:"pr_id"`
	PRNumber      int                `json:"pr_number"`
	Title         string             `json:"title"`
	Position      int                `json:"position"`
	BlockedByN    int                `json:"blocked_by_count"`
	BlocksN       int                `json:"blocks_count"`
	EstimatedRisk workflow.RiskLevel `json:"estimated_risk"`
	InCycle       bool               `json:"in_cycle,omitempty"`
}

// MergeOrder is the merge-order planning result for a repository.
type MergeOrder struct {
	RepositoryID   string       `json:"repository_id"`
	HasConflicts   bool         `json:"has_conflicts"`
	ConflictDetail []string     `json:"conflict_details,omitempty"`
	Order          []OrderEntry `json:"order"`
	GeneratedAt    time.Time    `json:"generated_at"`
}

// Simulation is the what-if projection of merging one PR now.
type Simulation struct {
	PRID            string     `json:"pr_id"`
	Unblocked       []string   `json:"unblocked"`
	NewCriticalPath []string   `json:"new_critical_path"`
	NewConflicts    [][]string `json:"new_conflicts"`
}
