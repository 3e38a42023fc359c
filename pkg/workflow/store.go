// Package workflow provides read access to active pull request records,
// including the risk and affected-file analysis attached by the upstream
// analysis pipeline. The dependency graph is built from these records.
package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mergeplane/mergeplane/pkg/errors"
)

// RiskLevel is the declared risk classification of a pull request.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns the numeric ordering of a risk level (low=0 .. critical=3).
// Unknown levels rank as medium.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 1
	}
}

// DependencyDecl is a pre-computed dependency between two workflows, supplied
// by collaborators (explicit user annotation or semantic analysis). Detection
// happens upstream; this service only merges the declarations into the graph.
type DependencyDecl struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Kind        string  `json:"kind"` // "explicit" or "semantic"
	Strength    float64 `json:"strength"`
	Description string  `json:"description,omitempty"`
}

// Record is an active pull request workflow as seen by the orchestrator.
type Record struct {
	ID            string           `json:"id"`
	RepositoryID  string           `json:"repository_id"`
	PRNumber      int              `json:"pr_number"`
	Title         string           `json:"title"`
	HeadBranch    string           `json:"head_branch"`
	BaseBranch    string           `json:"base_branch"`
	AuthorLogin   string           `json:"author_login"`
	Status        string           `json:"status"` // opaque upstream workflow status
	RiskLevel     RiskLevel        `json:"risk_level"`
	AffectedFiles []string         `json:"affected_files"`
	Dependencies  []DependencyDecl `json:"dependencies,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Store is the capability interface over the workflow store collaborator.
type Store interface {
	// ListActive returns all active PR records for a repository.
	ListActive(ctx context.Context, repositoryID string) ([]*Record, error)

	// Get returns a single record by workflow id.
	Get(ctx context.Context, id string) (*Record, error)
}

// MemoryStore is an in-memory Store used by tests and demo deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory workflow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = clone(rec)
}

// Delete removes a record.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
}

// ListActive returns records for the repository sorted by PR number.
func (s *MemoryStore) ListActive(ctx context.Context, repositoryID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0)
	for _, rec := range s.records {
		if rec.RepositoryID == repositoryID {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PRNumber < out[j].PRNumber })
	return out, nil
}

// Get returns a record by id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, errors.NewNotFound("workflow", id)
	}
	return clone(rec), nil
}

// clone deep-copies a record so callers cannot mutate stored state.
func clone(rec *Record) *Record {
	cp := *rec
	cp.AffectedFiles = append([]string(nil), rec.AffectedFiles...)
	cp.Dependencies = append([]DependencyDecl(nil), rec.Dependencies...)
	return &cp
}
