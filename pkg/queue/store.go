package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mergeplane/mergeplane/pkg/errors"
)

// Store is the durable home of queue items and per-repository config.
// Items are keyed by (repositoryID, prNumber); per-item operations are
// individually atomic.
type Store interface {
	// Add enqueues a PR. Idempotent: an existing item is returned
	// unchanged with created=false.
	Add(ctx context.Context, repositoryID string, prNumber, priority int) (item *Item, created bool, err error)

	// Get returns one item, or a NotFoundError.
	Get(ctx context.Context, repositoryID string, prNumber int) (*Item, error)

	// List returns the repository's items in queue order: priority
	// descending, then FIFO by addedAt.
	List(ctx context.Context, repositoryID string) ([]*Item, error)

	// Update persists a modified item.
	Update(ctx context.Context, item *Item) error

	// Remove deletes an item; NotFoundError when absent.
	Remove(ctx context.Context, repositoryID string, prNumber int) error

	// GetConfig returns the repository's config merged over defaults.
	// Never fails: an absent record or an unavailable backend yields
	// the defaults.
	GetConfig(ctx context.Context, repositoryID string) Config

	// SetConfig applies a partial update and returns the merged result.
	SetConfig(ctx context.Context, repositoryID string, patch ConfigPatch) (Config, error)
}

// itemKey identifies one queue item.
type itemKey struct {
	repositoryID string
	prNumber     int
}

// MemoryStore is an in-memory Store for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[itemKey]*Item
	configs map[string]Config
}

// NewMemoryStore creates an empty in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[itemKey]*Item),
		configs: make(map[string]Config),
	}
}

// Add enqueues a PR, returning the existing item untouched when present.
func (s *MemoryStore) Add(ctx context.Context, repositoryID string, prNumber, priority int) (*Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey{repositoryID, prNumber}
	if existing, ok := s.items[key]; ok {
		return existing.clone(), false, nil
	}

	item := &Item{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		PRNumber:     prNumber,
		Priority:     priority,
		Status:       StatusQueued,
		AddedAt:      time.Now().UTC(),
	}
	s.items[key] = item
	return item.clone(), true, nil
}

// Get returns one item.
func (s *MemoryStore) Get(ctx context.Context, repositoryID string, prNumber int) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemKey{repositoryID, prNumber}]
	if !ok {
		return nil, errors.NewNotFound("queue item", fmt.Sprintf("%s#%d", repositoryID, prNumber))
	}
	return item.clone(), nil
}

// List returns items in queue order.
func (s *MemoryStore) List(ctx context.Context, repositoryID string) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*Item, 0)
	for key, item := range s.items {
		if key.repositoryID == repositoryID {
			items = append(items, item.clone())
		}
	}
	sortQueueOrder(items)
	return items, nil
}

// Update persists a modified item.
func (s *MemoryStore) Update(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey{item.RepositoryID, item.PRNumber}
	if _, ok := s.items[key]; !ok {
		return errors.NewNotFound("queue item", fmt.Sprintf("%s#%d", item.RepositoryID, item.PRNumber))
	}
	s.items[key] = item.clone()
	return nil
}

// Remove deletes an item.
func (s *MemoryStore) Remove(ctx context.Context, repositoryID string, prNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := itemKey{repositoryID, prNumber}
	if _, ok := s.items[key]; !ok {
		return errors.NewNotFound("queue item", fmt.Sprintf("%s#%d", repositoryID, prNumber))
	}
	delete(s.items, key)
	return nil
}

// GetConfig returns the persisted override merged over defaults.
func (s *MemoryStore) GetConfig(ctx context.Context, repositoryID string) Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cfg, ok := s.configs[repositoryID]; ok {
		return cfg
	}
	return DefaultConfig()
}

// SetConfig merges a patch over the current config after validation.
func (s *MemoryStore) SetConfig(ctx context.Context, repositoryID string, patch ConfigPatch) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.configs[repositoryID]
	if !ok {
		base = DefaultConfig()
	}
	merged := patch.Apply(base)
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}
	s.configs[repositoryID] = merged
	return merged, nil
}

func (i *Item) clone() *Item {
	out := *i
	if i.LastCheckedAt != nil {
		t := *i.LastCheckedAt
		out.LastCheckedAt = &t
	}
	out.ConflictsWith = append([]int(nil), i.ConflictsWith...)
	return &out
}

func sortQueueOrder(items []*Item) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Priority != items[b].Priority {
			return items[a].Priority > items[b].Priority
		}
		return items[a].AddedAt.Before(items[b].AddedAt)
	})
}
