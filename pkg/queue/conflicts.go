package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/mergeplane/mergeplane/pkg/provider"
)

// ConflictDetector flags textual-merge risk between queued PRs by comparing
// their changed-file sets, fetched through the provider. File lists are
// memoized per detector instance, so a fresh detector per processing pass
// sees a consistent view without re-fetching.
type ConflictDetector struct {
	client provider.Client
	files  map[int][]string
}

// NewConflictDetector creates a detector over the given provider client.
func NewConflictDetector(client provider.Client) *ConflictDetector {
	return &ConflictDetector{
		client: client,
		files:  make(map[int][]string),
	}
}

// Conflicts returns the subset of candidate PR numbers whose changed files
// overlap the given PR's, sorted ascending.
func (d *ConflictDetector) Conflicts(ctx context.Context, owner, repo string, prNumber int, candidates []int) ([]int, error) {
	base, err := d.changedFiles(ctx, owner, repo, prNumber)
	if err != nil {
		return nil, err
	}
	baseSet := make(map[string]bool, len(base))
	for _, f := range base {
		baseSet[f] = true
	}

	var conflicting []int
	for _, other := range candidates {
		if other == prNumber {
			continue
		}
		files, err := d.changedFiles(ctx, owner, repo, other)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch files for pr %d: %w", other, err)
		}
		for _, f := range files {
			if baseSet[f] {
				conflicting = append(conflicting, other)
				break
			}
		}
	}

	sort.Ints(conflicting)
	return conflicting, nil
}

// SharedFiles returns the overlapping paths between two PRs.
func (d *ConflictDetector) SharedFiles(ctx context.Context, owner, repo string, a, b int) ([]string, error) {
	filesA, err := d.changedFiles(ctx, owner, repo, a)
	if err != nil {
		return nil, err
	}
	filesB, err := d.changedFiles(ctx, owner, repo, b)
	if err != nil {
		return nil, err
	}

	inA := make(map[string]bool, len(filesA))
	for _, f := range filesA {
		inA[f] = true
	}
	var shared []string
	for _, f := range filesB {
		if inA[f] {
			shared = append(shared, f)
			inA[f] = false // dedupe
		}
	}
	sort.Strings(shared)
	return shared, nil
}

func (d *ConflictDetector) changedFiles(ctx context.Context, owner, repo string, number int) ([]string, error) {
	if files, ok := d.files[number]; ok {
		return files, nil
	}
	pr, err := d.client.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return nil, err
	}
	d.files[number] = pr.ChangedFiles
	return pr.ChangedFiles, nil
}
