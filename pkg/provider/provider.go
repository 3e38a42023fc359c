// Package provider defines the Git hosting capability surface the
// orchestrator consumes, and a GitHub REST implementation of it.
package provider

import "context"

// PullRequest is the provider's view of one PR, reduced to what queue
// processing needs.
type PullRequest struct {
	Number       int      `json:"number"`
	Title        string   `json:"title"`
	HeadBranch   string   `json:"head_branch"`
	BaseBranch   string   `json:"base_branch"`
	State        string   `json:"state"`
	Merged       bool     `json:"merged"`
	BehindBy     int      `json:"behind_by"` // commits the head is behind its base
	ChangedFiles []string `json:"changed_files"`
}

// Review is one submitted PR review.
type Review struct {
	Reviewer string `json:"reviewer"`
	State    string `json:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED
}

// CheckStatus summarizes CI for a PR head.
type CheckStatus struct {
	State   string `json:"state"` // success, pending, failure
	Total   int    `json:"total"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Pending int    `json:"pending"`
}

// Green reports whether every check completed successfully.
func (c *CheckStatus) Green() bool {
	return c.State == "success"
}

// MergeResult reports the outcome of a merge call.
type MergeResult struct {
	Merged  bool   `json:"merged"`
	SHA     string `json:"sha,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client is the capability interface over the Git hosting API. All calls
// take a context; implementations wrap failures in ProviderError.
type Client interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)
	GetCheckStatus(ctx context.Context, owner, repo string, number int) (*CheckStatus, error)

	// UpdateBranch merges or rebases the base branch into the PR head.
	UpdateBranch(ctx context.Context, owner, repo string, number int) error

	// MergePullRequest lands the PR using the given method
	// (merge, squash, or rebase).
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*MergeResult, error)
}

// ApprovalCount counts reviewers whose latest review is an approval.
func ApprovalCount(reviews []Review) int {
	latest := make(map[string]string, len(reviews))
	for _, r := range reviews {
		latest[r.Reviewer] = r.State
	}
	n := 0
	for _, state := range latest {
		if state == "APPROVED" {
			n++
		}
	}
	return n
}
