package queue

import (
	"fmt"
	"time"

	"github.com/mergeplane/mergeplane/pkg/errors"
)

// Status is a queue item's position in the merge state machine.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusChecking   Status = "checking"
	StatusReady      Status = "ready"
	StatusMerging    Status = "merging"
	StatusMerged     Status = "merged"
	StatusFailed     Status = "failed"
	StatusBlocked    Status = "blocked"
	StatusConflicted Status = "conflicted"
)

// Terminal reports whether the status ends normal processing for a pass.
func (s Status) Terminal() bool {
	return s == StatusMerged || s == StatusFailed
}

// Retryable reports whether RebaseAndRetry may reset the item to checking.
func (s Status) Retryable() bool {
	return s == StatusBlocked || s == StatusConflicted || s == StatusFailed
}

// Item is one PR waiting in a repository's merge queue. Items are keyed by
// (repository, PR number) and persist until merged or removed.
type Item struct {
	ID            string     `json:"id"`
	RepositoryID  string     `json:"repository_id"`
	PRNumber      int        `json:"pr_number"`
	Priority      int        `json:"priority"`
	Status        Status     `json:"status"`
	AddedAt       time.Time  `json:"added_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	Attempts      int        `json:"attempts"`
	ConflictsWith []int      `json:"conflicts_with,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// MergeMethod selects how the provider lands a PR.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// Config is the per-repository merge queue policy.
type Config struct {
	Enabled              bool        `json:"enabled"`
	AutoMergeEnabled     bool        `json:"auto_merge_enabled"`
	RequireApprovals     int         `json:"require_approvals"`
	RequireChecks        bool        `json:"require_checks"`
	RequireUpToDate      bool        `json:"require_up_to_date"`
	CheckConflicts       bool        `json:"check_conflicts"`
	AutoResolveConflicts bool        `json:"auto_resolve_conflicts"`
	MergeMethod          MergeMethod `json:"merge_method"`
	BatchSize            int         `json:"batch_size"`
	MaxWaitTimeMinutes   int         `json:"max_wait_time_minutes"`

	// AllowOutOfOrder relaxes head-of-line blocking so a blocked item does
	// not halt the rest of the pass. Off by default: strict ordering is
	// what makes the computed merge order safe.
	AllowOutOfOrder bool `json:"allow_out_of_order"`
}

// DefaultConfig returns the policy applied when no override is persisted.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		AutoMergeEnabled:     false,
		RequireApprovals:     1,
		RequireChecks:        true,
		RequireUpToDate:      true,
		CheckConflicts:       true,
		AutoResolveConflicts: false,
		MergeMethod:          MergeMethodSquash,
		BatchSize:            1,
		MaxWaitTimeMinutes:   60,
	}
}

// Validate checks config ranges. Out-of-range values are ValidationErrors
// so the HTTP surface can report them as 400s.
func (c Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > 10 {
		return errors.NewValidation("batch_size", fmt.Sprintf("must be between 1 and 10, got %d", c.BatchSize))
	}
	if c.MaxWaitTimeMinutes < 5 || c.MaxWaitTimeMinutes > 1440 {
		return errors.NewValidation("max_wait_time_minutes", fmt.Sprintf("must be between 5 and 1440, got %d", c.MaxWaitTimeMinutes))
	}
	switch c.MergeMethod {
	case MergeMethodMerge, MergeMethodSquash, MergeMethodRebase:
	default:
		return errors.NewValidation("merge_method", fmt.Sprintf("must be merge, squash, or rebase, got %q", c.MergeMethod))
	}
	if c.RequireApprovals < 0 {
		return errors.NewValidation("require_approvals", "must not be negative")
	}
	return nil
}

// ConfigPatch is a partial config update; nil fields keep their current value.
type ConfigPatch struct {
	Enabled              *bool        `json:"enabled,omitempty"`
	AutoMergeEnabled     *bool        `json:"auto_merge_enabled,omitempty"`
	RequireApprovals     *int         `json:"require_approvals,omitempty"`
	RequireChecks        *bool        `json:"require_checks,omitempty"`
	RequireUpToDate      *bool        `json:"require_up_to_date,omitempty"`
	CheckConflicts       *bool        `json:"check_conflicts,omitempty"`
	AutoResolveConflicts *bool        `json:"auto_resolve_conflicts,omitempty"`
	MergeMethod          *MergeMethod `json:"merge_method,omitempty"`
	BatchSize            *int         `json:"batch_size,omitempty"`
	MaxWaitTimeMinutes   *int         `json:"max_wait_time_minutes,omitempty"`
	AllowOutOfOrder      *bool        `json:"allow_out_of_order,omitempty"`
}

// Apply merges the patch over a base config and returns the result.
func (p ConfigPatch) Apply(base Config) Config {
	if p.Enabled != nil {
		base.Enabled = *p.Enabled
	}
	if p.AutoMergeEnabled != nil {
		base.AutoMergeEnabled = *p.AutoMergeEnabled
	}
	if p.RequireApprovals != nil {
		base.RequireApprovals = *p.RequireApprovals
	}
	if p.RequireChecks != nil {
		base.RequireChecks = *p.RequireChecks
	}
	if p.RequireUpToDate != nil {
		base.RequireUpToDate = *p.RequireUpToDate
	}
	if p.CheckConflicts != nil {
		base.CheckConflicts = *p.CheckConflicts
	}
	if p.AutoResolveConflicts != nil {
		base.AutoResolveConflicts = *p.AutoResolveConflicts
	}
	if p.MergeMethod != nil {
		base.MergeMethod = *p.MergeMethod
	}
	if p.BatchSize != nil {
		base.BatchSize = *p.BatchSize
	}
	if p.MaxWaitTimeMinutes != nil {
		base.MaxWaitTimeMinutes = *p.MaxWaitTimeMinutes
	}
	if p.AllowOutOfOrder != nil {
		base.AllowOutOfOrder = *p.AllowOutOfOrder
	}
	return base
}
