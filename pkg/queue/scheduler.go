package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mergeplane/mergeplane/pkg/notify"
	"github.com/mergeplane/mergeplane/pkg/observability"
	"github.com/mergeplane/mergeplane/pkg/provider"
)

// Scheduler drives queue items through the merge state machine. One
// ProcessQueue call performs a single pass and returns; callers trigger
// passes via webhook, cron, or the API. Callers must not run concurrent
// passes for the same repository.
type Scheduler struct {
	store       Store
	client      provider.Client
	broadcaster notify.Broadcaster
	log         *logrus.Logger
	metrics     *observability.Metrics

	// rebaseGroup collapses concurrent RebaseAndRetry calls for the same
	// (repository, PR) into one provider round trip.
	rebaseGroup singleflight.Group
}

// NewScheduler creates a queue scheduler.
func NewScheduler(store Store, client provider.Client, broadcaster notify.Broadcaster, log *logrus.Logger) *Scheduler {
	if broadcaster == nil {
		broadcaster = notify.NopBroadcaster{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		store:       store,
		client:      client,
		broadcaster: broadcaster,
		log:         log,
	}
}

// WithMetrics instruments scheduling passes. A nil metrics disables recording.
func (s *Scheduler) WithMetrics(m *observability.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// ProcessResult summarizes one processing pass.
type ProcessResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Processed int    `json:"processed"`
	Merged    int    `json:"merged"`
	Blocked   int    `json:"blocked"`
	Failed    int    `json:"failed"`
	Halted    bool   `json:"halted,omitempty"` // head-of-line stop before the batch was exhausted
}

// RetryResult is the structured outcome of RebaseAndRetry.
type RetryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProcessQueue runs one scheduling pass: up to batchSize items in strict
// queue order, each advanced through checking, conflict gating, and (when
// auto-merge is on) the merge itself. Under the default head-of-line policy
// a blocked or conflicted item stops the pass so later items cannot jump
// the computed order. Item-level failures are recorded on the item and
// never abort the remaining eligible items.
func (s *Scheduler) ProcessQueue(ctx context.Context, owner, repo, repositoryID string) (*ProcessResult, error) {
	start := time.Now()
	cfg := s.store.GetConfig(ctx, repositoryID)
	result := &ProcessResult{Success: true}

	if !cfg.Enabled {
		result.Message = "merge queue is disabled for this repository"
		return result, nil
	}

	items, err := s.store.List(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue for %s: %w", repositoryID, err)
	}

	pending := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.Status != StatusMerged {
			pending = append(pending, item)
		}
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.WithLabelValues(repositoryID).Set(float64(len(pending)))
	}

	detector := NewConflictDetector(s.client)
	batch := pending
	if len(batch) > cfg.BatchSize {
		batch = batch[:cfg.BatchSize]
	}

	// ahead accumulates earlier items that did not merge this pass; a later
	// item touching the same files as one of them would land out of order.
	var ahead []int
	for _, item := range batch {
		outcome := s.processItem(ctx, owner, repo, cfg, detector, item, ahead)
		result.Processed++
		if s.metrics != nil {
			s.metrics.QueueItemsTotal.WithLabelValues(repositoryID, string(outcome)).Inc()
		}
		if outcome != StatusMerged {
			ahead = append(ahead, item.PRNumber)
		}

		switch outcome {
		case StatusMerged:
			result.Merged++
		case StatusFailed:
			result.Failed++
		case StatusBlocked, StatusConflicted:
			result.Blocked++
			if !cfg.AllowOutOfOrder {
				result.Halted = true
			}
		}

		if result.Halted {
			break
		}
	}

	result.Message = fmt.Sprintf("processed %d item(s): %d merged, %d blocked, %d failed",
		result.Processed, result.Merged, result.Blocked, result.Failed)

	if s.metrics != nil {
		s.metrics.QueuePassDuration.WithLabelValues(repositoryID).Observe(time.Since(start).Seconds())
	}

	s.broadcaster.Publish(ctx, notify.Event{
		Type:         notify.EventPassCompleted,
		RepositoryID: repositoryID,
		Data: map[string]interface{}{
			"processed": result.Processed,
			"merged":    result.Merged,
			"blocked":   result.Blocked,
			"failed":    result.Failed,
		},
	})
	return result, nil
}

// processItem advances one item and returns the status it settled on for
// this pass. Unexpected errors and panics convert the item to failed so a
// single bad item cannot take down the pass.
func (s *Scheduler) processItem(ctx context.Context, owner, repo string, cfg Config, detector *ConflictDetector, item *Item, ahead []int) (status Status) {
	log := s.log.WithFields(logrus.Fields{
		"repository_id": item.RepositoryID,
		"pr":            item.PRNumber,
	})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while processing queue item: %v", r)
			s.fail(ctx, item, fmt.Sprintf("internal error: %v", r))
			status = StatusFailed
		}
	}()

	// Re-read for idempotency under at-least-once triggers: an item another
	// pass already finished must not be merged twice.
	current, err := s.store.Get(ctx, item.RepositoryID, item.PRNumber)
	if err != nil {
		log.WithError(err).Warn("queue item vanished mid-pass")
		return StatusFailed
	}
	item = current
	if item.Status == StatusMerged || item.Status == StatusMerging {
		return item.Status
	}

	// Items that sat in the queue beyond the configured ceiling fail out
	// rather than gating the queue forever.
	if age := time.Since(item.AddedAt); age > time.Duration(cfg.MaxWaitTimeMinutes)*time.Minute {
		s.fail(ctx, item, fmt.Sprintf("exceeded maximum wait time of %d minutes", cfg.MaxWaitTimeMinutes))
		return StatusFailed
	}

	item.Status = StatusChecking
	now := time.Now().UTC()
	item.LastCheckedAt = &now
	if err := s.store.Update(ctx, item); err != nil {
		log.WithError(err).Error("failed to persist checking status")
		return StatusFailed
	}

	// Readiness gates: approvals, CI, up-to-date.
	if reason, err := s.readiness(ctx, owner, repo, cfg, item); err != nil {
		s.fail(ctx, item, err.Error())
		return StatusFailed
	} else if reason != "" {
		item.Status = StatusBlocked
		item.ErrorMessage = reason
		if err := s.store.Update(ctx, item); err != nil {
			log.WithError(err).Error("failed to persist blocked status")
		}
		s.publishItem(ctx, notify.EventItemBlocked, item)
		log.WithField("reason", reason).Info("queue item blocked")
		return StatusBlocked
	}

	// Conflict gate against still-unmerged items ahead in order.
	if cfg.CheckConflicts && len(ahead) > 0 {
		conflicts, err := detector.Conflicts(ctx, owner, repo, item.PRNumber, ahead)
		if err != nil {
			s.fail(ctx, item, fmt.Sprintf("conflict detection failed: %v", err))
			return StatusFailed
		}
		if len(conflicts) > 0 {
			item.Status = StatusConflicted
			item.ConflictsWith = conflicts
			item.ErrorMessage = fmt.Sprintf("overlapping files with PR(s) %s", joinInts(conflicts))
			if err := s.store.Update(ctx, item); err != nil {
				log.WithError(err).Error("failed to persist conflicted status")
			}
			s.publishItem(ctx, notify.EventItemConflicted, item)
			log.WithField("conflicts_with", conflicts).Info("queue item conflicted")
			return StatusConflicted
		}
	}

	item.Status = StatusReady
	item.ErrorMessage = ""
	item.ConflictsWith = nil
	if err := s.store.Update(ctx, item); err != nil {
		log.WithError(err).Error("failed to persist ready status")
		return StatusFailed
	}
	s.publishItem(ctx, notify.EventItemReady, item)

	if !cfg.AutoMergeEnabled {
		return StatusReady
	}
	return s.merge(ctx, owner, repo, cfg, item, log)
}

// readiness returns a human-readable blocking reason, or "" when the item
// may proceed. Provider failures are returned as errors.
func (s *Scheduler) readiness(ctx context.Context, owner, repo string, cfg Config, item *Item) (string, error) {
	pr, err := s.client.GetPullRequest(ctx, owner, repo, item.PRNumber)
	if err != nil {
		return "", err
	}
	if pr.Merged {
		// Merged outside the queue; treat as done below via the merge
		// guard rather than blocking here.
		return "", nil
	}
	if pr.State != "open" {
		return fmt.Sprintf("pull request is %s", pr.State), nil
	}

	if cfg.RequireApprovals > 0 {
		reviews, err := s.client.GetReviews(ctx, owner, repo, item.PRNumber)
		if err != nil {
			return "", err
		}
		if n := provider.ApprovalCount(reviews); n < cfg.RequireApprovals {
			return fmt.Sprintf("requires %d approval(s), has %d", cfg.RequireApprovals, n), nil
		}
	}

	if cfg.RequireChecks {
		checks, err := s.client.GetCheckStatus(ctx, owner, repo, item.PRNumber)
		if err != nil {
			return "", err
		}
		if !checks.Green() {
			return fmt.Sprintf("checks are %s (%d failed, %d pending)",
				checks.State, checks.Failed, checks.Pending), nil
		}
	}

	if cfg.RequireUpToDate && pr.BehindBy > 0 {
		return fmt.Sprintf("head is %d commit(s) behind %s", pr.BehindBy, pr.BaseBranch), nil
	}

	return "", nil
}

// merge attempts the actual merge. The status guard re-checks the provider
// state so an at-least-once retrigger never issues a duplicate merge call.
func (s *Scheduler) merge(ctx context.Context, owner, repo string, cfg Config, item *Item, log *logrus.Entry) Status {
	pr, err := s.client.GetPullRequest(ctx, owner, repo, item.PRNumber)
	if err != nil {
		s.fail(ctx, item, err.Error())
		return StatusFailed
	}
	if pr.Merged {
		s.finishMerged(ctx, item, log)
		return StatusMerged
	}

	item.Status = StatusMerging
	item.Attempts++
	if err := s.store.Update(ctx, item); err != nil {
		log.WithError(err).Error("failed to persist merging status")
		return StatusFailed
	}

	res, err := s.client.MergePullRequest(ctx, owner, repo, item.PRNumber, string(cfg.MergeMethod))
	if err != nil {
		if s.metrics != nil {
			s.metrics.QueueMergesTotal.WithLabelValues(item.RepositoryID, "error").Inc()
		}
		s.fail(ctx, item, err.Error())
		return StatusFailed
	}
	if !res.Merged {
		if s.metrics != nil {
			s.metrics.QueueMergesTotal.WithLabelValues(item.RepositoryID, "declined").Inc()
		}
		s.fail(ctx, item, fmt.Sprintf("provider declined merge: %s", res.Message))
		return StatusFailed
	}

	s.finishMerged(ctx, item, log)
	return StatusMerged
}

func (s *Scheduler) finishMerged(ctx context.Context, item *Item, log *logrus.Entry) {
	item.Status = StatusMerged
	item.ErrorMessage = ""
	if err := s.store.Update(ctx, item); err != nil {
		log.WithError(err).Error("failed to persist merged status")
	}
	if s.metrics != nil {
		s.metrics.QueueMergesTotal.WithLabelValues(item.RepositoryID, "success").Inc()
		s.metrics.QueueWaitTime.WithLabelValues(item.RepositoryID).Observe(time.Since(item.AddedAt).Seconds())
	}
	s.publishItem(ctx, notify.EventItemMerged, item)

	if err := s.store.Remove(ctx, item.RepositoryID, item.PRNumber); err != nil {
		log.WithError(err).Warn("failed to remove merged item from queue")
	}
	log.Info("queue item merged")
}

func (s *Scheduler) fail(ctx context.Context, item *Item, message string) {
	item.Status = StatusFailed
	item.ErrorMessage = message
	if err := s.store.Update(ctx, item); err != nil {
		s.log.WithError(err).WithField("pr", item.PRNumber).Error("failed to persist failed status")
	}
	if s.metrics != nil {
		s.metrics.QueueWaitTime.WithLabelValues(item.RepositoryID).Observe(time.Since(item.AddedAt).Seconds())
	}
	s.publishItem(context.WithoutCancel(ctx), notify.EventItemFailed, item)
}

// RebaseAndRetry updates the PR branch via the provider and resets the item
// to checking. Only blocked, conflicted, or failed items are eligible;
// concurrent calls for the same PR collapse into one.
func (s *Scheduler) RebaseAndRetry(ctx context.Context, owner, repo, repositoryID string, prNumber int) *RetryResult {
	key := fmt.Sprintf("%s#%d", repositoryID, prNumber)
	v, _, _ := s.rebaseGroup.Do(key, func() (interface{}, error) {
		return s.rebaseAndRetry(ctx, owner, repo, repositoryID, prNumber), nil
	})
	return v.(*RetryResult)
}

func (s *Scheduler) rebaseAndRetry(ctx context.Context, owner, repo, repositoryID string, prNumber int) *RetryResult {
	item, err := s.store.Get(ctx, repositoryID, prNumber)
	if err != nil {
		return &RetryResult{Success: false, Message: fmt.Sprintf("PR %d not found in queue", prNumber)}
	}
	if !item.Status.Retryable() {
		return &RetryResult{Success: false, Message: fmt.Sprintf("PR %d is %s, not retryable", prNumber, item.Status)}
	}

	if err := s.client.UpdateBranch(ctx, owner, repo, prNumber); err != nil {
		return &RetryResult{Success: false, Message: fmt.Sprintf("branch update failed: %v", err)}
	}

	item.Status = StatusChecking
	item.ConflictsWith = nil
	item.ErrorMessage = ""
	item.Attempts++
	now := time.Now().UTC()
	item.LastCheckedAt = &now
	if err := s.store.Update(ctx, item); err != nil {
		return &RetryResult{Success: false, Message: fmt.Sprintf("failed to persist retry: %v", err)}
	}

	s.publishItem(ctx, notify.EventItemRetried, item)
	return &RetryResult{Success: true, Message: fmt.Sprintf("PR %d rebased and re-queued for checking", prNumber)}
}

func (s *Scheduler) publishItem(ctx context.Context, t notify.EventType, item *Item) {
	s.broadcaster.Publish(ctx, notify.Event{
		Type:         t,
		RepositoryID: item.RepositoryID,
		Data: map[string]interface{}{
			"pr_number": item.PRNumber,
			"status":    string(item.Status),
			"attempts":  item.Attempts,
		},
	})
}

func joinInts(ns []int) string {
	parts := make([]string, 0, len(ns))
	for _, n := range ns {
		parts = append(parts, fmt.Sprintf("#%d", n))
	}
	return strings.Join(parts, ", ")
}
