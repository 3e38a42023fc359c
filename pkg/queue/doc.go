// Package queue implements per-repository merge queues: ordered admission of
// PRs, readiness checking against the hosting provider, and optional
// automatic merging.
//
// # Overview
//
// Each repository owns one queue of items keyed by PR number, ordered by
// priority (descending) then arrival time. A Scheduler pass walks up to
// batchSize items in that order and advances each through the state machine:
//
//	queued -> checking -> ready -> merging -> merged
//	                 \-> blocked | conflicted        (retryable)
//	any              -> failed                       (retryable)
//
// Under the default head-of-line policy a blocked or conflicted item halts
// the pass, preserving the computed merge order. Setting allowOutOfOrder in
// the repository config lets later items proceed past a stuck head.
//
// # Key Features
//
// Idempotent Admission: re-adding a queued PR returns the existing item
// Readiness Gates: approvals, check runs, and up-to-date enforcement
// Conflict Gating: file overlap detection against unmerged items ahead
// Rebase and Retry: provider branch update plus reset to checking
// Policy Config: per-repository settings with validated partial updates
//
// # Usage Example
//
//	store := queue.NewPostgresStore(db, log)
//	sched := queue.NewScheduler(store, client, broadcaster, log)
//
//	item, created, err := store.Add(ctx, "acme/widgets", 512, 0)
//	result, err := sched.ProcessQueue(ctx, "acme", "widgets", "acme/widgets")
//
// Processing passes are triggered externally (API call, webhook, cron);
// callers must not run concurrent passes for the same repository.
//
// # Related Packages
//
//   - pkg/provider: hosting API the readiness gates and merges go through
//   - pkg/graph: computes the dependency-aware merge order
//   - pkg/notify: receives item state-change events
package queue
