package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/mergeplane/mergeplane/pkg/errors"
)

// PostgresStore persists queue items and configs in PostgreSQL. Each method
// is one statement (or a single upsert), giving the per-item atomicity the
// scheduler relies on.
type PostgresStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewPostgresStore creates a Postgres-backed queue store.
func NewPostgresStore(db *sql.DB, log *logrus.Logger) *PostgresStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PostgresStore{db: db, log: log}
}

const itemColumns = `
	id, repository_id, pr_number, priority, status, added_at,
	last_checked_at, attempts, conflicts_with, error_message
`

// Add inserts a new item unless one already exists for (repository, PR).
// The insert uses ON CONFLICT DO NOTHING and re-reads the row, so duplicate
// calls return the original item with its status and added_at intact.
func (s *PostgresStore) Add(ctx context.Context, repositoryID string, prNumber, priority int) (*Item, bool, error) {
	query := `
		INSERT INTO merge_queue_items (
			id, repository_id, pr_number, priority, status, added_at, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, 0)
		ON CONFLICT (repository_id, pr_number) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), repositoryID, prNumber, priority, StatusQueued, time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue pr %d: %w", prNumber, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	item, err := s.Get(ctx, repositoryID, prNumber)
	if err != nil {
		return nil, false, err
	}
	return item, inserted == 1, nil
}

// Get returns one item.
func (s *PostgresStore) Get(ctx context.Context, repositoryID string, prNumber int) (*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM merge_queue_items
		WHERE repository_id = $1 AND pr_number = $2
	`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, repositoryID, prNumber))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("queue item", fmt.Sprintf("%s#%d", repositoryID, prNumber))
	}
	return item, err
}

// List returns the repository's items in queue order.
func (s *PostgresStore) List(ctx context.Context, repositoryID string) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM merge_queue_items
		WHERE repository_id = $1
		ORDER BY priority DESC, added_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Update persists a modified item.
func (s *PostgresStore) Update(ctx context.Context, item *Item) error {
	query := `
		UPDATE merge_queue_items
		SET priority = $3, status = $4, last_checked_at = $5,
		    attempts = $6, conflicts_with = $7, error_message = $8
		WHERE repository_id = $1 AND pr_number = $2
	`

	res, err := s.db.ExecContext(ctx, query,
		item.RepositoryID, item.PRNumber, item.Priority, item.Status,
		item.LastCheckedAt, item.Attempts, pq.Array(item.ConflictsWith), item.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return errors.NewNotFound("queue item", fmt.Sprintf("%s#%d", item.RepositoryID, item.PRNumber))
	}
	return nil
}

// Remove deletes an item.
func (s *PostgresStore) Remove(ctx context.Context, repositoryID string, prNumber int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM merge_queue_items WHERE repository_id = $1 AND pr_number = $2`,
		repositoryID, prNumber)
	if err != nil {
		return fmt.Errorf("failed to remove queue item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return errors.NewNotFound("queue item", fmt.Sprintf("%s#%d", repositoryID, prNumber))
	}
	return nil
}

// GetConfig returns the persisted config merged over defaults. Store
// failures are logged and yield the defaults; config reads never error.
func (s *PostgresStore) GetConfig(ctx context.Context, repositoryID string) Config {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT config FROM merge_queue_configs WHERE repository_id = $1`,
		repositoryID).Scan(&data)
	if err == sql.ErrNoRows {
		return DefaultConfig()
	}
	if err != nil {
		s.log.WithError(err).WithField("repository_id", repositoryID).
			Warn("config read failed, using defaults")
		return DefaultConfig()
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.WithError(err).WithField("repository_id", repositoryID).
			Warn("config unmarshal failed, using defaults")
		return DefaultConfig()
	}
	return cfg
}

// SetConfig merges a patch over the current config and upserts the record.
func (s *PostgresStore) SetConfig(ctx context.Context, repositoryID string, patch ConfigPatch) (Config, error) {
	merged := patch.Apply(s.GetConfig(ctx, repositoryID))
	if err := merged.Validate(); err != nil {
		return Config{}, err
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return Config{}, fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO merge_queue_configs (repository_id, config, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (repository_id) DO UPDATE SET config = $2, updated_at = $3
	`
	if _, err := s.db.ExecContext(ctx, query, repositoryID, data, time.Now().UTC()); err != nil {
		return Config{}, fmt.Errorf("failed to persist config: %w", err)
	}
	return merged, nil
}

func scanItem(row interface{ Scan(...interface{}) error }) (*Item, error) {
	var item Item
	var lastChecked sql.NullTime
	var conflicts pq.Int64Array
	var errMsg sql.NullString

	err := row.Scan(
		&item.ID, &item.RepositoryID, &item.PRNumber, &item.Priority,
		&item.Status, &item.AddedAt, &lastChecked, &item.Attempts,
		&conflicts, &errMsg,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	if lastChecked.Valid {
		item.LastCheckedAt = &lastChecked.Time
	}
	for _, n := range conflicts {
		item.ConflictsWith = append(item.ConflictsWith, int(n))
	}
	item.ErrorMessage = errMsg.String
	return &item, nil
}
