package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/mergeplane/mergeplane/pkg/errors"
)

// PostgresStore reads workflow records from the shared workflows table.
// The table is written by the upstream analysis pipeline; this store is
// read-only by design.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a workflow store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `
	id, repository_id, pr_number, title, head_branch, base_branch,
	author_login, status, risk_level, affected_files, dependencies, created_at
`

// ListActive returns all active PR records for a repository, ordered by PR number.
func (s *PostgresStore) ListActive(ctx context.Context, repositoryID string) ([]*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM workflows
		WHERE repository_id = $1 AND active = TRUE
		ORDER BY pr_number ASC
	`

	rows, err := s.db.QueryContext(ctx, query, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns a single record by workflow id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM workflows
		WHERE id = $1
	`

	row := s.db.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var files pq.StringArray
	var depsJSON []byte

	err := row.Scan(
		&rec.ID, &rec.RepositoryID, &rec.PRNumber, &rec.Title,
		&rec.HeadBranch, &rec.BaseBranch, &rec.AuthorLogin, &rec.Status,
		&rec.RiskLevel, &files, &depsJSON, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	rec.AffectedFiles = []string(files)
	if len(depsJSON) > 0 {
		if err := json.Unmarshal(depsJSON, &rec.Dependencies); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow dependencies: %w", err)
		}
	}
	return &rec, nil
}
