package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SQLRunRepository struct {
	db *DB
}

var _ RunRepository = (*SQLRunRepository)(nil)

func NewRunRepository(db *DB) *SQLRunRepository {
	return &SQLRunRepository{db: db}
}

func (r *SQLRunRepository) GetRun(ctx context.Context, id string) (*PipelineRun, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, completed_at FROM pipeline_runs WHERE id = ?
	`, id)

	var run PipelineRun
	err := row.Scan(&run.ID, &run.Status, &run.StartedAt, &run.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}
	return &run, nil
}

func (r *SQLRunRepository) CreateRun(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, status, started_at) VALUES (?, 'running', ?)
	`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return id, nil
}

func (r *SQLRunRepository) CompleteRun(ctx context.Context, id string, status RunStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = ?, completed_at = ? WHERE id = ? AND status = 'running'
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete pipeline run: %w", err)
	}
	return nil
}
