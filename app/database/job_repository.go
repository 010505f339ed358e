package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

type SQLJobRepository struct {
	db *DB
}

var _ JobRepository = (*SQLJobRepository)(nil)

func NewJobRepository(db *DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

const jobColumns = `id, run_id, type, status, payload, attempts, last_error,
	next_attempt_at, created_at, updated_at`

func (r *SQLJobRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *SQLJobRepository) ListJobs(ctx context.Context, filter JobFilter) ([]Job, error) {
	builder := sq.Select("id", "run_id", "type", "status", "payload", "attempts",
		"last_error", "next_attempt_at", "created_at", "updated_at").
		From("jobs").
		OrderBy("created_at DESC")

	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"type": string(filter.Type)})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.RunID != "" {
		builder = builder.Where(sq.Eq{"run_id": filter.RunID})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}

	return jobs, nil
}

// CountByTypeAndStatus returns observability counts grouped by type and status.
func (r *SQLJobRepository) CountByTypeAndStatus(ctx context.Context, filter JobFilter) ([]JobCount, error) {
	builder := sq.Select("type", "status", "COUNT(*)").
		From("jobs").
		GroupBy("type", "status").
		OrderBy("type", "status")

	if filter.Type != "" {
		builder = builder.Where(sq.Eq{"type": string(filter.Type)})
	}
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.RunID != "" {
		builder = builder.Where(sq.Eq{"run_id": filter.RunID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build job count query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	var counts []JobCount
	for rows.Next() {
		var c JobCount
		if err := rows.Scan(&c.Type, &c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan job count row: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job count rows: %w", err)
	}

	return counts, nil
}

func (r *SQLJobRepository) Insert(ctx context.Context, job Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, run_id, type, status, payload, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.RunID, string(job.Type), string(job.Status), job.Payload,
		job.Attempts, job.CreatedAt.UTC(), job.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Claim is a single compare-and-swap style statement: the inner select picks
// due jobs oldest-first, the update flips them to running, and RETURNING
// hands them to exactly one claimer. sqlite serializes writers, so two
// concurrent claims cannot overlap.
func (r *SQLJobRepository) Claim(ctx context.Context, jobType JobType, limit int, now time.Time) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = 'running', updated_at = ?
		WHERE id IN (
			SELECT id FROM jobs
			WHERE type = ?
			  AND (status = 'pending' OR (status = 'retry' AND next_attempt_at <= ?))
			ORDER BY created_at
			LIMIT ?
		)
		RETURNING `+jobColumns+`
	`, now.UTC(), string(jobType), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed jobs: %w", err)
	}

	return jobs, nil
}

func (r *SQLJobRepository) MarkDone(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE jobs SET status = 'done', updated_at = ? WHERE id = ? AND status = 'running'
	`, "done")
}

func (r *SQLJobRepository) Release(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE jobs SET status = 'pending', updated_at = ? WHERE id = ? AND status = 'running'
	`, "pending")
}

// ReleaseStale recovers jobs stranded in running by a crashed or stopped
// worker. Attempts stay untouched: a crash must not burn retry budget.
func (r *SQLJobRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', updated_at = ?
		WHERE status = 'running' AND updated_at < ?
	`, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

func (r *SQLJobRepository) MarkRetry(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'retry', attempts = attempts + 1, last_error = ?,
		    next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, errMsg, nextAttemptAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job retry: %w", err)
	}
	return checkTransition(res, id, "retry")
}

func (r *SQLJobRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return checkTransition(res, id, "failed")
}

func (r *SQLJobRepository) MarkDead(ctx context.Context, id string, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'dead', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	return checkTransition(res, id, "dead")
}

func (r *SQLJobRepository) CountActiveForRun(ctx context.Context, runID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE run_id = ? AND status IN ('pending', 'running', 'retry')
	`, runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active jobs for run: %w", err)
	}
	return count, nil
}

func (r *SQLJobRepository) transition(ctx context.Context, id, query, target string) error {
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark job %s: %w", target, err)
	}
	return checkTransition(res, id, target)
}

// checkTransition rejects illegal edges in the job state machine: only a
// running job can settle, so done/failed/dead rows can never move again.
func checkTransition(res sql.Result, id, target string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s is not running, cannot transition to %s", id, target)
	}
	return nil
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	err := row.Scan(&job.ID, &job.RunID, &job.Type, &job.Status, &job.Payload,
		&job.Attempts, &job.LastError, &job.NextAttemptAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
