package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/capradar/capradar/app/database"
)

const (
	DefaultMaxAttempts = 3

	// Exponential backoff: base doubles per attempt, capped. The exact curve
	// is a policy choice, documented in DESIGN.md.
	backoffBase = 30 * time.Second
	backoffCap  = 30 * time.Minute
)

// PermanentError marks a job failure that must not be retried: malformed
// payloads, configuration errors, AI output failing schema validation.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the queue routes the job to failed instead of retry.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Job payloads. One struct per job type, serialized as JSON.
type DiscoverPayload struct {
	SourceIDs []string `json:"source_ids,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

type FetchPayload struct {
	ItemID string `json:"item_id"`
}

type ExtractPayload struct {
	DocumentID string `json:"document_id"`
}

type MapPayload struct {
	DocumentID string `json:"document_id"`
}

type AggregatePayload struct {
	Date string `json:"date"` // YYYY-MM-DD
}

// Queue is the durable work-item store every stage enqueues through.
// Claiming is exclusive; retry timing and dead-lettering live here, not in
// the stages.
type Queue struct {
	repo        database.JobRepository
	maxAttempts int
}

func NewQueue(repo database.JobRepository, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{repo: repo, maxAttempts: maxAttempts}
}

// Enqueue creates a pending job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, jobType database.JobType, payload any, runID *string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now().UTC()
	job := database.Job{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      jobType,
		Status:    database.JobStatusPending,
		Payload:   string(raw),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := q.repo.Insert(ctx, job); err != nil {
		return "", err
	}

	return job.ID, nil
}

// Claim atomically takes up to limit due jobs of a type, oldest first.
func (q *Queue) Claim(ctx context.Context, jobType database.JobType, limit int) ([]database.Job, error) {
	return q.repo.Claim(ctx, jobType, limit, time.Now())
}

// Complete settles a running job as done.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	return q.repo.MarkDone(ctx, jobID)
}

// Release hands a claimed job back to pending unexecuted. No attempt is
// consumed: the job never ran.
func (q *Queue) Release(ctx context.Context, jobID string) error {
	return q.repo.Release(ctx, jobID)
}

// ReleaseStale returns jobs stranded in running longer than lease to
// pending, so work claimed by a crashed process is re-delivered.
func (q *Queue) ReleaseStale(ctx context.Context, lease time.Duration) (int, error) {
	return q.repo.ReleaseStale(ctx, time.Now().Add(-lease))
}

// Fail settles a running job after an execution error. Permanent errors go
// to failed; retryable errors get a backoff slot until the attempt budget
// is exhausted, then dead-letter.
func (q *Queue) Fail(ctx context.Context, job database.Job, execErr error) error {
	msg := execErr.Error()

	var permanent *PermanentError
	if errors.As(execErr, &permanent) {
		return q.repo.MarkFailed(ctx, job.ID, msg)
	}

	attempt := job.Attempts + 1
	if attempt >= q.maxAttempts {
		return q.repo.MarkDead(ctx, job.ID, msg)
	}

	return q.repo.MarkRetry(ctx, job.ID, msg, time.Now().Add(Backoff(attempt)))
}

// Backoff returns the delay before the given attempt (1-based) is due again.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase << uint(attempt-1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	return delay
}

// Stats returns job counts grouped by type and status.
func (q *Queue) Stats(ctx context.Context) ([]database.JobCount, error) {
	return q.repo.CountByTypeAndStatus(ctx, database.JobFilter{})
}

// HasActive reports whether any job of the type is pending, running or
// awaiting retry. Used to avoid stacking duplicate singleton jobs.
func (q *Queue) HasActive(ctx context.Context, jobType database.JobType) (bool, error) {
	counts, err := q.repo.CountByTypeAndStatus(ctx, database.JobFilter{Type: jobType})
	if err != nil {
		return false, err
	}
	for _, c := range counts {
		switch c.Status {
		case database.JobStatusPending, database.JobStatusRunning, database.JobStatusRetry:
			if c.Count > 0 {
				return true, nil
			}
		}
	}
	return false, nil
}
