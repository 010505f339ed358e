package database

import (
	"context"
	"time"
)

// Repository interfaces are consumed by the pipeline stages and the job
// queue. Stages depend on these, never on concrete repositories, so tests
// run against in-memory fakes.

type SourceRepository interface {
	GetSource(ctx context.Context, id string) (*Source, error)
	GetActiveSources(ctx context.Context) ([]Source, error)
	GetSourceCount(ctx context.Context) (int, error)

	UpsertSource(ctx context.Context, src Source) (string, error)
	SetActive(ctx context.Context, id string, active bool) error

	RecordFetchSuccess(ctx context.Context, id string, at time.Time) error
	RecordFetchFailure(ctx context.Context, id string) (int, error)
}

type ItemRepository interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	GetItems(ctx context.Context, ids []string) ([]Item, error)
	GetItemsWithoutDocument(ctx context.Context, limit int) ([]Item, error)

	// InsertItem is dedup-on-insert: a second insert of the same
	// (sourceID, url) is a no-op reporting inserted=false, not an error.
	InsertItem(ctx context.Context, sourceID, url, title string) (id string, inserted bool, err error)
}

type DocumentRepository interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]Document, error)
	GetDocumentsByStatus(ctx context.Context, status DocumentStatus, limit int) ([]Document, error)
	GetActiveDocumentByItem(ctx context.Context, itemID string) (*Document, error)

	InsertDocument(ctx context.Context, doc Document) error
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

type SignalRepository interface {
	GetSignalsByDocument(ctx context.Context, documentID string) ([]Signal, error)
	// GetSignalsForDateRange returns signals whose document was acquired in
	// [from, to), ordered by signal id for deterministic aggregation.
	GetSignalsForDateRange(ctx context.Context, from, to time.Time) ([]Signal, error)

	InsertSignal(ctx context.Context, sig Signal) error
	UpdateSignalAxes(ctx context.Context, id string, axes []byte, scoringVersion int) error
}

type JobRepository interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	CountByTypeAndStatus(ctx context.Context, filter JobFilter) ([]JobCount, error)

	Insert(ctx context.Context, job Job) error
	// Claim atomically moves up to limit due pending/retry jobs of the given
	// type to running and returns them, oldest-created first. Two concurrent
	// claimers never receive the same job.
	Claim(ctx context.Context, jobType JobType, limit int, now time.Time) ([]Job, error)
	MarkDone(ctx context.Context, id string) error
	// Release returns a running job to pending without touching its attempt
	// count. Used when a claimed job is handed back unexecuted.
	Release(ctx context.Context, id string) error
	// ReleaseStale returns running jobs whose lease expired (claimed before
	// cutoff, never settled) to pending, and reports how many were recovered.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)
	MarkRetry(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkDead(ctx context.Context, id string, errMsg string) error
	// CountActiveForRun counts jobs of a run that have not yet settled.
	CountActiveForRun(ctx context.Context, runID string) (int, error)
}

// JobFilter narrows job listing and stats queries. Zero values mean "any".
type JobFilter struct {
	Type   JobType
	Status JobStatus
	RunID  string
	Limit  int
}

type JobCount struct {
	Type   JobType
	Status JobStatus
	Count  int
}

type RunRepository interface {
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
	CreateRun(ctx context.Context) (string, error)
	CompleteRun(ctx context.Context, id string, status RunStatus) error
}

type SnapshotRepository interface {
	GetSnapshot(ctx context.Context, date string) (*DailySnapshot, error)
	GetLatestSnapshot(ctx context.Context) (*DailySnapshot, error)

	// UpsertSnapshot fully replaces any existing snapshot for the same date.
	UpsertSnapshot(ctx context.Context, snap DailySnapshot) error
}

type CanaryRepository interface {
	GetActiveDefinitions(ctx context.Context) ([]CanaryDefinition, error)
	UpsertDefinition(ctx context.Context, def CanaryDefinition) (string, error)
}
