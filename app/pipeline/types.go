package pipeline

import (
	"context"
	"time"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/fetch"
)

// Stage requests mirror the trigger surface: explicit ids narrow the batch,
// DryRun computes without writing, RunID stamps enqueued follow-up jobs.

type DiscoverRequest struct {
	SourceIDs []string
	Force     bool
	DryRun    bool
	RunID     *string
}

type DiscoverStats struct {
	SourcesChecked  int      `json:"sources_checked"`
	SourcesFailed   int      `json:"sources_failed"`
	ItemsFound      int      `json:"items_found"`
	ItemsInserted   int      `json:"items_inserted"`
	InsertedItemIDs []string `json:"inserted_item_ids"`
}

type AcquireRequest struct {
	ItemIDs []string
	DryRun  bool
	RunID   *string
}

type AcquireStats struct {
	DocumentsProcessed int           `json:"documents_processed"`
	ItemsFailed        int           `json:"items_failed"`
	DocumentIDs        []string      `json:"document_ids"`
	Duration           time.Duration `json:"duration_ms"`
}

type ExtractRequest struct {
	DocumentIDs []string
	DryRun      bool
	RunID       *string
}

type ExtractStats struct {
	DocumentsProcessed int              `json:"documents_processed"`
	DocumentsFailed    int              `json:"documents_failed"`
	SignalsCreated     int              `json:"signals_created"`
	Detail             []DocumentDetail `json:"detail"`
	Duration           time.Duration    `json:"duration_ms"`
}

type DocumentDetail struct {
	DocumentID     string `json:"document_id"`
	SignalsCreated int    `json:"signals_created"`
	Error          string `json:"error,omitempty"`
}

type AggregateRequest struct {
	Date   string // YYYY-MM-DD, defaults to yesterday (UTC)
	DryRun bool
}

type AggregateStats struct {
	Date           string  `json:"date"`
	SignalCount    int     `json:"signal_count"`
	CoverageScore  float64 `json:"coverage_score"`
	CompositeScore float64 `json:"composite_score"`
	AutonomyLevel  int     `json:"autonomy_level"`
	Written        bool    `json:"written"`
}

// ListingFetcher and ContentFetcher are the outbound collaborators the
// stages depend on; fakes implement them in tests.
type ListingFetcher interface {
	FetchListing(ctx context.Context, src database.Source) ([]fetch.Candidate, error)
}

type ContentFetcher interface {
	FetchContent(ctx context.Context, url string) (string, error)
}
