package api

import (
	"context"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/pipeline"
)

// Stage interfaces decouple the handlers from concrete pipeline stages so
// handler tests run against fakes.

type DiscoveryInterface interface {
	Run(ctx context.Context, req pipeline.DiscoverRequest) (*pipeline.DiscoverStats, error)
	Health(ctx context.Context) ([]pipeline.SourceHealth, error)
}

type AcquisitionInterface interface {
	Run(ctx context.Context, req pipeline.AcquireRequest) (*pipeline.AcquireStats, error)
}

type ExtractionInterface interface {
	Run(ctx context.Context, req pipeline.ExtractRequest) (*pipeline.ExtractStats, error)
}

type AggregationInterface interface {
	Run(ctx context.Context, req pipeline.AggregateRequest) (*pipeline.AggregateStats, error)
}

var _ DiscoveryInterface = (*pipeline.Discovery)(nil)
var _ AcquisitionInterface = (*pipeline.Acquisition)(nil)
var _ ExtractionInterface = (*pipeline.Extraction)(nil)
var _ AggregationInterface = (*pipeline.Aggregation)(nil)

type Handler struct {
	discovery   DiscoveryInterface
	acquisition AcquisitionInterface
	extraction  ExtractionInterface
	aggregation AggregationInterface

	queue     *jobs.Queue
	jobRepo   database.JobRepository
	runRepo   database.RunRepository
	sources   database.SourceRepository
	snapshots database.SnapshotRepository
}

// Trigger request bodies. All fields are optional.

type discoverBody struct {
	SourceIDs []string `json:"source_ids"`
	Force     bool     `json:"force"`
	DryRun    bool     `json:"dry_run"`
}

type acquireBody struct {
	ItemIDs []string `json:"item_ids"`
	DryRun  bool     `json:"dry_run"`
}

type extractBody struct {
	DocumentIDs []string `json:"document_ids"`
	DryRun      bool     `json:"dry_run"`
}

type aggregateBody struct {
	Date   string `json:"date"`
	DryRun bool   `json:"dry_run"`
}

type remapBody struct {
	DocumentIDs []string `json:"document_ids"`
}
