package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
)

// Executors adapt the pipeline stages to the job queue. Payloads that fail
// to unmarshal are permanent failures: re-running them cannot help.

func decodePayload(job database.Job, dst any) error {
	if err := json.Unmarshal([]byte(job.Payload), dst); err != nil {
		return jobs.Permanent(fmt.Errorf("malformed %s payload: %w", job.Type, err))
	}
	return nil
}

type DiscoverExecutor struct {
	discovery *Discovery
}

func NewDiscoverExecutor(discovery *Discovery) *DiscoverExecutor {
	return &DiscoverExecutor{discovery: discovery}
}

func (e *DiscoverExecutor) Type() database.JobType {
	return database.JobTypeDiscover
}

func (e *DiscoverExecutor) Execute(ctx context.Context, job database.Job) error {
	var payload jobs.DiscoverPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	_, err := e.discovery.Run(ctx, DiscoverRequest{
		SourceIDs: payload.SourceIDs,
		Force:     payload.Force,
		RunID:     job.RunID,
	})
	return err
}

type FetchExecutor struct {
	acquisition *Acquisition
}

func NewFetchExecutor(acquisition *Acquisition) *FetchExecutor {
	return &FetchExecutor{acquisition: acquisition}
}

func (e *FetchExecutor) Type() database.JobType {
	return database.JobTypeFetch
}

func (e *FetchExecutor) Execute(ctx context.Context, job database.Job) error {
	var payload jobs.FetchPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.ItemID == "" {
		return jobs.Permanent(fmt.Errorf("fetch payload has no item_id"))
	}

	_, err := e.acquisition.AcquireItem(ctx, payload.ItemID, job.RunID)
	return err
}

type ExtractExecutor struct {
	extraction *Extraction
}

func NewExtractExecutor(extraction *Extraction) *ExtractExecutor {
	return &ExtractExecutor{extraction: extraction}
}

func (e *ExtractExecutor) Type() database.JobType {
	return database.JobTypeExtract
}

func (e *ExtractExecutor) Execute(ctx context.Context, job database.Job) error {
	var payload jobs.ExtractPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.DocumentID == "" {
		return jobs.Permanent(fmt.Errorf("extract payload has no document_id"))
	}

	_, err := e.extraction.ExtractDocument(ctx, payload.DocumentID)
	return err
}

type MapExecutor struct {
	mapping *Mapping
}

func NewMapExecutor(mapping *Mapping) *MapExecutor {
	return &MapExecutor{mapping: mapping}
}

func (e *MapExecutor) Type() database.JobType {
	return database.JobTypeMap
}

func (e *MapExecutor) Execute(ctx context.Context, job database.Job) error {
	var payload jobs.MapPayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}
	if payload.DocumentID == "" {
		return jobs.Permanent(fmt.Errorf("map payload has no document_id"))
	}

	_, err := e.mapping.MapDocument(ctx, payload.DocumentID)
	return err
}

type AggregateExecutor struct {
	aggregation *Aggregation
}

func NewAggregateExecutor(aggregation *Aggregation) *AggregateExecutor {
	return &AggregateExecutor{aggregation: aggregation}
}

func (e *AggregateExecutor) Type() database.JobType {
	return database.JobTypeAggregate
}

func (e *AggregateExecutor) Execute(ctx context.Context, job database.Job) error {
	var payload jobs.AggregatePayload
	if err := decodePayload(job, &payload); err != nil {
		return err
	}

	_, err := e.aggregation.Run(ctx, AggregateRequest{Date: payload.Date})
	return err
}
