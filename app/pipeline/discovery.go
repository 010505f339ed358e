package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/fetch"
	"github.com/capradar/capradar/app/jobs"
)

// Discovery pulls candidate items from registered sources and enqueues
// fetch jobs for everything new.
type Discovery struct {
	sources  database.SourceRepository
	items    database.ItemRepository
	lister   ListingFetcher
	filterer *fetch.Filterer
	queue    *jobs.Queue

	unhealthyThreshold int
}

func NewDiscovery(sources database.SourceRepository, items database.ItemRepository,
	lister ListingFetcher, queue *jobs.Queue, unhealthyThreshold int) *Discovery {
	return &Discovery{
		sources:            sources,
		items:              items,
		lister:             lister,
		filterer:           fetch.NewFilterer(),
		queue:              queue,
		unhealthyThreshold: unhealthyThreshold,
	}
}

// Run checks every due source. A single source's failure never blocks the
// others: it is logged, counted against source health, and the pass moves on.
func (d *Discovery) Run(ctx context.Context, req DiscoverRequest) (*DiscoverStats, error) {
	sources, err := d.selectSources(ctx, req)
	if err != nil {
		return nil, err
	}

	stats := &DiscoverStats{InsertedItemIDs: []string{}}
	now := time.Now().UTC()

	for _, src := range sources {
		if !req.Force && !src.Due(now) {
			slog.Debug("Source not due yet", "source", src.Name)
			continue
		}
		stats.SourcesChecked++

		if err := d.checkSource(ctx, src, req, stats); err != nil {
			stats.SourcesFailed++
			slog.Warn("Source discovery failed", "source", src.Name, "error", err)

			count, recErr := d.sources.RecordFetchFailure(ctx, src.ID)
			if recErr != nil {
				slog.Error("Failed to record source failure", "source", src.Name, "error", recErr)
				continue
			}
			if count >= d.unhealthyThreshold {
				slog.Warn("Source is unhealthy, consider disabling",
					"source", src.Name, "error_count", count)
			}
			continue
		}

		if !req.DryRun {
			if err := d.sources.RecordFetchSuccess(ctx, src.ID, now); err != nil {
				slog.Error("Failed to record source success", "source", src.Name, "error", err)
			}
		}
	}

	slog.Info("Discovery completed", "sources_checked", stats.SourcesChecked,
		"sources_failed", stats.SourcesFailed, "items_found", stats.ItemsFound,
		"items_inserted", stats.ItemsInserted)

	return stats, nil
}

func (d *Discovery) selectSources(ctx context.Context, req DiscoverRequest) ([]database.Source, error) {
	if len(req.SourceIDs) == 0 {
		sources, err := d.sources.GetActiveSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load active sources: %w", err)
		}
		return sources, nil
	}

	var sources []database.Source
	for _, id := range req.SourceIDs {
		src, err := d.sources.GetSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if src == nil {
			return nil, fmt.Errorf("source %s not found", id)
		}
		sources = append(sources, *src)
	}
	return sources, nil
}

func (d *Discovery) checkSource(ctx context.Context, src database.Source, req DiscoverRequest, stats *DiscoverStats) error {
	candidates, err := d.lister.FetchListing(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to fetch listing: %w", err)
	}

	candidates = d.filterer.Run(candidates, src.QueryConfig)
	stats.ItemsFound += len(candidates)

	if req.DryRun {
		return nil
	}

	for _, c := range candidates {
		if c.URL == "" {
			continue
		}

		itemID, inserted, err := d.items.InsertItem(ctx, src.ID, c.URL, c.Title)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		if !inserted {
			continue
		}

		stats.ItemsInserted++
		stats.InsertedItemIDs = append(stats.InsertedItemIDs, itemID)

		if _, err := d.queue.Enqueue(ctx, database.JobTypeFetch, jobs.FetchPayload{ItemID: itemID}, req.RunID); err != nil {
			return fmt.Errorf("failed to enqueue fetch job: %w", err)
		}
	}

	return nil
}

// SourceHealth summarizes one source's operational state for the API.
type SourceHealth struct {
	SourceID        string  `json:"source_id"`
	Name            string  `json:"name"`
	Active          bool    `json:"active"`
	ErrorCount      int     `json:"error_count"`
	DaysSinceOK     float64 `json:"days_since_success"`
	Status          string  `json:"status"` // green, yellow, red
	SuggestDisable  bool    `json:"suggest_disable"`
	NeverSucceeded  bool    `json:"never_succeeded"`
}

// Health derives per-source health from the rolling error count and the
// age of the last success. Crossing the threshold only suggests disabling;
// the decision stays manual.
func (d *Discovery) Health(ctx context.Context) ([]SourceHealth, error) {
	sources, err := d.sources.GetActiveSources(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	health := make([]SourceHealth, 0, len(sources))
	for _, src := range sources {
		h := SourceHealth{
			SourceID:   src.ID,
			Name:       src.Name,
			Active:     src.Active,
			ErrorCount: src.ErrorCount,
		}

		if src.LastSuccessAt == nil {
			h.NeverSucceeded = true
		} else {
			h.DaysSinceOK = now.Sub(*src.LastSuccessAt).Hours() / 24
		}

		switch {
		case src.ErrorCount >= d.unhealthyThreshold:
			h.Status = "red"
			h.SuggestDisable = true
		case src.ErrorCount > 0 || h.NeverSucceeded || h.DaysSinceOK > 7:
			h.Status = "yellow"
		default:
			h.Status = "green"
		}

		health = append(health, h)
	}

	return health, nil
}
