package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capradar/capradar/app/blob"
	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
)

const acquireWorkers = 4

// Acquisition fetches full content for discovered items, persists the
// cleaned body to blob storage and records a Document per item.
type Acquisition struct {
	items     database.ItemRepository
	documents database.DocumentRepository
	fetcher   ContentFetcher
	blobs     blob.Store
	queue     *jobs.Queue
	batchSize int
}

func NewAcquisition(items database.ItemRepository, documents database.DocumentRepository,
	fetcher ContentFetcher, blobs blob.Store, queue *jobs.Queue, batchSize int) *Acquisition {
	return &Acquisition{
		items:     items,
		documents: documents,
		fetcher:   fetcher,
		blobs:     blobs,
		queue:     queue,
		batchSize: batchSize,
	}
}

// Run acquires a batch of items concurrently. Network fetches are the
// slowest and most failure-prone step of the pipeline, so items are
// processed independently: one hung or failing fetch never blocks its
// siblings, and the batch bound keeps the stage inside its time budget.
func (a *Acquisition) Run(ctx context.Context, req AcquireRequest) (*AcquireStats, error) {
	items, err := a.selectItems(ctx, req)
	if err != nil {
		return nil, err
	}

	stats := &AcquireStats{DocumentIDs: []string{}}
	started := time.Now()

	if req.DryRun {
		stats.Duration = time.Since(started)
		return stats, nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, acquireWorkers)

	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item database.Item) {
			defer wg.Done()
			defer func() { <-sem }()

			docID, err := a.AcquireItem(ctx, item.ID, req.RunID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.ItemsFailed++
				slog.Warn("Item acquisition failed", "item", item.ID, "url", item.URL, "error", err)
				return
			}
			stats.DocumentsProcessed++
			stats.DocumentIDs = append(stats.DocumentIDs, docID)
		}(item)
	}

	wg.Wait()
	stats.Duration = time.Since(started)

	slog.Info("Acquisition completed", "processed", stats.DocumentsProcessed,
		"failed", stats.ItemsFailed, "duration", stats.Duration)

	return stats, nil
}

// AcquireItem fetches one item's content and records its Document, then
// enqueues extraction. Returns the document id. On fetch failure a failed
// Document row retains the error; retry policy belongs to the job queue,
// not this stage.
func (a *Acquisition) AcquireItem(ctx context.Context, itemID string, runID *string) (string, error) {
	item, err := a.items.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if item == nil {
		return "", jobs.Permanent(fmt.Errorf("item %s not found", itemID))
	}

	// Re-running a fetch job after a crash must not duplicate documents.
	existing, err := a.documents.GetActiveDocumentByItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		slog.Debug("Item already has a document", "item", itemID, "document", existing.ID)
		// A re-delivered fetch job may mean the original crashed between
		// inserting the document and enqueueing extraction. Re-enqueue for
		// a still-pending document; extraction of a processed one is a
		// no-op, so duplicates are harmless.
		if existing.Status == database.DocumentStatusPending {
			if _, err := a.queue.Enqueue(ctx, database.JobTypeExtract, jobs.ExtractPayload{DocumentID: existing.ID}, runID); err != nil {
				return "", fmt.Errorf("failed to enqueue extract job: %w", err)
			}
		}
		return existing.ID, nil
	}

	content, fetchErr := a.fetcher.FetchContent(ctx, item.URL)
	if fetchErr != nil {
		failed := database.Document{
			ID:         uuid.NewString(),
			ItemID:     itemID,
			Status:     database.DocumentStatusFailed,
			Error:      fetchErr.Error(),
			AcquiredAt: time.Now().UTC(),
		}
		if err := a.documents.InsertDocument(ctx, failed); err != nil {
			return "", fmt.Errorf("failed to record acquisition failure: %w", err)
		}
		return "", fmt.Errorf("failed to acquire content: %w", fetchErr)
	}

	doc := database.Document{
		ID:           uuid.NewString(),
		ItemID:       itemID,
		CleanBlobKey: blobKey(itemID),
		Status:       database.DocumentStatusPending,
		AcquiredAt:   time.Now().UTC(),
	}

	if err := a.blobs.Put(ctx, doc.CleanBlobKey, []byte(content)); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}

	if err := a.documents.InsertDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	if _, err := a.queue.Enqueue(ctx, database.JobTypeExtract, jobs.ExtractPayload{DocumentID: doc.ID}, runID); err != nil {
		return "", fmt.Errorf("failed to enqueue extract job: %w", err)
	}

	return doc.ID, nil
}

func (a *Acquisition) selectItems(ctx context.Context, req AcquireRequest) ([]database.Item, error) {
	if len(req.ItemIDs) > 0 {
		return a.items.GetItems(ctx, req.ItemIDs)
	}
	return a.items.GetItemsWithoutDocument(ctx, a.batchSize)
}

// blobKey derives the deterministic storage key a document's clean body
// lives under.
func blobKey(itemID string) string {
	return "documents/" + itemID + ".md"
}
