package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/capradar/capradar/app/blob"
	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/extract"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/scoring"
)

// Extraction turns acquired documents into structured capability signals
// via the extraction model.
type Extraction struct {
	documents database.DocumentRepository
	signals   database.SignalRepository
	blobs     blob.Store
	extractor extract.Client
	batchSize int
}

func NewExtraction(documents database.DocumentRepository, signals database.SignalRepository,
	blobs blob.Store, extractor extract.Client, batchSize int) *Extraction {
	return &Extraction{
		documents: documents,
		signals:   signals,
		blobs:     blobs,
		extractor: extractor,
		batchSize: batchSize,
	}
}

// Run extracts a batch of pending documents sequentially. The model call
// dominates latency and upstream rate limits punish concurrency, so the
// batch runs one document at a time.
func (e *Extraction) Run(ctx context.Context, req ExtractRequest) (*ExtractStats, error) {
	docs, err := e.selectDocuments(ctx, req)
	if err != nil {
		return nil, err
	}

	stats := &ExtractStats{Detail: []DocumentDetail{}}
	started := time.Now()

	for _, doc := range docs {
		if doc.Status != database.DocumentStatusPending {
			continue
		}

		detail := DocumentDetail{DocumentID: doc.ID}

		if req.DryRun {
			stats.Detail = append(stats.Detail, detail)
			continue
		}

		created, err := e.ExtractDocument(ctx, doc.ID)
		if err != nil {
			stats.DocumentsFailed++
			detail.Error = err.Error()
			slog.Warn("Document extraction failed", "document", doc.ID, "error", err)
		} else {
			stats.DocumentsProcessed++
			stats.SignalsCreated += created
			detail.SignalsCreated = created
		}
		stats.Detail = append(stats.Detail, detail)
	}

	stats.Duration = time.Since(started)

	slog.Info("Extraction completed", "processed", stats.DocumentsProcessed,
		"failed", stats.DocumentsFailed, "signals", stats.SignalsCreated,
		"duration", stats.Duration)

	return stats, nil
}

// ExtractDocument runs the extraction model over one document and persists
// the resulting signals. Returns the number of signals created.
//
// Error routing: schema-invalid model output marks the document failed and
// is permanent (the same prompt would repeat the same bad output); transient
// model or storage errors leave the document pending for the job retry.
func (e *Extraction) ExtractDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := e.documents.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, jobs.Permanent(fmt.Errorf("document %s not found", documentID))
	}

	switch doc.Status {
	case database.DocumentStatusProcessed:
		// Re-delivered job after a crash between processing and settling.
		slog.Debug("Document already processed", "document", documentID)
		return 0, nil
	case database.DocumentStatusFailed:
		return 0, jobs.Permanent(fmt.Errorf("document %s already failed: %s", documentID, doc.Error))
	}

	content, err := e.blobs.Get(ctx, doc.CleanBlobKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			msg := fmt.Sprintf("clean content blob %s missing", doc.CleanBlobKey)
			if markErr := e.documents.MarkFailed(ctx, documentID, msg); markErr != nil {
				return 0, markErr
			}
			return 0, jobs.Permanent(errors.New(msg))
		}
		return 0, fmt.Errorf("failed to read document blob: %w", err)
	}

	result, err := e.extractor.Extract(ctx, string(content))
	if err != nil {
		var validation *extract.ValidationError
		if errors.As(err, &validation) {
			if markErr := e.documents.MarkFailed(ctx, documentID, validation.Error()); markErr != nil {
				return 0, markErr
			}
			return 0, jobs.Permanent(err)
		}
		if errors.Is(err, extract.ErrNotConfigured) {
			return 0, jobs.Permanent(err)
		}
		return 0, fmt.Errorf("extraction call failed: %w", err)
	}

	created := 0
	for _, claim := range result.Claims {
		sig := database.Signal{
			ID:             uuid.NewString(),
			DocumentID:     documentID,
			ClaimSummary:   claim.ClaimSummary,
			AxesImpacted:   claim.Axes,
			Metric:         claim.Metric,
			Confidence:     claim.Confidence,
			Citations:      claim.Citations,
			ScoringVersion: scoring.Version,
			CreatedAt:      time.Now().UTC(),
		}
		if err := e.signals.InsertSignal(ctx, sig); err != nil {
			return created, fmt.Errorf("failed to insert signal: %w", err)
		}
		created++
	}

	if err := e.documents.MarkProcessed(ctx, documentID); err != nil {
		return created, err
	}

	// A document yielding zero claims is still processed, not failed.
	slog.Debug("Document extracted", "document", documentID, "signals", created)

	return created, nil
}

func (e *Extraction) selectDocuments(ctx context.Context, req ExtractRequest) ([]database.Document, error) {
	if len(req.DocumentIDs) > 0 {
		return e.documents.GetDocuments(ctx, req.DocumentIDs)
	}
	return e.documents.GetDocumentsByStatus(ctx, database.DocumentStatusPending, e.batchSize)
}
