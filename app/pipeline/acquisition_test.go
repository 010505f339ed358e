package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/capradar/capradar/app/blob"
	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
)

func seedItem(t *testing.T, items *fakeItemRepo, url string) string {
	t.Helper()
	id, inserted, err := items.InsertItem(context.Background(), "s1", url, "title")
	if err != nil || !inserted {
		t.Fatalf("Failed to seed item: inserted=%v err=%v", inserted, err)
	}
	return id
}

func TestAcquisition_StoresBlobAndEnqueuesExtract(t *testing.T) {
	items := newFakeItemRepo()
	docs := newFakeDocumentRepo()
	blobs := blob.NewMemoryStore()
	jobRepo := &memJobRepo{}
	queue := jobs.NewQueue(jobRepo, 3)

	itemID := seedItem(t, items, "https://example.org/post-1")
	fetcher := &fakeContentFetcher{content: map[string]string{
		"https://example.org/post-1": "# Title\n\nCleaned body.",
	}}

	a := NewAcquisition(items, docs, fetcher, blobs, queue, 25)

	docID, err := a.AcquireItem(context.Background(), itemID, nil)
	if err != nil {
		t.Fatalf("AcquireItem failed: %v", err)
	}

	doc, err := docs.GetDocument(context.Background(), docID)
	if err != nil || doc == nil {
		t.Fatalf("Expected document stored, got doc=%v err=%v", doc, err)
	}
	if doc.Status != database.DocumentStatusPending {
		t.Errorf("Expected pending document, got %s", doc.Status)
	}
	if doc.CleanBlobKey != "documents/"+itemID+".md" {
		t.Errorf("Unexpected blob key %s", doc.CleanBlobKey)
	}

	stored, err := blobs.Get(context.Background(), doc.CleanBlobKey)
	if err != nil {
		t.Fatalf("Blob not stored: %v", err)
	}
	if string(stored) != "# Title\n\nCleaned body." {
		t.Errorf("Unexpected blob content: %q", stored)
	}

	extractJobs := jobRepo.byType(database.JobTypeExtract)
	if len(extractJobs) != 1 {
		t.Fatalf("Expected 1 extract job, got %d", len(extractJobs))
	}
}

func TestAcquisition_FailureRecordsFailedDocument(t *testing.T) {
	items := newFakeItemRepo()
	docs := newFakeDocumentRepo()
	queue := jobs.NewQueue(&memJobRepo{}, 3)

	itemID := seedItem(t, items, "https://example.org/gone")
	fetcher := &fakeContentFetcher{errs: map[string]error{
		"https://example.org/gone": errors.New("404 not found"),
	}}

	a := NewAcquisition(items, docs, fetcher, blob.NewMemoryStore(), queue, 25)

	_, err := a.AcquireItem(context.Background(), itemID, nil)
	if err == nil {
		t.Fatal("Expected error for failed fetch")
	}

	var permanent *jobs.PermanentError
	if errors.As(err, &permanent) {
		t.Error("Fetch failures must stay retryable, got a permanent error")
	}

	failed, err := docs.GetDocumentsByStatus(context.Background(), database.DocumentStatusFailed, 10)
	if err != nil {
		t.Fatalf("GetDocumentsByStatus failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("Expected 1 failed document, got %d", len(failed))
	}
	if failed[0].Error == "" {
		t.Error("Expected fetch error recorded on the document")
	}
}

func TestAcquisition_IdempotentPerItem(t *testing.T) {
	items := newFakeItemRepo()
	docs := newFakeDocumentRepo()
	jobRepo := &memJobRepo{}
	queue := jobs.NewQueue(jobRepo, 3)

	itemID := seedItem(t, items, "https://example.org/post-1")
	fetcher := &fakeContentFetcher{content: map[string]string{
		"https://example.org/post-1": "body",
	}}

	a := NewAcquisition(items, docs, fetcher, blob.NewMemoryStore(), queue, 25)

	first, err := a.AcquireItem(context.Background(), itemID, nil)
	if err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}
	if err := docs.MarkProcessed(context.Background(), first); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}
	second, err := a.AcquireItem(context.Background(), itemID, nil)
	if err != nil {
		t.Fatalf("Second acquire failed: %v", err)
	}

	if first != second {
		t.Errorf("Expected the existing document returned, got %s then %s", first, second)
	}
	if got := len(jobRepo.byType(database.JobTypeExtract)); got != 1 {
		t.Errorf("Expected a single extract job, got %d", got)
	}
}

func TestAcquisition_RedeliveryReenqueuesPendingExtraction(t *testing.T) {
	items := newFakeItemRepo()
	docs := newFakeDocumentRepo()
	jobRepo := &memJobRepo{}
	queue := jobs.NewQueue(jobRepo, 3)

	itemID := seedItem(t, items, "https://example.org/post-1")

	// A document with no extract job, as left behind by a crash between
	// the document insert and the enqueue.
	doc := database.Document{
		ID:           "doc-1",
		ItemID:       itemID,
		CleanBlobKey: "documents/" + itemID + ".md",
		Status:       database.DocumentStatusPending,
		AcquiredAt:   time.Now().UTC(),
	}
	if err := docs.InsertDocument(context.Background(), doc); err != nil {
		t.Fatalf("InsertDocument failed: %v", err)
	}

	a := NewAcquisition(items, docs, &fakeContentFetcher{}, blob.NewMemoryStore(), queue, 25)

	got, err := a.AcquireItem(context.Background(), itemID, nil)
	if err != nil {
		t.Fatalf("AcquireItem failed: %v", err)
	}
	if got != "doc-1" {
		t.Errorf("Expected the existing document returned, got %s", got)
	}

	extractJobs := jobRepo.byType(database.JobTypeExtract)
	if len(extractJobs) != 1 {
		t.Fatalf("Expected the pending document re-enqueued for extraction, got %d jobs", len(extractJobs))
	}

	var payload jobs.ExtractPayload
	if err := json.Unmarshal([]byte(extractJobs[0].Payload), &payload); err != nil {
		t.Fatalf("Failed to decode extract payload: %v", err)
	}
	if payload.DocumentID != "doc-1" {
		t.Errorf("Expected extract job for doc-1, got %s", payload.DocumentID)
	}
}

func TestAcquisition_UnknownItemIsPermanent(t *testing.T) {
	a := NewAcquisition(newFakeItemRepo(), newFakeDocumentRepo(), &fakeContentFetcher{},
		blob.NewMemoryStore(), jobs.NewQueue(&memJobRepo{}, 3), 25)

	_, err := a.AcquireItem(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("Expected error for unknown item")
	}

	var permanent *jobs.PermanentError
	if !errors.As(err, &permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestAcquisition_RunMixedBatch(t *testing.T) {
	items := newFakeItemRepo()
	docs := newFakeDocumentRepo()
	queue := jobs.NewQueue(&memJobRepo{}, 3)

	okID := seedItem(t, items, "https://example.org/a")
	seedItem(t, items, "https://example.org/b")

	fetcher := &fakeContentFetcher{
		content: map[string]string{"https://example.org/a": "body a"},
		errs:    map[string]error{"https://example.org/b": errors.New("connection reset")},
	}

	a := NewAcquisition(items, docs, fetcher, blob.NewMemoryStore(), queue, 25)

	stats, err := a.Run(context.Background(), AcquireRequest{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.DocumentsProcessed != 1 {
		t.Errorf("Expected 1 document processed, got %d", stats.DocumentsProcessed)
	}
	if stats.ItemsFailed != 1 {
		t.Errorf("Expected 1 item failed, got %d", stats.ItemsFailed)
	}

	doc, err := docs.GetActiveDocumentByItem(context.Background(), okID)
	if err != nil || doc == nil {
		t.Fatalf("Expected active document for successful item, got %v err=%v", doc, err)
	}
}
