package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/extract"
	"github.com/capradar/capradar/app/fetch"
)

// In-memory fakes for the repository interfaces and outbound collaborators.

type fakeSourceRepo struct {
	sources   map[string]database.Source
	successes []string
	failures  []string
}

func newFakeSourceRepo(sources ...database.Source) *fakeSourceRepo {
	repo := &fakeSourceRepo{sources: map[string]database.Source{}}
	for _, src := range sources {
		repo.sources[src.ID] = src
	}
	return repo
}

func (f *fakeSourceRepo) GetSource(_ context.Context, id string) (*database.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return nil, nil
	}
	return &src, nil
}

func (f *fakeSourceRepo) GetActiveSources(_ context.Context) ([]database.Source, error) {
	var out []database.Source
	for _, src := range f.sources {
		if src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

func (f *fakeSourceRepo) GetSourceCount(_ context.Context) (int, error) {
	return len(f.sources), nil
}

func (f *fakeSourceRepo) UpsertSource(_ context.Context, src database.Source) (string, error) {
	f.sources[src.ID] = src
	return src.ID, nil
}

func (f *fakeSourceRepo) SetActive(_ context.Context, id string, active bool) error {
	src := f.sources[id]
	src.Active = active
	f.sources[id] = src
	return nil
}

func (f *fakeSourceRepo) RecordFetchSuccess(_ context.Context, id string, at time.Time) error {
	src := f.sources[id]
	src.ErrorCount = 0
	src.LastSuccessAt = &at
	f.sources[id] = src
	f.successes = append(f.successes, id)
	return nil
}

func (f *fakeSourceRepo) RecordFetchFailure(_ context.Context, id string) (int, error) {
	src := f.sources[id]
	src.ErrorCount++
	f.sources[id] = src
	f.failures = append(f.failures, id)
	return src.ErrorCount, nil
}

type fakeItemRepo struct {
	mu    sync.Mutex
	items map[string]database.Item // keyed by id
	byURL map[string]string        // sourceID+url -> id
	seq   int

	withDocument map[string]bool
}

func newFakeItemRepo() *fakeItemRepo {
	return &fakeItemRepo{
		items:        map[string]database.Item{},
		byURL:        map[string]string{},
		withDocument: map[string]bool{},
	}
}

func (f *fakeItemRepo) GetItem(_ context.Context, id string) (*database.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (f *fakeItemRepo) GetItems(_ context.Context, ids []string) ([]database.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Item
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeItemRepo) GetItemsWithoutDocument(_ context.Context, limit int) ([]database.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Item
	for _, item := range f.items {
		if len(out) >= limit {
			break
		}
		if !f.withDocument[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeItemRepo) InsertItem(_ context.Context, sourceID, url, title string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := sourceID + "|" + url
	if id, exists := f.byURL[key]; exists {
		return id, false, nil
	}

	f.seq++
	id := fmt.Sprintf("item-%d", f.seq)
	f.items[id] = database.Item{ID: id, SourceID: sourceID, URL: url, Title: title, DiscoveredAt: time.Now()}
	f.byURL[key] = id
	return id, true, nil
}

type fakeDocumentRepo struct {
	mu   sync.Mutex
	docs map[string]database.Document
}

func newFakeDocumentRepo() *fakeDocumentRepo {
	return &fakeDocumentRepo{docs: map[string]database.Document{}}
}

func (f *fakeDocumentRepo) GetDocument(_ context.Context, id string) (*database.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (f *fakeDocumentRepo) GetDocuments(_ context.Context, ids []string) ([]database.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Document
	for _, id := range ids {
		if doc, ok := f.docs[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) GetDocumentsByStatus(_ context.Context, status database.DocumentStatus, limit int) ([]database.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Document
	for _, doc := range f.docs {
		if len(out) >= limit {
			break
		}
		if doc.Status == status {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeDocumentRepo) GetActiveDocumentByItem(_ context.Context, itemID string) (*database.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.docs {
		if doc.ItemID == itemID && doc.Status != database.DocumentStatusFailed {
			return &doc, nil
		}
	}
	return nil, nil
}

func (f *fakeDocumentRepo) InsertDocument(_ context.Context, doc database.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocumentRepo) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.Status = database.DocumentStatusProcessed
	f.docs[id] = doc
	return nil
}

func (f *fakeDocumentRepo) MarkFailed(_ context.Context, id string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc := f.docs[id]
	doc.Status = database.DocumentStatusFailed
	doc.Error = errMsg
	f.docs[id] = doc
	return nil
}

type fakeSignalRepo struct {
	mu      sync.Mutex
	signals []database.Signal
}

func newFakeSignalRepo(signals ...database.Signal) *fakeSignalRepo {
	return &fakeSignalRepo{signals: signals}
}

func (f *fakeSignalRepo) GetSignalsByDocument(_ context.Context, documentID string) ([]database.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Signal
	for _, sig := range f.signals {
		if sig.DocumentID == documentID {
			out = append(out, sig)
		}
	}
	return out, nil
}

func (f *fakeSignalRepo) GetSignalsForDateRange(_ context.Context, _, _ time.Time) ([]database.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]database.Signal{}, f.signals...), nil
}

func (f *fakeSignalRepo) InsertSignal(_ context.Context, sig database.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

func (f *fakeSignalRepo) UpdateSignalAxes(_ context.Context, id string, _ []byte, scoringVersion int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, sig := range f.signals {
		if sig.ID == id {
			f.signals[i].ScoringVersion = scoringVersion
			return nil
		}
	}
	return fmt.Errorf("signal %s not found", id)
}

type fakeSnapshotRepo struct {
	snapshots map[string]database.DailySnapshot
}

func newFakeSnapshotRepo() *fakeSnapshotRepo {
	return &fakeSnapshotRepo{snapshots: map[string]database.DailySnapshot{}}
}

func (f *fakeSnapshotRepo) GetSnapshot(_ context.Context, date string) (*database.DailySnapshot, error) {
	snap, ok := f.snapshots[date]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (f *fakeSnapshotRepo) GetLatestSnapshot(_ context.Context) (*database.DailySnapshot, error) {
	var latest *database.DailySnapshot
	for date := range f.snapshots {
		snap := f.snapshots[date]
		if latest == nil || snap.Date > latest.Date {
			latest = &snap
		}
	}
	return latest, nil
}

func (f *fakeSnapshotRepo) UpsertSnapshot(_ context.Context, snap database.DailySnapshot) error {
	f.snapshots[snap.Date] = snap
	return nil
}

type fakeCanaryRepo struct {
	defs []database.CanaryDefinition
}

func (f *fakeCanaryRepo) GetActiveDefinitions(_ context.Context) ([]database.CanaryDefinition, error) {
	return f.defs, nil
}

func (f *fakeCanaryRepo) UpsertDefinition(_ context.Context, def database.CanaryDefinition) (string, error) {
	f.defs = append(f.defs, def)
	return def.ID, nil
}

// memJobRepo backs a real jobs.Queue so the stages' enqueues are observable.
type memJobRepo struct {
	mu   sync.Mutex
	jobs []database.Job
}

func (m *memJobRepo) byType(jobType database.JobType) []database.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Job
	for _, job := range m.jobs {
		if job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}

func (m *memJobRepo) GetJob(_ context.Context, id string) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			return &job, nil
		}
	}
	return nil, nil
}

func (m *memJobRepo) ListJobs(_ context.Context, _ database.JobFilter) ([]database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.Job{}, m.jobs...), nil
}

func (m *memJobRepo) CountByTypeAndStatus(_ context.Context, filter database.JobFilter) ([]database.JobCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[database.JobType]map[database.JobStatus]int{}
	for _, job := range m.jobs {
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if counts[job.Type] == nil {
			counts[job.Type] = map[database.JobStatus]int{}
		}
		counts[job.Type][job.Status]++
	}
	var out []database.JobCount
	for jobType, byStatus := range counts {
		for status, count := range byStatus {
			out = append(out, database.JobCount{Type: jobType, Status: status, Count: count})
		}
	}
	return out, nil
}

func (m *memJobRepo) Insert(_ context.Context, job database.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *memJobRepo) Claim(_ context.Context, jobType database.JobType, limit int, now time.Time) ([]database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []database.Job
	for i, job := range m.jobs {
		if len(claimed) >= limit {
			break
		}
		if job.Type != jobType || job.Status != database.JobStatusPending {
			continue
		}
		m.jobs[i].Status = database.JobStatusRunning
		m.jobs[i].UpdatedAt = now
		claimed = append(claimed, m.jobs[i])
	}
	return claimed, nil
}

func (m *memJobRepo) Release(_ context.Context, id string) error {
	return m.setStatus(id, database.JobStatusPending)
}

func (m *memJobRepo) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	released := 0
	for i, job := range m.jobs {
		if job.Status == database.JobStatusRunning && job.UpdatedAt.Before(cutoff) {
			m.jobs[i].Status = database.JobStatusPending
			released++
		}
	}
	return released, nil
}

func (m *memJobRepo) setStatus(id string, status database.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, job := range m.jobs {
		if job.ID == id {
			m.jobs[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("job %s not found", id)
}

func (m *memJobRepo) MarkDone(_ context.Context, id string) error {
	return m.setStatus(id, database.JobStatusDone)
}

func (m *memJobRepo) MarkRetry(_ context.Context, id string, _ string, _ time.Time) error {
	return m.setStatus(id, database.JobStatusRetry)
}

func (m *memJobRepo) MarkFailed(_ context.Context, id string, _ string) error {
	return m.setStatus(id, database.JobStatusFailed)
}

func (m *memJobRepo) MarkDead(_ context.Context, id string, _ string) error {
	return m.setStatus(id, database.JobStatusDead)
}

func (m *memJobRepo) CountActiveForRun(_ context.Context, runID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, job := range m.jobs {
		if job.RunID == nil || *job.RunID != runID {
			continue
		}
		switch job.Status {
		case database.JobStatusPending, database.JobStatusRunning, database.JobStatusRetry:
			count++
		}
	}
	return count, nil
}

// fakeLister returns a fixed candidate list, or an error, per source name.
type fakeLister struct {
	candidates map[string][]fetch.Candidate
	errs       map[string]error
}

func (f *fakeLister) FetchListing(_ context.Context, src database.Source) ([]fetch.Candidate, error) {
	if err := f.errs[src.Name]; err != nil {
		return nil, err
	}
	return f.candidates[src.Name], nil
}

// fakeContentFetcher maps url -> content, or url -> error.
type fakeContentFetcher struct {
	content map[string]string
	errs    map[string]error
}

func (f *fakeContentFetcher) FetchContent(_ context.Context, url string) (string, error) {
	if err := f.errs[url]; err != nil {
		return "", err
	}
	content, ok := f.content[url]
	if !ok {
		return "", fmt.Errorf("no content for %s", url)
	}
	return content, nil
}

// fakeExtractor returns a canned result or error regardless of input.
type fakeExtractor struct {
	result *extract.Result
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (*extract.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var (
	_ database.SourceRepository   = (*fakeSourceRepo)(nil)
	_ database.ItemRepository     = (*fakeItemRepo)(nil)
	_ database.DocumentRepository = (*fakeDocumentRepo)(nil)
	_ database.SignalRepository   = (*fakeSignalRepo)(nil)
	_ database.SnapshotRepository = (*fakeSnapshotRepo)(nil)
	_ database.CanaryRepository   = (*fakeCanaryRepo)(nil)
	_ database.JobRepository      = (*memJobRepo)(nil)
	_ ListingFetcher              = (*fakeLister)(nil)
	_ ContentFetcher              = (*fakeContentFetcher)(nil)
	_ extract.Client              = (*fakeExtractor)(nil)
)
