package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/capradar/capradar/app/database"
)

// Executor runs claimed jobs of one type. Stage adapters implement this.
type Executor interface {
	Type() database.JobType
	Execute(ctx context.Context, job database.Job) error
}

// SchedulerInterface is consumed by main and the API layer.
type SchedulerInterface interface {
	Start()
	Stop()
}

const (
	jobTimeout   = 5 * time.Minute
	claimBatch   = 10
	queueBacklog = 300

	// runningLease bounds how long a claimed job may sit in running before
	// it is presumed stranded by a dead worker and re-delivered. Must
	// exceed jobTimeout so live executions are never stolen.
	runningLease = 2 * jobTimeout

	settleTimeout = 10 * time.Second
)

// Scheduler drives the worker pool: a ticker claims due jobs per type and
// dispatches them to workers, and periodically seeds the recurring discover
// and aggregate jobs.
type Scheduler struct {
	queue     *Queue
	runRepo   database.RunRepository
	executors map[database.JobType]Executor
	interval  time.Duration

	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	jobQueue    chan database.Job

	lastAggregateDate string
}

var _ SchedulerInterface = (*Scheduler)(nil)

func NewScheduler(queue *Queue, runRepo database.RunRepository, executors []Executor,
	interval time.Duration, workerCount int) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	byType := make(map[database.JobType]Executor, len(executors))
	for _, e := range executors {
		byType[e.Type()] = e
	}

	return &Scheduler{
		queue:       queue,
		runRepo:     runRepo,
		executors:   byType,
		interval:    interval,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		jobQueue:    make(chan database.Job, queueBacklog),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.jobQueue)
}

func (s *Scheduler) tick() {
	s.recoverStaleJobs()
	s.seedRecurringJobs()

	for jobType := range s.executors {
		claimed, err := s.queue.Claim(s.ctx, jobType, claimBatch)
		if err != nil {
			slog.Error("Failed to claim jobs", "type", string(jobType), "error", err)
			continue
		}

		for _, job := range claimed {
			select {
			case s.jobQueue <- job:
			case <-s.ctx.Done():
				return
			default:
				// Workers are saturated; hand the job back unexecuted so
				// another tick (or process) can claim it. No attempt is
				// consumed.
				slog.Warn("Worker queue full, releasing job", "type", string(job.Type), "id", job.ID)
				if err := s.queue.Release(s.ctx, job.ID); err != nil {
					slog.Error("Failed to release job", "id", job.ID, "error", err)
				}
			}
		}
	}
}

// recoverStaleJobs re-delivers work stranded in running by a crashed or
// stopped process. Runs on the first tick after startup and every tick
// thereafter.
func (s *Scheduler) recoverStaleJobs() {
	recovered, err := s.queue.ReleaseStale(s.ctx, runningLease)
	if err != nil {
		slog.Error("Failed to release stale jobs", "error", err)
		return
	}
	if recovered > 0 {
		slog.Warn("Recovered jobs stranded in running", "count", recovered)
	}
}

// seedRecurringJobs keeps the pipeline self-driving: a discover job when
// none is in flight, and one aggregate job for the prior day after each
// date rollover. Both are idempotent downstream, so duplicates from a
// crashed process are harmless.
func (s *Scheduler) seedRecurringJobs() {
	hasDiscover, err := s.queue.HasActive(s.ctx, database.JobTypeDiscover)
	if err != nil {
		slog.Error("Failed to check discover backlog", "error", err)
	} else if !hasDiscover {
		if _, err := s.queue.Enqueue(s.ctx, database.JobTypeDiscover, DiscoverPayload{}, nil); err != nil {
			slog.Error("Failed to enqueue discover job", "error", err)
		}
	}

	today := time.Now().UTC().Format("2006-01-02")
	if s.lastAggregateDate != today {
		yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		if _, err := s.queue.Enqueue(s.ctx, database.JobTypeAggregate, AggregatePayload{Date: yesterday}, nil); err != nil {
			slog.Error("Failed to enqueue aggregate job", "date", yesterday, "error", err)
			return
		}
		s.lastAggregateDate = today
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case job, ok := <-s.jobQueue:
			if !ok {
				return
			}
			s.executeJob(id, job)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeJob(workerID int, job database.Job) {
	// Settling must outlive Stop(): a cancelled scheduler context would
	// fail the settle write and strand the job in running.
	settleCtx, settleCancel := context.WithTimeout(context.Background(), settleTimeout)
	defer settleCancel()

	executor, ok := s.executors[job.Type]
	if !ok {
		slog.Error("No executor registered for job type", "type", string(job.Type), "id", job.ID)
		if err := s.queue.Fail(settleCtx, job, Permanent(fmt.Errorf("no executor for type %s", job.Type))); err != nil {
			slog.Error("Failed to settle unroutable job", "id", job.ID, "error", err)
		}
		return
	}

	jobCtx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	started := time.Now()
	err := executor.Execute(jobCtx, job)

	if err != nil {
		slog.Error("Worker job execution failed", "worker_id", workerID,
			"type", string(job.Type), "id", job.ID, "attempts", job.Attempts, "error", err)
		if failErr := s.queue.Fail(settleCtx, job, err); failErr != nil {
			slog.Error("Failed to settle failed job", "id", job.ID, "error", failErr)
		}
	} else {
		slog.Info("Job completed", "worker_id", workerID, "type", string(job.Type),
			"id", job.ID, "duration", time.Since(started))
		if doneErr := s.queue.Complete(settleCtx, job.ID); doneErr != nil {
			slog.Error("Failed to settle completed job", "id", job.ID, "error", doneErr)
		}
	}

	s.settleRun(settleCtx, job)
}

// settleRun completes a pipeline run once its last job settles.
func (s *Scheduler) settleRun(ctx context.Context, job database.Job) {
	if job.RunID == nil || s.runRepo == nil {
		return
	}

	active, err := s.queue.repo.CountActiveForRun(ctx, *job.RunID)
	if err != nil {
		slog.Error("Failed to count active run jobs", "run_id", *job.RunID, "error", err)
		return
	}
	if active > 0 {
		return
	}

	if err := s.runRepo.CompleteRun(ctx, *job.RunID, database.RunStatusCompleted); err != nil {
		slog.Error("Failed to complete pipeline run", "run_id", *job.RunID, "error", err)
	}
}
