package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/pipeline"
)

func NewHandler(discovery DiscoveryInterface, acquisition AcquisitionInterface,
	extraction ExtractionInterface, aggregation AggregationInterface,
	queue *jobs.Queue, jobRepo database.JobRepository, runRepo database.RunRepository,
	sources database.SourceRepository, snapshots database.SnapshotRepository) *Handler {
	return &Handler{
		discovery:   discovery,
		acquisition: acquisition,
		extraction:  extraction,
		aggregation: aggregation,
		queue:       queue,
		jobRepo:     jobRepo,
		runRepo:     runRepo,
		sources:     sources,
		snapshots:   snapshots,
	}
}

func ok(c *gin.Context, stats any) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "stats": stats})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"ok": false, "error": err.Error()})
}

func (h *Handler) TriggerDiscover(c *gin.Context) {
	var body discoverBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	stats, err := h.discovery.Run(c.Request.Context(), pipeline.DiscoverRequest{
		SourceIDs: body.SourceIDs,
		Force:     body.Force,
		DryRun:    body.DryRun,
	})
	if err != nil {
		slog.Error("Discover trigger failed", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, stats)
}

func (h *Handler) TriggerAcquire(c *gin.Context) {
	var body acquireBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	stats, err := h.acquisition.Run(c.Request.Context(), pipeline.AcquireRequest{
		ItemIDs: body.ItemIDs,
		DryRun:  body.DryRun,
	})
	if err != nil {
		slog.Error("Acquire trigger failed", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, stats)
}

func (h *Handler) TriggerExtract(c *gin.Context) {
	var body extractBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	stats, err := h.extraction.Run(c.Request.Context(), pipeline.ExtractRequest{
		DocumentIDs: body.DocumentIDs,
		DryRun:      body.DryRun,
	})
	if err != nil {
		slog.Error("Extract trigger failed", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, stats)
}

func (h *Handler) TriggerAggregate(c *gin.Context) {
	var body aggregateBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	stats, err := h.aggregation.Run(c.Request.Context(), pipeline.AggregateRequest{
		Date:   body.Date,
		DryRun: body.DryRun,
	})
	if err != nil {
		slog.Error("Aggregate trigger failed", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, stats)
}

// TriggerRun starts a tracked end-to-end pipeline run: a PipelineRun row is
// created and a discover job stamped with its id is enqueued. Follow-up
// fetch and extract jobs inherit the run id, and the run completes when its
// last job settles.
func (h *Handler) TriggerRun(c *gin.Context) {
	ctx := c.Request.Context()

	runID, err := h.runRepo.CreateRun(ctx)
	if err != nil {
		slog.Error("Failed to create pipeline run", "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}

	jobID, err := h.queue.Enqueue(ctx, database.JobTypeDiscover, jobs.DiscoverPayload{}, &runID)
	if err != nil {
		slog.Error("Failed to enqueue run discover job", "run_id", runID, "error", err)
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "run_id": runID, "job_id": jobID})
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runRepo.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "run not found"})
		return
	}

	counts, err := h.jobRepo.CountByTypeAndStatus(c.Request.Context(), database.JobFilter{RunID: run.ID})
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "run": run, "jobs": counts})
}

// TriggerRemap enqueues a map job per document so stored signals get
// re-normalized onto the current scoring version.
func (h *Handler) TriggerRemap(c *gin.Context) {
	var body remapBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if len(body.DocumentIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "document_ids is required"})
		return
	}

	jobIDs := make([]string, 0, len(body.DocumentIDs))
	for _, docID := range body.DocumentIDs {
		jobID, err := h.queue.Enqueue(c.Request.Context(), database.JobTypeMap, jobs.MapPayload{DocumentID: docID}, nil)
		if err != nil {
			slog.Error("Failed to enqueue map job", "document", docID, "error", err)
			fail(c, http.StatusInternalServerError, err)
			return
		}
		jobIDs = append(jobIDs, jobID)
	}

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "job_ids": jobIDs})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if count, err := h.sources.GetSourceCount(c.Request.Context()); err == nil {
		health["sources"] = count
	}

	if latest, err := h.snapshots.GetLatestSnapshot(c.Request.Context()); err == nil && latest != nil {
		health["latest_snapshot"] = latest.Date
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	counts, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	byType := map[string]map[string]int{}
	for _, jc := range counts {
		m := byType[string(jc.Type)]
		if m == nil {
			m = map[string]int{}
			byType[string(jc.Type)] = m
		}
		m[string(jc.Status)] = jc.Count
	}

	c.JSON(http.StatusOK, gin.H{"jobs": byType})
}

func (h *Handler) ListJobs(c *gin.Context) {
	filter := database.JobFilter{
		Type:   database.JobType(c.Query("type")),
		Status: database.JobStatus(c.Query("status")),
		RunID:  c.Query("run_id"),
		Limit:  100,
	}

	list, err := h.jobRepo.ListJobs(c.Request.Context(), filter)
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]gin.H, 0, len(list))
	for _, job := range list {
		entry := gin.H{
			"id":         job.ID,
			"type":       job.Type,
			"status":     job.Status,
			"attempts":   job.Attempts,
			"created_at": job.CreatedAt.Format(time.RFC3339),
			"updated_at": job.UpdatedAt.Format(time.RFC3339),
		}
		if job.RunID != nil {
			entry["run_id"] = *job.RunID
		}
		if job.LastError != "" {
			entry["last_error"] = job.LastError
		}
		if job.NextAttemptAt != nil {
			entry["next_attempt_at"] = job.NextAttemptAt.Format(time.RFC3339)
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (h *Handler) GetSourceHealth(c *gin.Context) {
	health, err := h.discovery.Health(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": health})
}

func (h *Handler) GetSnapshot(c *gin.Context) {
	// The static /snapshots/latest route carries no :date param.
	date := c.Param("date")
	latest := date == "" || date == "latest"

	var snap *database.DailySnapshot
	var err error
	if latest {
		snap, err = h.snapshots.GetLatestSnapshot(c.Request.Context())
	} else {
		snap, err = h.snapshots.GetSnapshot(c.Request.Context(), date)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		if latest {
			// Nothing aggregated yet is a valid state, not a failure.
			c.JSON(http.StatusOK, gin.H{"status": "insufficient data"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "snapshot not found"})
		return
	}

	c.JSON(http.StatusOK, snapshotResponse(snap))
}

func snapshotResponse(snap *database.DailySnapshot) gin.H {
	return gin.H{
		"date":            snap.Date,
		"axis_scores":     snap.AxisScores,
		"canary_statuses": snap.CanaryStatuses,
		"coverage_score":  snap.CoverageScore,
		"composite_score": snap.CompositeScore,
		"composite_trend": snap.CompositeTrend,
		"autonomy":        snap.Autonomy,
		"gap_axes":        snap.GapAxes,
		"signal_count":    len(snap.SignalIDs),
		"created_at":      snap.CreatedAt.Format(time.RFC3339),
	}
}
