package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/capradar/capradar/app/api"
	"github.com/capradar/capradar/app/blob"
	"github.com/capradar/capradar/app/cfg"
	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/extract"
	"github.com/capradar/capradar/app/fetch"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/pipeline"
	"github.com/capradar/capradar/app/registry"
	"github.com/capradar/capradar/app/snapshot"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting capradar", "version", appCfg.Version)

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	sourceRepo := database.NewSourceRepository(db)
	itemRepo := database.NewItemRepository(db)
	documentRepo := database.NewDocumentRepository(db)
	signalRepo := database.NewSignalRepository(db)
	jobRepo := database.NewJobRepository(db)
	runRepo := database.NewRunRepository(db)
	snapshotRepo := database.NewSnapshotRepository(db)
	canaryRepo := database.NewCanaryRepository(db)

	blobs, err := blob.NewFSStore(appCfg.BlobDir)
	if err != nil {
		slog.Error("Failed to initialize blob storage", "dir", appCfg.BlobDir, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	loader := registry.NewLoader(appCfg.RegistryDir)
	sourceCount, canaryCount, err := loader.Sync(ctx, sourceRepo, canaryRepo)
	if err != nil {
		slog.Error("Failed to sync registry", "dir", appCfg.RegistryDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Registry synced", "sources", sourceCount, "canaries", canaryCount)

	httpClient := fetch.NewClient(appCfg.UserAgent, time.Duration(appCfg.FetchTimeout)*time.Second)
	listers := fetch.NewListers(httpClient)
	contentFetcher := fetch.NewContentFetcher(httpClient)

	var extractor extract.Client = extract.NewOpenAIClient(appCfg.AIEndpoint, appCfg.AIModel, appCfg.AIAPIKey)

	queue := jobs.NewQueue(jobRepo, appCfg.MaxJobAttempts)

	discovery := pipeline.NewDiscovery(sourceRepo, itemRepo, listers, queue, appCfg.UnhealthyThreshold)
	acquisition := pipeline.NewAcquisition(itemRepo, documentRepo, contentFetcher, blobs, queue, appCfg.AcquireBatch)
	extraction := pipeline.NewExtraction(documentRepo, signalRepo, blobs, extractor, appCfg.ExtractBatch)
	mapping := pipeline.NewMapping(documentRepo, signalRepo)

	policy := snapshot.DefaultPolicy()
	policy.AutonomyMinSignals = appCfg.AutonomyMinSignals
	policy.AutonomyUncertaintyCap = appCfg.AutonomyUncertaintyCap
	aggregation := pipeline.NewAggregation(signalRepo, snapshotRepo, canaryRepo, policy)

	executors := []jobs.Executor{
		pipeline.NewDiscoverExecutor(discovery),
		pipeline.NewFetchExecutor(acquisition),
		pipeline.NewExtractExecutor(extraction),
		pipeline.NewMapExecutor(mapping),
		pipeline.NewAggregateExecutor(aggregation),
	}

	scheduler := jobs.NewScheduler(queue, runRepo, executors,
		time.Duration(appCfg.SchedulerInterval)*time.Second, appCfg.WorkerCount)
	scheduler.Start()
	defer scheduler.Stop()
	slog.Info("Scheduler started", "workers", appCfg.WorkerCount, "interval_seconds", appCfg.SchedulerInterval)

	handler := api.NewHandler(discovery, acquisition, extraction, aggregation,
		queue, jobRepo, runRepo, sourceRepo, snapshotRepo)
	engine := api.NewServer(handler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("HTTP server error", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Scheduler is stopped via defer
	slog.Info("Shutdown complete")
}
