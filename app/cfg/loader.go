package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath      string `long:"db-path" env:"DB_PATH" default:"./data/capradar.db" description:"Path to the sqlite database file"`
	BlobDir     string `long:"blob-dir" env:"BLOB_DIR" default:"./data/blobs" description:"Directory for document blob storage"`
	RegistryDir string `long:"registry-dir" env:"REGISTRY_DIR" default:"./registry" description:"Directory containing source and canary definition files"`

	// Application configuration
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for trigger endpoints (optional)"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of background job workers"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Job scheduler interval in seconds"`

	// AI extraction configuration
	AIEndpoint string `long:"ai-endpoint" env:"AI_ENDPOINT" default:"https://api.openai.com/v1/chat/completions" description:"OpenAI-compatible chat completions endpoint"`
	AIAPIKey   string `long:"ai-api-key" env:"AI_API_KEY" description:"API key for the extraction model"`
	AIModel    string `long:"ai-model" env:"AI_MODEL" default:"gpt-4o-mini" description:"Model used for signal extraction"`

	// Pipeline policy
	FetchTimeout       int `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Per-request fetch timeout in seconds"`
	AcquireBatch       int `long:"acquire-batch" env:"ACQUIRE_BATCH" default:"25" description:"Maximum items acquired per pass"`
	ExtractBatch       int `long:"extract-batch" env:"EXTRACT_BATCH" default:"10" description:"Maximum documents extracted per pass"`
	MaxJobAttempts     int `long:"max-job-attempts" env:"MAX_JOB_ATTEMPTS" default:"3" description:"Retry budget before a job is dead-lettered"`
	UnhealthyThreshold int `long:"unhealthy-threshold" env:"UNHEALTHY_THRESHOLD" default:"5" description:"Consecutive source errors before health turns red"`

	// Snapshot policy
	AutonomyMinSignals     int     `long:"autonomy-min-signals" env:"AUTONOMY_MIN_SIGNALS" default:"5" description:"Minimum 7-day signal count before the autonomy level is shown at full confidence"`
	AutonomyUncertaintyCap float64 `long:"autonomy-uncertainty-cap" env:"AUTONOMY_UNCERTAINTY_CAP" default:"0.4" description:"Combined uncertainty above which the autonomy level is capped"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"capradar/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:                 raw.DBPath,
		BlobDir:                raw.BlobDir,
		RegistryDir:            raw.RegistryDir,
		Port:                   raw.Port,
		APIAccessKey:           raw.APIAccessKey,
		WorkerCount:            raw.WorkerCount,
		SchedulerInterval:      raw.SchedulerInterval,
		AIEndpoint:             raw.AIEndpoint,
		AIAPIKey:               raw.AIAPIKey,
		AIModel:                raw.AIModel,
		FetchTimeout:           raw.FetchTimeout,
		AcquireBatch:           raw.AcquireBatch,
		ExtractBatch:           raw.ExtractBatch,
		MaxJobAttempts:         raw.MaxJobAttempts,
		UnhealthyThreshold:     raw.UnhealthyThreshold,
		AutonomyMinSignals:     raw.AutonomyMinSignals,
		AutonomyUncertaintyCap: raw.AutonomyUncertaintyCap,
		UserAgent:              raw.UserAgent,
		Timezone:               raw.Timezone,
		Debug:                  raw.Debug,
		Version:                GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
