package cfg

type Cfg struct {
	// Storage configuration
	DBPath      string
	BlobDir     string
	RegistryDir string

	// Application configuration
	Port              string
	APIAccessKey      string
	WorkerCount       int
	SchedulerInterval int

	// AI extraction configuration
	AIEndpoint string
	AIAPIKey   string
	AIModel    string

	// Pipeline policy
	FetchTimeout       int // seconds, per outbound request
	AcquireBatch       int // items per acquisition pass
	ExtractBatch       int // documents per extraction pass
	MaxJobAttempts     int
	UnhealthyThreshold int // consecutive source errors before red health

	// Snapshot policy
	AutonomyMinSignals     int     // 7-day floor below which the level is capped
	AutonomyUncertaintyCap float64 // combined uncertainty above which the level is capped

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
