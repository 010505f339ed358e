package database

import (
	"time"

	"github.com/capradar/capradar/app/scoring"
)

type SourceType string

const (
	SourceTypeFeed   SourceType = "feed"   // RSS/Atom listing
	SourceTypeScrape SourceType = "scrape" // HTML listing with CSS selectors
	SourceTypeList   SourceType = "list"   // curated URL list from the registry
)

// QueryConfig carries the per-type listing parameters for a source.
// Serialized as JSON in the sources table.
type QueryConfig struct {
	ItemSelector  string   `json:"item_selector,omitempty" yaml:"item_selector"`
	LinkSelector  string   `json:"link_selector,omitempty" yaml:"link_selector"`
	TitleSelector string   `json:"title_selector,omitempty" yaml:"title_selector"`
	URLs          []string `json:"urls,omitempty" yaml:"urls"`

	// Title filters applied to listing candidates before insert.
	IncludeTitles []string `json:"include_titles,omitempty" yaml:"-"`
	ExcludeTitles []string `json:"exclude_titles,omitempty" yaml:"-"`
}

type Source struct {
	ID             string
	Name           string
	URL            string
	Type           SourceType
	Tier           string
	TrustWeight    float64
	CadenceMinutes int
	QueryConfig    QueryConfig
	Active         bool
	ErrorCount     int
	LastSuccessAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Due reports whether the source's cadence has elapsed since its last
// successful fetch. A source that never succeeded is always due.
func (s Source) Due(now time.Time) bool {
	if s.LastSuccessAt == nil {
		return true
	}
	return now.Sub(*s.LastSuccessAt) >= time.Duration(s.CadenceMinutes)*time.Minute
}

type Item struct {
	ID           string
	SourceID     string
	URL          string
	Title        string
	DiscoveredAt time.Time
}

type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusProcessed DocumentStatus = "processed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

type Document struct {
	ID           string
	ItemID       string
	CleanBlobKey string
	Status       DocumentStatus
	Error        string
	AcquiredAt   time.Time
}

type Signal struct {
	ID             string
	DocumentID     string
	ClaimSummary   string
	AxesImpacted   []scoring.AxisImpact
	Metric         *scoring.Metric
	Confidence     float64
	Citations      []scoring.Citation
	ScoringVersion int
	CreatedAt      time.Time
}

type JobType string

const (
	JobTypeDiscover  JobType = "discover"
	JobTypeFetch     JobType = "fetch"
	JobTypeExtract   JobType = "extract"
	JobTypeMap       JobType = "map"
	JobTypeAggregate JobType = "aggregate"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusRetry   JobStatus = "retry"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
	JobStatusDead    JobStatus = "dead"
)

type Job struct {
	ID            string
	RunID         *string
	Type          JobType
	Status        JobStatus
	Payload       string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type PipelineRun struct {
	ID          string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

type DailySnapshot struct {
	ID             string
	Date           string // YYYY-MM-DD
	AxisScores     map[scoring.Axis]scoring.AxisScore
	CanaryStatuses []scoring.CanaryStatus
	CoverageScore  float64
	CompositeScore float64
	CompositeTrend scoring.Trend
	Autonomy       scoring.Autonomy
	GapAxes        []scoring.Axis
	SignalIDs      []string
	CreatedAt      time.Time
}

type CanaryDefinition struct {
	ID           string
	Name         string
	AxesWatched  []scoring.Axis
	GreenFloor   float64
	YellowFloor  float64
	DisplayOrder int
	Active       bool
}
