package registry

import (
	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/scoring"
)

// SourceFile is one source definition file. The source name is derived from
// the filename.
type SourceFile struct {
	URL            string               `yaml:"url"`
	Type           string               `yaml:"type"`
	Tier           string               `yaml:"tier"`
	TrustWeight    float64              `yaml:"trust_weight"`
	CadenceMinutes int                  `yaml:"cadence_minutes"`
	Active         *bool                `yaml:"active"`
	Query          database.QueryConfig `yaml:"query"`
	Filters        Filters              `yaml:"filters"`
}

// Filters narrow discovery candidates by title before items are inserted.
type Filters struct {
	IncludeTitles []string `yaml:"include_titles"`
	ExcludeTitles []string `yaml:"exclude_titles"`
}

// CanariesFile is the reserved canaries.yaml definition file.
type CanariesFile struct {
	Canaries []CanaryEntry `yaml:"canaries"`
}

type CanaryEntry struct {
	Name         string         `yaml:"name"`
	AxesWatched  []scoring.Axis `yaml:"axes_watched"`
	GreenFloor   *float64       `yaml:"green_floor"`
	YellowFloor  *float64       `yaml:"yellow_floor"`
	DisplayOrder int            `yaml:"display_order"`
	Active       *bool          `yaml:"active"`
}
