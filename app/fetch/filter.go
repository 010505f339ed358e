package fetch

import (
	"strings"

	"github.com/capradar/capradar/app/database"
)

// Filterer drops listing candidates whose titles fail a source's
// include/exclude patterns before any item row is written.
type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns the candidates that pass the source's filters.
func (f *Filterer) Run(candidates []Candidate, conf database.QueryConfig) []Candidate {
	if len(conf.IncludeTitles) == 0 && len(conf.ExcludeTitles) == 0 {
		return candidates
	}

	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if f.keep(c, conf) {
			kept = append(kept, c)
		}
	}

	return kept
}

func (f *Filterer) keep(c Candidate, conf database.QueryConfig) bool {
	for _, exclude := range conf.ExcludeTitles {
		if matchesFilter(c.Title, exclude) {
			return false
		}
	}

	if len(conf.IncludeTitles) > 0 {
		for _, include := range conf.IncludeTitles {
			if matchesFilter(c.Title, include) {
				return true
			}
		}
		return false
	}

	return true
}

func matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}
