package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/scoring"
)

const canariesFileName = "canaries.yaml"

// Loader reads source and canary definitions from a directory: one YAML
// file per source plus a reserved canaries.yaml.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadSources loads and validates every source definition. The source name
// is the filename without extension.
func (l *Loader) LoadSources() ([]database.Source, error) {
	files, err := yamlFiles(l.dir)
	if err != nil {
		return nil, err
	}

	var sources []database.Source
	for _, file := range files {
		if filepath.Base(file) == canariesFileName {
			continue
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		var sf SourceFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}

		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		src, err := sf.toSource(name)
		if err != nil {
			return nil, fmt.Errorf("invalid source %s: %w", file, err)
		}

		sources = append(sources, src)
	}

	return sources, nil
}

// LoadCanaries loads the canary definitions, if the file exists.
func (l *Loader) LoadCanaries() ([]database.CanaryDefinition, error) {
	path := filepath.Join(l.dir, canariesFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cf CanariesFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	defs := make([]database.CanaryDefinition, 0, len(cf.Canaries))
	for i, entry := range cf.Canaries {
		def, err := entry.toDefinition(i)
		if err != nil {
			return nil, fmt.Errorf("invalid canary %q: %w", entry.Name, err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// Sync upserts all registry definitions into the database. Sources removed
// from the registry stay in the database; disabling is explicit via the
// active flag, never a hard delete.
func (l *Loader) Sync(ctx context.Context, sourceRepo database.SourceRepository, canaryRepo database.CanaryRepository) (int, int, error) {
	sources, err := l.LoadSources()
	if err != nil {
		return 0, 0, err
	}

	for _, src := range sources {
		if _, err := sourceRepo.UpsertSource(ctx, src); err != nil {
			return 0, 0, fmt.Errorf("failed to register source %q: %w", src.Name, err)
		}
		slog.Debug("Registered source", "source", src.Name, "type", src.Type, "url", src.URL)
	}

	canaries, err := l.LoadCanaries()
	if err != nil {
		return 0, 0, err
	}

	for _, def := range canaries {
		if _, err := canaryRepo.UpsertDefinition(ctx, def); err != nil {
			return 0, 0, fmt.Errorf("failed to register canary %q: %w", def.Name, err)
		}
	}

	return len(sources), len(canaries), nil
}

func (sf SourceFile) toSource(name string) (database.Source, error) {
	srcType := database.SourceType(sf.Type)
	switch srcType {
	case database.SourceTypeFeed, database.SourceTypeScrape:
		if sf.URL == "" {
			return database.Source{}, fmt.Errorf("url is required for type %q", sf.Type)
		}
	case database.SourceTypeList:
		if len(sf.Query.URLs) == 0 {
			return database.Source{}, fmt.Errorf("query.urls is required for type list")
		}
	default:
		return database.Source{}, fmt.Errorf("unknown source type %q", sf.Type)
	}

	if srcType == database.SourceTypeScrape && sf.Query.LinkSelector == "" {
		return database.Source{}, fmt.Errorf("query.link_selector is required for type scrape")
	}

	trustWeight := sf.TrustWeight
	if trustWeight == 0 {
		trustWeight = 1.0
	}
	if trustWeight < 0 {
		return database.Source{}, fmt.Errorf("trust_weight must be > 0")
	}

	cadence := sf.CadenceMinutes
	if cadence == 0 {
		cadence = 1440
	}

	tier := sf.Tier
	if tier == "" {
		tier = "community"
	}

	active := true
	if sf.Active != nil {
		active = *sf.Active
	}

	query := sf.Query
	query.IncludeTitles = sf.Filters.IncludeTitles
	query.ExcludeTitles = sf.Filters.ExcludeTitles

	return database.Source{
		Name:           name,
		URL:            sf.URL,
		Type:           srcType,
		Tier:           tier,
		TrustWeight:    trustWeight,
		CadenceMinutes: cadence,
		QueryConfig:    query,
		Active:         active,
	}, nil
}

func (e CanaryEntry) toDefinition(order int) (database.CanaryDefinition, error) {
	if e.Name == "" {
		return database.CanaryDefinition{}, fmt.Errorf("name is required")
	}
	if len(e.AxesWatched) == 0 {
		return database.CanaryDefinition{}, fmt.Errorf("axes_watched must not be empty")
	}
	for _, axis := range e.AxesWatched {
		if !scoring.IsTracked(axis) {
			return database.CanaryDefinition{}, fmt.Errorf("unknown axis %q", axis)
		}
	}

	greenFloor := 0.6
	if e.GreenFloor != nil {
		greenFloor = *e.GreenFloor
	}
	yellowFloor := 0.3
	if e.YellowFloor != nil {
		yellowFloor = *e.YellowFloor
	}
	if yellowFloor >= greenFloor {
		return database.CanaryDefinition{}, fmt.Errorf("yellow_floor must be below green_floor")
	}

	displayOrder := e.DisplayOrder
	if displayOrder == 0 {
		displayOrder = order
	}

	active := true
	if e.Active != nil {
		active = *e.Active
	}

	return database.CanaryDefinition{
		Name:         e.Name,
		AxesWatched:  e.AxesWatched,
		GreenFloor:   greenFloor,
		YellowFloor:  yellowFloor,
		DisplayOrder: displayOrder,
		Active:       active,
	}, nil
}

func yamlFiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}

	return append(files, ymlFiles...), nil
}
