package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/scoring"
)

type recordingSourceRepo struct {
	upserts []database.Source
}

func (r *recordingSourceRepo) GetSource(context.Context, string) (*database.Source, error) {
	return nil, nil
}

func (r *recordingSourceRepo) GetActiveSources(context.Context) ([]database.Source, error) {
	return nil, nil
}

func (r *recordingSourceRepo) GetSourceCount(context.Context) (int, error) {
	return len(r.upserts), nil
}

func (r *recordingSourceRepo) UpsertSource(_ context.Context, src database.Source) (string, error) {
	r.upserts = append(r.upserts, src)
	return src.Name, nil
}

func (r *recordingSourceRepo) SetActive(context.Context, string, bool) error {
	return nil
}

func (r *recordingSourceRepo) RecordFetchSuccess(context.Context, string, time.Time) error {
	return nil
}

func (r *recordingSourceRepo) RecordFetchFailure(context.Context, string) (int, error) {
	return 0, nil
}

type recordingCanaryRepo struct {
	upserts []database.CanaryDefinition
}

func (r *recordingCanaryRepo) GetActiveDefinitions(context.Context) ([]database.CanaryDefinition, error) {
	return r.upserts, nil
}

func (r *recordingCanaryRepo) UpsertDefinition(_ context.Context, def database.CanaryDefinition) (string, error) {
	r.upserts = append(r.upserts, def)
	return def.Name, nil
}

var (
	_ database.SourceRepository = (*recordingSourceRepo)(nil)
	_ database.CanaryRepository = (*recordingCanaryRepo)(nil)
)

func writeRegistryFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestLoadSources_FeedSource(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, "lab-blog.yaml", `
url: https://example.org/feed.xml
type: feed
tier: lab
trust_weight: 1.5
cadence_minutes: 120
filters:
  include_titles:
    - benchmark
`)

	sources, err := NewLoader(dir).LoadSources()
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("Expected 1 source, got %d", len(sources))
	}

	src := sources[0]
	if src.Name != "lab-blog" {
		t.Errorf("Expected name derived from filename, got %s", src.Name)
	}
	if src.Type != database.SourceTypeFeed {
		t.Errorf("Expected feed type, got %s", src.Type)
	}
	if src.Tier != "lab" || src.TrustWeight != 1.5 || src.CadenceMinutes != 120 {
		t.Errorf("Unexpected source fields: %+v", src)
	}
	if !src.Active {
		t.Error("Expected source active by default")
	}
	if len(src.QueryConfig.IncludeTitles) != 1 || src.QueryConfig.IncludeTitles[0] != "benchmark" {
		t.Errorf("Expected filters merged into query config, got %+v", src.QueryConfig)
	}
}

func TestLoadSources_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, "plain.yaml", `
url: https://example.org/feed.xml
type: feed
`)

	sources, err := NewLoader(dir).LoadSources()
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}

	src := sources[0]
	if src.TrustWeight != 1.0 {
		t.Errorf("Expected default trust weight 1.0, got %f", src.TrustWeight)
	}
	if src.CadenceMinutes != 1440 {
		t.Errorf("Expected default cadence 1440, got %d", src.CadenceMinutes)
	}
	if src.Tier != "community" {
		t.Errorf("Expected default tier community, got %s", src.Tier)
	}
}

func TestLoadSources_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown type", "url: https://x\ntype: carrier-pigeon\n"},
		{"feed without url", "type: feed\n"},
		{"scrape without link selector", "url: https://x\ntype: scrape\n"},
		{"list without urls", "type: list\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRegistryFile(t, dir, "bad.yaml", tt.content)

			if _, err := NewLoader(dir).LoadSources(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadSources_ScrapeSource(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, "papers.yaml", `
url: https://example.org/papers
type: scrape
query:
  item_selector: "div.paper"
  link_selector: "a.title"
  title_selector: "a.title"
`)

	sources, err := NewLoader(dir).LoadSources()
	if err != nil {
		t.Fatalf("LoadSources failed: %v", err)
	}
	if sources[0].QueryConfig.LinkSelector != "a.title" {
		t.Errorf("Expected link selector preserved, got %+v", sources[0].QueryConfig)
	}
}

func TestLoadCanaries(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, "canaries.yaml", `
canaries:
  - name: agentic-takeoff
    axes_watched: [planning, tool_use]
    green_floor: 0.7
    yellow_floor: 0.4
  - name: safety-regression
    axes_watched: [alignment_safety]
`)

	defs, err := NewLoader(dir).LoadCanaries()
	if err != nil {
		t.Fatalf("LoadCanaries failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("Expected 2 canaries, got %d", len(defs))
	}

	first := defs[0]
	if first.Name != "agentic-takeoff" {
		t.Errorf("Unexpected name %s", first.Name)
	}
	if len(first.AxesWatched) != 2 || first.AxesWatched[0] != scoring.AxisPlanning {
		t.Errorf("Unexpected axes: %v", first.AxesWatched)
	}
	if first.GreenFloor != 0.7 || first.YellowFloor != 0.4 {
		t.Errorf("Unexpected floors: %+v", first)
	}
}

func TestLoadCanaries_MissingFileIsEmpty(t *testing.T) {
	defs, err := NewLoader(t.TempDir()).LoadCanaries()
	if err != nil {
		t.Fatalf("LoadCanaries failed: %v", err)
	}
	if len(defs) != 0 {
		t.Errorf("Expected no canaries, got %d", len(defs))
	}
}

func TestSync_RegistersEverything(t *testing.T) {
	dir := t.TempDir()
	writeRegistryFile(t, dir, "lab-blog.yaml", "url: https://example.org/feed.xml\ntype: feed\n")
	writeRegistryFile(t, dir, "canaries.yaml", "canaries:\n  - name: c\n    axes_watched: [coding]\n")

	sourceRepo := &recordingSourceRepo{}
	canaryRepo := &recordingCanaryRepo{}

	sourceCount, canaryCount, err := NewLoader(dir).Sync(context.Background(), sourceRepo, canaryRepo)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if sourceCount != 1 || canaryCount != 1 {
		t.Errorf("Expected 1 source and 1 canary synced, got %d and %d", sourceCount, canaryCount)
	}
	if len(sourceRepo.upserts) != 1 || len(canaryRepo.upserts) != 1 {
		t.Errorf("Expected repos called once each, got %d and %d",
			len(sourceRepo.upserts), len(canaryRepo.upserts))
	}
}
