package fetch

import (
	"testing"

	"github.com/capradar/capradar/app/database"
)

func TestFilterer_NoFilters(t *testing.T) {
	filterer := NewFilterer()

	candidates := []Candidate{
		{URL: "https://example.org/a", Title: "Model release"},
		{URL: "https://example.org/b", Title: "Weekly roundup"},
	}

	kept := filterer.Run(candidates, database.QueryConfig{})
	if len(kept) != 2 {
		t.Errorf("Expected all candidates kept without filters, got %d", len(kept))
	}
}

func TestFilterer_IncludeTitles(t *testing.T) {
	filterer := NewFilterer()

	candidates := []Candidate{
		{URL: "https://example.org/a", Title: "New Benchmark Results"},
		{URL: "https://example.org/b", Title: "Company hires VP of sales"},
		{URL: "https://example.org/c", Title: "Agent evaluation report"},
	}

	conf := database.QueryConfig{IncludeTitles: []string{"benchmark", "evaluation"}}
	kept := filterer.Run(candidates, conf)

	if len(kept) != 2 {
		t.Fatalf("Expected 2 candidates kept, got %d", len(kept))
	}
	for _, c := range kept {
		if c.URL == "https://example.org/b" {
			t.Error("Expected non-matching candidate dropped")
		}
	}
}

func TestFilterer_ExcludeTitles(t *testing.T) {
	filterer := NewFilterer()

	candidates := []Candidate{
		{URL: "https://example.org/a", Title: "Capability evaluation"},
		{URL: "https://example.org/b", Title: "SPONSORED: best GPUs of 2026"},
	}

	conf := database.QueryConfig{ExcludeTitles: []string{"sponsored"}}
	kept := filterer.Run(candidates, conf)

	if len(kept) != 1 || kept[0].URL != "https://example.org/a" {
		t.Errorf("Expected sponsored candidate dropped, got %v", kept)
	}
}

func TestFilterer_ExcludeWinsOverInclude(t *testing.T) {
	filterer := NewFilterer()

	candidates := []Candidate{
		{URL: "https://example.org/a", Title: "Benchmark results (sponsored)"},
	}

	conf := database.QueryConfig{
		IncludeTitles: []string{"benchmark"},
		ExcludeTitles: []string{"sponsored"},
	}

	kept := filterer.Run(candidates, conf)
	if len(kept) != 0 {
		t.Errorf("Expected exclude to override include, got %v", kept)
	}
}

func TestMatchesFilter_CaseInsensitive(t *testing.T) {
	if !matchesFilter("GPT-5 Benchmark Results", "benchmark") {
		t.Error("Expected case-insensitive match")
	}
	if matchesFilter("unrelated", "benchmark") {
		t.Error("Expected no match")
	}
}
