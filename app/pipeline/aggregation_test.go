package pipeline

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/scoring"
	"github.com/capradar/capradar/app/snapshot"
)

func daySignals() []database.Signal {
	return []database.Signal{
		{
			ID: "sig-1", DocumentID: "d1", ClaimSummary: "benchmark jump",
			AxesImpacted: []scoring.AxisImpact{
				{Axis: scoring.AxisCoding, Direction: scoring.DirectionUp, Magnitude: 0.6, Uncertainty: 0.2},
			},
			Confidence: 0.9, ScoringVersion: scoring.Version,
		},
		{
			ID: "sig-2", DocumentID: "d2", ClaimSummary: "agent task horizon grows",
			AxesImpacted: []scoring.AxisImpact{
				{Axis: scoring.AxisPlanning, Direction: scoring.DirectionUp, Magnitude: 0.4, Uncertainty: 0.3},
				{Axis: scoring.AxisToolUse, Direction: scoring.DirectionUp, Magnitude: 0.5, Uncertainty: 0.25},
			},
			Confidence: 0.7, ScoringVersion: scoring.Version,
		},
	}
}

func TestAggregation_WritesSnapshot(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	a := NewAggregation(newFakeSignalRepo(daySignals()...), snapshots, &fakeCanaryRepo{}, snapshot.DefaultPolicy())

	stats, err := a.Run(context.Background(), AggregateRequest{Date: "2026-08-27"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !stats.Written {
		t.Error("Expected snapshot written")
	}
	if stats.SignalCount != 2 {
		t.Errorf("Expected 2 signals aggregated, got %d", stats.SignalCount)
	}

	stored, err := snapshots.GetSnapshot(context.Background(), "2026-08-27")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored snapshot, got %v err=%v", stored, err)
	}
	if stored.CompositeScore != stats.CompositeScore {
		t.Errorf("Stats composite %f does not match stored %f", stats.CompositeScore, stored.CompositeScore)
	}

	want := 3.0 / float64(len(scoring.TrackedAxes))
	if diff := stored.CoverageScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected coverage %f, got %f", want, stored.CoverageScore)
	}
}

func TestAggregation_RerunReplacesIdentically(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	a := NewAggregation(newFakeSignalRepo(daySignals()...), snapshots, &fakeCanaryRepo{}, snapshot.DefaultPolicy())

	if _, err := a.Run(context.Background(), AggregateRequest{Date: "2026-08-27"}); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	first, _ := snapshots.GetSnapshot(context.Background(), "2026-08-27")

	if _, err := a.Run(context.Background(), AggregateRequest{Date: "2026-08-27"}); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}
	second, _ := snapshots.GetSnapshot(context.Background(), "2026-08-27")

	// Row identity differs per write; the computed content must not.
	first.ID, second.ID = "", ""
	first.CreatedAt, second.CreatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical recomputed snapshot:\nfirst:  %+v\nsecond: %+v", first, second)
	}

	if len(snapshots.snapshots) != 1 {
		t.Errorf("Expected a single snapshot row for the date, got %d", len(snapshots.snapshots))
	}
}

func TestAggregation_DryRunComputesWithoutWriting(t *testing.T) {
	snapshots := newFakeSnapshotRepo()
	a := NewAggregation(newFakeSignalRepo(daySignals()...), snapshots, &fakeCanaryRepo{}, snapshot.DefaultPolicy())

	stats, err := a.Run(context.Background(), AggregateRequest{Date: "2026-08-27", DryRun: true})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if stats.Written {
		t.Error("Expected dry run not marked written")
	}
	if stats.SignalCount != 2 {
		t.Errorf("Expected signals still counted, got %d", stats.SignalCount)
	}
	if len(snapshots.snapshots) != 0 {
		t.Errorf("Expected no stored snapshot, got %d", len(snapshots.snapshots))
	}
}

func TestAggregation_InvalidDateIsPermanent(t *testing.T) {
	a := NewAggregation(newFakeSignalRepo(), newFakeSnapshotRepo(), &fakeCanaryRepo{}, snapshot.DefaultPolicy())

	_, err := a.Run(context.Background(), AggregateRequest{Date: "27-08-2026"})
	if err == nil {
		t.Fatal("Expected error for malformed date")
	}

	var permanent *jobs.PermanentError
	if !errors.As(err, &permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestAggregation_EvaluatesCanaries(t *testing.T) {
	canaries := &fakeCanaryRepo{defs: []database.CanaryDefinition{
		{ID: "c1", Name: "agentic-takeoff", AxesWatched: []scoring.Axis{scoring.AxisPlanning, scoring.AxisToolUse},
			GreenFloor: 0.6, YellowFloor: 0.3, Active: true},
		{ID: "c2", Name: "uncovered", AxesWatched: []scoring.Axis{scoring.AxisPerception},
			GreenFloor: 0.6, YellowFloor: 0.3, Active: true},
	}}

	snapshots := newFakeSnapshotRepo()
	a := NewAggregation(newFakeSignalRepo(daySignals()...), snapshots, canaries, snapshot.DefaultPolicy())

	if _, err := a.Run(context.Background(), AggregateRequest{Date: "2026-08-27"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stored, _ := snapshots.GetSnapshot(context.Background(), "2026-08-27")
	if len(stored.CanaryStatuses) != 2 {
		t.Fatalf("Expected 2 canary statuses, got %d", len(stored.CanaryStatuses))
	}

	byName := map[string]scoring.CanaryStatus{}
	for _, cs := range stored.CanaryStatuses {
		byName[cs.Name] = cs
	}
	if byName["agentic-takeoff"].State == scoring.CanaryGray {
		t.Error("Expected covered canary to be classified, got gray")
	}
	if byName["uncovered"].State != scoring.CanaryGray {
		t.Errorf("Expected gray for canary without covered axes, got %s", byName["uncovered"].State)
	}
}
