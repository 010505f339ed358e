package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/capradar/capradar/app/blob"
	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/scoring"
)

func TestMapping_UpgradesStaleSignals(t *testing.T) {
	docs := newFakeDocumentRepo()
	blobs := blob.NewMemoryStore()
	seedDocument(t, docs, blobs, "d1", "content")

	signals := newFakeSignalRepo(
		database.Signal{
			ID: "old", DocumentID: "d1",
			AxesImpacted: []scoring.AxisImpact{
				{Axis: scoring.AxisCoding, Direction: scoring.DirectionUp, Magnitude: 0.5, Uncertainty: 0.2},
			},
			ScoringVersion: scoring.Version - 1,
		},
		database.Signal{
			ID: "current", DocumentID: "d1",
			AxesImpacted: []scoring.AxisImpact{
				{Axis: scoring.AxisReasoning, Direction: scoring.DirectionUp, Magnitude: 0.3, Uncertainty: 0.3},
			},
			ScoringVersion: scoring.Version,
		},
	)

	m := NewMapping(docs, signals)

	remapped, err := m.MapDocument(context.Background(), "d1")
	if err != nil {
		t.Fatalf("MapDocument failed: %v", err)
	}
	if remapped != 1 {
		t.Errorf("Expected 1 signal remapped, got %d", remapped)
	}

	stored, _ := signals.GetSignalsByDocument(context.Background(), "d1")
	for _, sig := range stored {
		if sig.ScoringVersion != scoring.Version {
			t.Errorf("Signal %s still at version %d", sig.ID, sig.ScoringVersion)
		}
	}
}

func TestMapping_UnknownDocumentIsPermanent(t *testing.T) {
	m := NewMapping(newFakeDocumentRepo(), newFakeSignalRepo())

	_, err := m.MapDocument(context.Background(), "missing")
	if err == nil {
		t.Fatal("Expected error for unknown document")
	}

	var permanent *jobs.PermanentError
	if !errors.As(err, &permanent) {
		t.Errorf("Expected permanent error, got %v", err)
	}
}

func TestRemapAxes_DropsUntrackedAndNormalizes(t *testing.T) {
	in := []scoring.AxisImpact{
		{Axis: "retired_axis", Direction: scoring.DirectionUp, Magnitude: 0.5, Uncertainty: 0.2},
		{Axis: scoring.AxisCoding, Direction: scoring.DirectionUp, Magnitude: 1.7, Uncertainty: 0},
	}

	out := remapAxes(in)

	if len(out) != 1 {
		t.Fatalf("Expected untracked axis dropped, got %d impacts", len(out))
	}
	if out[0].Magnitude != 1 {
		t.Errorf("Expected magnitude clamped to 1, got %f", out[0].Magnitude)
	}
	if out[0].Uncertainty != scoring.DefaultUncertainty {
		t.Errorf("Expected default uncertainty, got %f", out[0].Uncertainty)
	}
}
