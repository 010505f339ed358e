package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/scoring"
)

// Mapping re-maps a document's stored signals onto the current scoring
// scheme. It runs when the axis taxonomy or normalization rules change
// between scoring versions, so old signals stay comparable with new ones
// without re-running the extraction model.
type Mapping struct {
	documents database.DocumentRepository
	signals   database.SignalRepository
}

func NewMapping(documents database.DocumentRepository, signals database.SignalRepository) *Mapping {
	return &Mapping{documents: documents, signals: signals}
}

// MapDocument upgrades every signal of the document to scoring.Version.
// Signals already at the current version are untouched. Returns the number
// of signals rewritten.
func (m *Mapping) MapDocument(ctx context.Context, documentID string) (int, error) {
	doc, err := m.documents.GetDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, jobs.Permanent(fmt.Errorf("document %s not found", documentID))
	}

	signals, err := m.signals.GetSignalsByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}

	remapped := 0
	for _, sig := range signals {
		if sig.ScoringVersion >= scoring.Version {
			continue
		}

		axes := remapAxes(sig.AxesImpacted)
		raw, err := json.Marshal(axes)
		if err != nil {
			return remapped, fmt.Errorf("failed to marshal remapped axes: %w", err)
		}

		if err := m.signals.UpdateSignalAxes(ctx, sig.ID, raw, scoring.Version); err != nil {
			return remapped, fmt.Errorf("failed to update signal %s: %w", sig.ID, err)
		}
		remapped++
	}

	if remapped > 0 {
		slog.Info("Document signals remapped", "document", documentID,
			"remapped", remapped, "version", scoring.Version)
	}

	return remapped, nil
}

// remapAxes re-applies the current normalization rules: untracked axes are
// dropped, magnitudes and uncertainties clamped, zero uncertainty replaced
// with the default.
func remapAxes(axes []scoring.AxisImpact) []scoring.AxisImpact {
	out := make([]scoring.AxisImpact, 0, len(axes))
	for _, impact := range axes {
		if !scoring.IsTracked(impact.Axis) {
			continue
		}

		impact.Magnitude = scoring.Clamp(impact.Magnitude, 0, 1)
		if impact.Uncertainty <= 0 {
			impact.Uncertainty = scoring.DefaultUncertainty
		} else {
			impact.Uncertainty = scoring.Clamp(impact.Uncertainty, 0, 1)
		}

		out = append(out, impact)
	}
	return out
}
