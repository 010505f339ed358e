package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/capradar/capradar/app/database"
	"github.com/capradar/capradar/app/jobs"
	"github.com/capradar/capradar/app/scoring"
	"github.com/capradar/capradar/app/snapshot"
)

const dateLayout = "2006-01-02"

// Aggregation rolls one day's signals up into a daily snapshot. The
// computation is a pure fold over id-ordered inputs, so re-running the same
// date replaces the stored snapshot with an identical one.
type Aggregation struct {
	signals   database.SignalRepository
	snapshots database.SnapshotRepository
	canaries  database.CanaryRepository
	policy    snapshot.Policy
}

func NewAggregation(signals database.SignalRepository, snapshots database.SnapshotRepository,
	canaries database.CanaryRepository, policy snapshot.Policy) *Aggregation {
	return &Aggregation{
		signals:   signals,
		snapshots: snapshots,
		canaries:  canaries,
		policy:    policy,
	}
}

// Run builds and stores the snapshot for the requested date, defaulting to
// yesterday (UTC). DryRun computes the snapshot without writing it.
func (a *Aggregation) Run(ctx context.Context, req AggregateRequest) (*AggregateStats, error) {
	date, err := resolveDate(req.Date)
	if err != nil {
		return nil, jobs.Permanent(err)
	}

	dayStart := date
	dayEnd := date.AddDate(0, 0, 1)

	signals, err := a.signals.GetSignalsForDateRange(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load signals: %w", err)
	}

	prior, err := a.snapshots.GetSnapshot(ctx, date.AddDate(0, 0, -1).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to load prior snapshot: %w", err)
	}

	weekAgo, err := a.snapshots.GetSnapshot(ctx, date.AddDate(0, 0, -7).Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to load week-ago snapshot: %w", err)
	}

	canaries, err := a.canaries.GetActiveDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load canary definitions: %w", err)
	}

	autonomy7d, err := a.countAutonomySignals(ctx, dayEnd)
	if err != nil {
		return nil, err
	}

	snap := snapshot.Build(snapshot.Inputs{
		Date:              date.Format(dateLayout),
		Signals:           signals,
		Prior:             prior,
		WeekAgo:           weekAgo,
		Canaries:          canaries,
		AutonomySignals7d: autonomy7d,
	}, a.policy)

	stats := &AggregateStats{
		Date:           snap.Date,
		SignalCount:    len(signals),
		CoverageScore:  snap.CoverageScore,
		CompositeScore: snap.CompositeScore,
		AutonomyLevel:  snap.Autonomy.Level,
	}

	if req.DryRun {
		return stats, nil
	}

	snap.ID = uuid.NewString()
	snap.CreatedAt = time.Now().UTC()
	if err := a.snapshots.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}
	stats.Written = true

	slog.Info("Snapshot built", "date", snap.Date, "signals", stats.SignalCount,
		"coverage", stats.CoverageScore, "composite", stats.CompositeScore,
		"trend", string(snap.CompositeTrend), "autonomy_level", stats.AutonomyLevel)

	return stats, nil
}

// countAutonomySignals counts signals in the trailing 7-day window ending
// at dayEnd that touch an autonomy axis. This feeds the evidence floor for
// the autonomy level.
func (a *Aggregation) countAutonomySignals(ctx context.Context, dayEnd time.Time) (int, error) {
	windowStart := dayEnd.AddDate(0, 0, -7)
	signals, err := a.signals.GetSignalsForDateRange(ctx, windowStart, dayEnd)
	if err != nil {
		return 0, fmt.Errorf("failed to load autonomy window signals: %w", err)
	}

	count := 0
	for _, sig := range signals {
		if touchesAutonomyAxis(sig) {
			count++
		}
	}
	return count, nil
}

func touchesAutonomyAxis(sig database.Signal) bool {
	for _, impact := range sig.AxesImpacted {
		for _, axis := range scoring.AutonomyAxes {
			if impact.Axis == axis {
				return true
			}
		}
	}
	return false
}

// resolveDate parses a YYYY-MM-DD date, defaulting to yesterday in UTC.
func resolveDate(raw string) (time.Time, error) {
	if raw == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1), nil
	}

	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", raw, err)
	}
	return date.UTC(), nil
}
