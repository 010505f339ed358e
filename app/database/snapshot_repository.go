package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SQLSnapshotRepository struct {
	db *DB
}

var _ SnapshotRepository = (*SQLSnapshotRepository)(nil)

func NewSnapshotRepository(db *DB) *SQLSnapshotRepository {
	return &SQLSnapshotRepository{db: db}
}

const snapshotColumns = `id, date, axis_scores, canary_statuses, coverage_score,
	composite_score, composite_trend, autonomy, gap_axes, signal_ids, created_at`

func (r *SQLSnapshotRepository) GetSnapshot(ctx context.Context, date string) (*DailySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM daily_snapshots WHERE date = ?
	`, date)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

func (r *SQLSnapshotRepository) GetLatestSnapshot(ctx context.Context) (*DailySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT ` + snapshotColumns + ` FROM daily_snapshots ORDER BY date DESC LIMIT 1
	`)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// UpsertSnapshot writes the snapshot for a date, fully replacing any
// previous computation so re-running aggregation is idempotent.
func (r *SQLSnapshotRepository) UpsertSnapshot(ctx context.Context, snap DailySnapshot) error {
	axisScores, err := json.Marshal(snap.AxisScores)
	if err != nil {
		return fmt.Errorf("failed to marshal axis scores: %w", err)
	}
	canaries, err := json.Marshal(snap.CanaryStatuses)
	if err != nil {
		return fmt.Errorf("failed to marshal canary statuses: %w", err)
	}
	autonomy, err := json.Marshal(snap.Autonomy)
	if err != nil {
		return fmt.Errorf("failed to marshal autonomy: %w", err)
	}
	gapAxes, err := json.Marshal(snap.GapAxes)
	if err != nil {
		return fmt.Errorf("failed to marshal gap axes: %w", err)
	}
	signalIDs, err := json.Marshal(snap.SignalIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal signal ids: %w", err)
	}

	id := snap.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO daily_snapshots (id, date, axis_scores, canary_statuses, coverage_score,
			composite_score, composite_trend, autonomy, gap_axes, signal_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			axis_scores = excluded.axis_scores,
			canary_statuses = excluded.canary_statuses,
			coverage_score = excluded.coverage_score,
			composite_score = excluded.composite_score,
			composite_trend = excluded.composite_trend,
			autonomy = excluded.autonomy,
			gap_axes = excluded.gap_axes,
			signal_ids = excluded.signal_ids,
			created_at = excluded.created_at
	`, id, snap.Date, string(axisScores), string(canaries), snap.CoverageScore,
		snap.CompositeScore, string(snap.CompositeTrend), string(autonomy),
		string(gapAxes), string(signalIDs), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	return nil
}

func scanSnapshot(row rowScanner) (*DailySnapshot, error) {
	var snap DailySnapshot
	var axisScores, canaries, autonomy, gapAxes, signalIDs string
	err := row.Scan(&snap.ID, &snap.Date, &axisScores, &canaries, &snap.CoverageScore,
		&snap.CompositeScore, &snap.CompositeTrend, &autonomy, &gapAxes, &signalIDs, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(axisScores), &snap.AxisScores); err != nil {
		return nil, fmt.Errorf("failed to unmarshal axis scores: %w", err)
	}
	if err := json.Unmarshal([]byte(canaries), &snap.CanaryStatuses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal canary statuses: %w", err)
	}
	if err := json.Unmarshal([]byte(autonomy), &snap.Autonomy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal autonomy: %w", err)
	}
	if err := json.Unmarshal([]byte(gapAxes), &snap.GapAxes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gap axes: %w", err)
	}
	if err := json.Unmarshal([]byte(signalIDs), &snap.SignalIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signal ids: %w", err)
	}

	return &snap, nil
}
