package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type SQLSignalRepository struct {
	db *DB
}

var _ SignalRepository = (*SQLSignalRepository)(nil)

func NewSignalRepository(db *DB) *SQLSignalRepository {
	return &SQLSignalRepository{db: db}
}

const signalColumns = `id, document_id, claim_summary, axes_impacted, metric,
	confidence, citations, scoring_version, created_at`

func (r *SQLSignalRepository) GetSignalsByDocument(ctx context.Context, documentID string) ([]Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+signalColumns+`
		FROM signals
		WHERE document_id = ?
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signals by document: %w", err)
	}
	defer rows.Close()

	return collectSignals(rows)
}

func (r *SQLSignalRepository) GetSignalsForDateRange(ctx context.Context, from, to time.Time) ([]Signal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id, s.document_id, s.claim_summary, s.axes_impacted, s.metric,
		       s.confidence, s.citations, s.scoring_version, s.created_at
		FROM signals s
		JOIN documents d ON d.id = s.document_id
		WHERE d.acquired_at >= ? AND d.acquired_at < ?
		ORDER BY s.id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get signals for date range: %w", err)
	}
	defer rows.Close()

	return collectSignals(rows)
}

func (r *SQLSignalRepository) InsertSignal(ctx context.Context, sig Signal) error {
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return fmt.Errorf("signal confidence %.3f out of bounds [0,1]", sig.Confidence)
	}
	if len(sig.AxesImpacted) == 0 && sig.Metric == nil {
		return fmt.Errorf("signal must impact at least one axis or carry a metric")
	}

	axes, err := json.Marshal(sig.AxesImpacted)
	if err != nil {
		return fmt.Errorf("failed to marshal axes: %w", err)
	}
	citations, err := json.Marshal(sig.Citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	var metric *string
	if sig.Metric != nil {
		raw, err := json.Marshal(sig.Metric)
		if err != nil {
			return fmt.Errorf("failed to marshal metric: %w", err)
		}
		s := string(raw)
		metric = &s
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO signals (id, document_id, claim_summary, axes_impacted, metric,
			confidence, citations, scoring_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sig.ID, sig.DocumentID, sig.ClaimSummary, string(axes), metric,
		sig.Confidence, string(citations), sig.ScoringVersion, sig.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	return nil
}

// UpdateSignalAxes rewrites a signal's axis impacts under a new scoring
// version. Used by the map stage when the scoring schema evolves.
func (r *SQLSignalRepository) UpdateSignalAxes(ctx context.Context, id string, axes []byte, scoringVersion int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE signals SET axes_impacted = ?, scoring_version = ? WHERE id = ?
	`, string(axes), scoringVersion, id)
	if err != nil {
		return fmt.Errorf("failed to update signal axes: %w", err)
	}
	return nil
}

func collectSignals(rows *sql.Rows) ([]Signal, error) {
	var signals []Signal
	for rows.Next() {
		var sig Signal
		var axes, citations string
		var metric sql.NullString
		err := rows.Scan(&sig.ID, &sig.DocumentID, &sig.ClaimSummary, &axes, &metric,
			&sig.Confidence, &citations, &sig.ScoringVersion, &sig.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}

		if err := json.Unmarshal([]byte(axes), &sig.AxesImpacted); err != nil {
			return nil, fmt.Errorf("failed to unmarshal axes for signal %s: %w", sig.ID, err)
		}
		if err := json.Unmarshal([]byte(citations), &sig.Citations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citations for signal %s: %w", sig.ID, err)
		}
		if metric.Valid {
			if err := json.Unmarshal([]byte(metric.String), &sig.Metric); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metric for signal %s: %w", sig.ID, err)
			}
		}

		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal rows: %w", err)
	}

	return signals, nil
}
