package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SQLSourceRepository struct {
	db *DB
}

var _ SourceRepository = (*SQLSourceRepository)(nil)

func NewSourceRepository(db *DB) *SQLSourceRepository {
	return &SQLSourceRepository{db: db}
}

const sourceColumns = `id, name, url, type, tier, trust_weight, cadence_minutes,
	query_config, active, error_count, last_success_at, created_at, updated_at`

func (r *SQLSourceRepository) GetSource(ctx context.Context, id string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

func (r *SQLSourceRepository) GetActiveSources(ctx context.Context) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sourceColumns+`
		FROM sources
		WHERE active = 1
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, *src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source rows: %w", err)
	}

	return sources, nil
}

func (r *SQLSourceRepository) GetSourceCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get source count: %w", err)
	}
	return count, nil
}

// UpsertSource registers a source by name, preserving its rolling health
// fields on update. Returns the source id.
func (r *SQLSourceRepository) UpsertSource(ctx context.Context, src Source) (string, error) {
	if src.TrustWeight <= 0 {
		return "", fmt.Errorf("invalid trust weight %.2f for source %q: must be > 0", src.TrustWeight, src.Name)
	}

	queryConfig, err := json.Marshal(src.QueryConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal query config: %w", err)
	}

	id := src.ID
	if id == "" {
		id = uuid.NewString()
	}

	var dbID string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO sources (id, name, url, type, tier, trust_weight, cadence_minutes, query_config, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			type = excluded.type,
			tier = excluded.tier,
			trust_weight = excluded.trust_weight,
			cadence_minutes = excluded.cadence_minutes,
			query_config = excluded.query_config,
			active = excluded.active,
			updated_at = datetime('now')
		RETURNING id
	`, id, src.Name, string(src.Type), src.Tier, src.TrustWeight, src.CadenceMinutes,
		string(queryConfig), src.Active).Scan(&dbID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert source: %w", err)
	}

	return dbID, nil
}

// SetActive soft-disables or re-enables a source. Sources are never hard-deleted.
func (r *SQLSourceRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources SET active = ?, updated_at = datetime('now') WHERE id = ?
	`, active, id)
	if err != nil {
		return fmt.Errorf("failed to set source active flag: %w", err)
	}
	return nil
}

// RecordFetchSuccess resets the rolling error count and stamps the last
// successful fetch.
func (r *SQLSourceRepository) RecordFetchSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET error_count = 0, last_success_at = ?, updated_at = datetime('now')
		WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record fetch success: %w", err)
	}
	return nil
}

// RecordFetchFailure increments the rolling error count and returns the new value.
func (r *SQLSourceRepository) RecordFetchFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE sources
		SET error_count = error_count + 1, updated_at = datetime('now')
		WHERE id = ?
		RETURNING error_count
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to record fetch failure: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var src Source
	var queryConfig string
	err := row.Scan(&src.ID, &src.Name, &src.URL, &src.Type, &src.Tier,
		&src.TrustWeight, &src.CadenceMinutes, &queryConfig, &src.Active,
		&src.ErrorCount, &src.LastSuccessAt, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(queryConfig), &src.QueryConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query config: %w", err)
	}

	return &src, nil
}
