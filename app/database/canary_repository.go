package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type SQLCanaryRepository struct {
	db *DB
}

var _ CanaryRepository = (*SQLCanaryRepository)(nil)

func NewCanaryRepository(db *DB) *SQLCanaryRepository {
	return &SQLCanaryRepository{db: db}
}

func (r *SQLCanaryRepository) GetActiveDefinitions(ctx context.Context) ([]CanaryDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, axes_watched, green_floor, yellow_floor, display_order, active
		FROM canary_definitions
		WHERE active = 1
		ORDER BY display_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get canary definitions: %w", err)
	}
	defer rows.Close()

	var defs []CanaryDefinition
	for rows.Next() {
		var def CanaryDefinition
		var axes string
		err := rows.Scan(&def.ID, &def.Name, &axes, &def.GreenFloor, &def.YellowFloor,
			&def.DisplayOrder, &def.Active)
		if err != nil {
			return nil, fmt.Errorf("failed to scan canary definition: %w", err)
		}
		if err := json.Unmarshal([]byte(axes), &def.AxesWatched); err != nil {
			return nil, fmt.Errorf("failed to unmarshal watched axes: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating canary definitions: %w", err)
	}

	return defs, nil
}

func (r *SQLCanaryRepository) UpsertDefinition(ctx context.Context, def CanaryDefinition) (string, error) {
	axes, err := json.Marshal(def.AxesWatched)
	if err != nil {
		return "", fmt.Errorf("failed to marshal watched axes: %w", err)
	}

	id := def.ID
	if id == "" {
		id = uuid.NewString()
	}

	var dbID string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO canary_definitions (id, name, axes_watched, green_floor, yellow_floor, display_order, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			axes_watched = excluded.axes_watched,
			green_floor = excluded.green_floor,
			yellow_floor = excluded.yellow_floor,
			display_order = excluded.display_order,
			active = excluded.active
		RETURNING id
	`, id, def.Name, string(axes), def.GreenFloor, def.YellowFloor,
		def.DisplayOrder, def.Active).Scan(&dbID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert canary definition: %w", err)
	}

	return dbID, nil
}
