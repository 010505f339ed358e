package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type SQLItemRepository struct {
	db *DB
}

var _ ItemRepository = (*SQLItemRepository)(nil)

func NewItemRepository(db *DB) *SQLItemRepository {
	return &SQLItemRepository{db: db}
}

func (r *SQLItemRepository) GetItem(ctx context.Context, id string) (*Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_id, url, title, discovered_at FROM items WHERE id = ?
	`, id)

	var item Item
	err := row.Scan(&item.ID, &item.SourceID, &item.URL, &item.Title, &item.DiscoveredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (r *SQLItemRepository) GetItems(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, url, title, discovered_at
		FROM items
		WHERE id IN (`+placeholders+`)
		ORDER BY discovered_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// GetItemsWithoutDocument returns the oldest discovered items that have no
// non-failed document yet, bounding the acquisition batch size.
func (r *SQLItemRepository) GetItemsWithoutDocument(ctx context.Context, limit int) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT i.id, i.source_id, i.url, i.title, i.discovered_at
		FROM items i
		WHERE NOT EXISTS (
			SELECT 1 FROM documents d
			WHERE d.item_id = i.id AND d.status != 'failed'
		)
		ORDER BY i.discovered_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get items without document: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// InsertItem relies on the (source_id, url) uniqueness constraint for
// dedup, so concurrent discovery passes cannot race a pre-read scan.
func (r *SQLItemRepository) InsertItem(ctx context.Context, sourceID, url, title string) (string, bool, error) {
	id := uuid.NewString()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO items (id, source_id, url, title)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (source_id, url) DO NOTHING
	`, id, sourceID, url, title)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return "", false, nil
	}

	return id, true, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var item Item
		err := rows.Scan(&item.ID, &item.SourceID, &item.URL, &item.Title, &item.DiscoveredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}
