package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type SQLDocumentRepository struct {
	db *DB
}

var _ DocumentRepository = (*SQLDocumentRepository)(nil)

func NewDocumentRepository(db *DB) *SQLDocumentRepository {
	return &SQLDocumentRepository{db: db}
}

const documentColumns = `id, item_id, clean_blob_key, status, error, acquired_at`

func (r *SQLDocumentRepository) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *SQLDocumentRepository) GetDocuments(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id IN (`+placeholders+`)
		ORDER BY acquired_at
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

func (r *SQLDocumentRepository) GetDocumentsByStatus(ctx context.Context, status DocumentStatus, limit int) ([]Document, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE status = ?
		ORDER BY acquired_at
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents by status: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows)
}

// GetActiveDocumentByItem returns the item's non-failed document, if any.
// The acquisition stage checks this before inserting, keeping the
// one-active-document-per-item invariant.
func (r *SQLDocumentRepository) GetActiveDocumentByItem(ctx context.Context, itemID string) (*Document, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE item_id = ? AND status != 'failed'
		LIMIT 1
	`, itemID)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by item: %w", err)
	}
	return doc, nil
}

func (r *SQLDocumentRepository) InsertDocument(ctx context.Context, doc Document) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (id, item_id, clean_blob_key, status, error, acquired_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.ItemID, doc.CleanBlobKey, string(doc.Status), doc.Error, doc.AcquiredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *SQLDocumentRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = 'processed', error = '' WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark document processed: %w", err)
	}
	return nil
}

func (r *SQLDocumentRepository) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE documents SET status = 'failed', error = ? WHERE id = ?
	`, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.ItemID, &doc.CleanBlobKey, &doc.Status, &doc.Error, &doc.AcquiredAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, *doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}

	return docs, nil
}
