package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// PutSearchDocument inserts or replaces the indexed text of one row.
func (s *SQLiteStore) PutSearchDocument(ctx context.Context, doc SearchDocument) error {
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.primary.ExecContext(ctx, `
		INSERT INTO search_documents (entity, entity_key, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity, entity_key) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
	`, doc.Entity, doc.EntityKey, doc.Content, updatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put search document %s %s: %w", doc.Entity, doc.EntityKey, err)
	}
	return nil
}

// DeleteSearchDocument removes the indexed text of one row. Missing
// documents are not an error.
func (s *SQLiteStore) DeleteSearchDocument(ctx context.Context, entity, entityKey string) error {
	_, err := s.primary.ExecContext(ctx,
		`DELETE FROM search_documents WHERE entity = ? AND entity_key = ?`, entity, entityKey)
	if err != nil {
		return fmt.Errorf("delete search document %s %s: %w", entity, entityKey, err)
	}
	return nil
}

// SearchDocuments returns documents of entity whose content contains term,
// case-insensitively. An empty entity searches every collection.
func (s *SQLiteStore) SearchDocuments(ctx context.Context, entity, term string, limit int) ([]SearchDocument, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	rows, err := s.reader(ctx).QueryContext(ctx, `
		SELECT entity, entity_key, content, updated_at
		FROM search_documents
		WHERE (? = '' OR entity = ?) AND lower(content) LIKE ? ESCAPE '\'
		ORDER BY entity, entity_key
		LIMIT ?
	`, entity, entity, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	docs := make([]SearchDocument, 0)
	for rows.Next() {
		var d SearchDocument
		var updatedAt string
		if err := rows.Scan(&d.Entity, &d.EntityKey, &d.Content, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan search document: %w", err)
		}
		var parseErr error
		if d.UpdatedAt, parseErr = time.Parse(time.RFC3339Nano, updatedAt); parseErr != nil {
			slog.Warn("search_documents: failed to parse updated_at", "value", updatedAt, "error", parseErr)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
