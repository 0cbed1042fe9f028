package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/entsync/internal/plugin"
	"github.com/hyperengineering/entsync/internal/store"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// SearchName is the name of the search indexer.
const SearchName = "search"

// SearchStore is the storage the search indexer reads rows from and writes
// documents to.
type SearchStore interface {
	GetRow(ctx context.Context, entity string, key entsync.PrimaryKey) (map[string]any, error)
	PutSearchDocument(ctx context.Context, doc store.SearchDocument) error
	DeleteSearchDocument(ctx context.Context, entity, entityKey string) error
}

// SearchIndexer keeps one search document per row of every collection that
// declares searchable columns.
type SearchIndexer struct {
	store SearchStore
}

// NewSearchIndexer creates a SearchIndexer.
func NewSearchIndexer(s SearchStore) *SearchIndexer {
	return &SearchIndexer{store: s}
}

// Name returns "search".
func (i *SearchIndexer) Name() string {
	return SearchName
}

// Index reloads each row from the primary and rewrites its document. Rows
// that no longer exist lose their document.
func (i *SearchIndexer) Index(ctx context.Context, entity string, keys []entsync.PrimaryKey) error {
	def, err := plugin.Lookup(entity)
	if err != nil {
		return err
	}
	if len(def.Searchable) == 0 {
		return nil
	}

	ctx = store.WithPrimary(ctx)
	for _, key := range keys {
		row, err := i.store.GetRow(ctx, entity, key)
		if store.IsNotFound(err) {
			if err := i.store.DeleteSearchDocument(ctx, entity, canonicalKey(def, key)); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s %s: %w", entity, key, err)
		}

		doc := store.SearchDocument{
			Entity:    entity,
			EntityKey: canonicalKey(def, key),
			Content:   searchContent(def, row),
			UpdatedAt: time.Now().UTC(),
		}
		if err := i.store.PutSearchDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes the documents of the given rows.
func (i *SearchIndexer) Remove(ctx context.Context, entity string, keys []entsync.PrimaryKey) error {
	def, err := plugin.Lookup(entity)
	if err != nil {
		return err
	}
	if len(def.Searchable) == 0 {
		return nil
	}
	for _, key := range keys {
		if err := i.store.DeleteSearchDocument(ctx, entity, canonicalKey(def, key)); err != nil {
			return err
		}
	}
	return nil
}

// canonicalKey renders key with its fields in definition order, whatever
// order it arrived in.
func canonicalKey(def *plugin.EntityDefinition, key entsync.PrimaryKey) string {
	if len(key.Fields) == 0 {
		return key.String()
	}
	bound, missing := def.KeyFrom(key.Map())
	if len(missing) > 0 {
		return key.String()
	}
	return bound.String()
}

// searchContent joins the non-empty searchable values of row.
func searchContent(def *plugin.EntityDefinition, row map[string]any) string {
	parts := make([]string, 0, len(def.Searchable))
	for _, col := range def.Searchable {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Ensure SearchIndexer implements Indexer at compile time.
var _ Indexer = (*SearchIndexer)(nil)
