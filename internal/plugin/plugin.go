package plugin

import (
	"encoding/json"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hyperengineering/entsync/internal/sync"
)

// EntityDefinition declares one entity collection the writer can sync.
// The writer uses it to build parameterized SQL at runtime.
type EntityDefinition struct {
	// Name is the collection name used in sync operations.
	Name string

	// Table is the SQL table name. Defaults to Name.
	Table string

	// Columns lists every writable column, including the key columns.
	Columns []string

	// PrimaryKey lists the key columns. One column makes a scalar key,
	// more make a composite key.
	PrimaryKey []string

	// AutoID generates a ULID for a missing single-column key on
	// create and upsert.
	AutoID bool

	// Schema is an optional JSON schema every payload must satisfy.
	Schema json.RawMessage

	// Searchable lists the columns the search indexer concatenates.
	Searchable []string

	resolved *jsonschema.Resolved
}

// TableName returns the SQL table backing the collection.
func (d *EntityDefinition) TableName() string {
	if d.Table != "" {
		return d.Table
	}
	return d.Name
}

// HasColumn reports whether col is a declared column.
func (d *EntityDefinition) HasColumn(col string) bool {
	return slices.Contains(d.Columns, col)
}

// IsKeyColumn reports whether col is part of the primary key.
func (d *EntityDefinition) IsKeyColumn(col string) bool {
	return slices.Contains(d.PrimaryKey, col)
}

// KeyFrom extracts the primary key from a payload. missing lists key
// columns absent from (or null in) the payload.
func (d *EntityDefinition) KeyFrom(payload map[string]any) (key sync.PrimaryKey, missing []string) {
	key.Fields = slices.Clone(d.PrimaryKey)
	key.Values = make([]any, len(d.PrimaryKey))
	for i, col := range d.PrimaryKey {
		v, ok := payload[col]
		if !ok || v == nil {
			missing = append(missing, col)
			continue
		}
		key.Values[i] = v
	}
	return key, missing
}

// ValidatePayload checks payload against the collection's JSON schema.
// Collections without a schema accept any payload.
func (d *EntityDefinition) ValidatePayload(payload map[string]any) error {
	if d.resolved == nil {
		return nil
	}
	return d.resolved.Validate(payload)
}

// resolve compiles the JSON schema once at registration.
func (d *EntityDefinition) resolve() error {
	if len(d.Schema) == 0 {
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(d.Schema, &schema); err != nil {
		return err
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return err
	}
	d.resolved = resolved
	return nil
}

// DomainPlugin contributes entity collections and the migrations that
// create their tables.
type DomainPlugin interface {
	// Name identifies the plugin (e.g., "catalog").
	Name() string

	// Migrations returns SQL migrations for the plugin's tables.
	// These are applied in addition to the base migrations, in Version order.
	Migrations() []Migration

	// Entities returns the collections the plugin manages.
	Entities() []EntityDefinition
}

// Migration represents a plugin SQL migration.
type Migration struct {
	// Version is the migration sequence number, unique within the plugin.
	Version int

	// Name is a human-readable identifier (e.g., "create_product").
	Name string

	// UpSQL is the SQL to apply the migration.
	UpSQL string

	// DownSQL is the SQL to rollback the migration.
	DownSQL string
}
