// Package catalog provides the built-in catalog collections: categories,
// products, their assignments and rules.
package catalog

import (
	"encoding/json"

	"github.com/hyperengineering/entsync/internal/plugin"
)

// Collection names.
const (
	EntityCategory        = "category"
	EntityProduct         = "product"
	EntityProductCategory = "product_category"
	EntityRule            = "rule"
)

// Plugin is the catalog domain plugin.
type Plugin struct{}

// New creates a new catalog plugin.
func New() *Plugin {
	return &Plugin{}
}

// Name returns "catalog".
func (p *Plugin) Name() string {
	return "catalog"
}

// Migrations returns the catalog table migrations.
func (p *Plugin) Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version: 1,
			Name:    "create_catalog_tables",
			UpSQL: `
CREATE TABLE category (
    id        TEXT PRIMARY KEY,
    parent_id TEXT REFERENCES category(id),
    name      TEXT NOT NULL,
    active    INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE product (
    id             TEXT PRIMARY KEY,
    product_number TEXT UNIQUE,
    name           TEXT NOT NULL,
    description    TEXT,
    price          REAL NOT NULL DEFAULT 0,
    stock          INTEGER NOT NULL DEFAULT 0,
    active         INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE product_category (
    product_id  TEXT NOT NULL REFERENCES product(id),
    category_id TEXT NOT NULL REFERENCES category(id),
    position    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (product_id, category_id)
);

CREATE INDEX idx_product_category_category ON product_category(category_id);
`,
			DownSQL: `
DROP TABLE IF EXISTS product_category;
DROP TABLE IF EXISTS product;
DROP TABLE IF EXISTS category;
`,
		},
		{
			Version: 2,
			Name:    "create_rule_table",
			UpSQL: `
CREATE TABLE rule (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    priority    INTEGER NOT NULL DEFAULT 0,
    description TEXT,
    conditions  TEXT
);
`,
			DownSQL: `DROP TABLE IF EXISTS rule;`,
		},
	}
}

// Entities returns the catalog collections.
func (p *Plugin) Entities() []plugin.EntityDefinition {
	return []plugin.EntityDefinition{
		{
			Name:       EntityCategory,
			Columns:    []string{"id", "parent_id", "name", "active"},
			PrimaryKey: []string{"id"},
			AutoID:     true,
			Schema:     categorySchema,
			Searchable: []string{"name"},
		},
		{
			Name:       EntityProduct,
			Columns:    []string{"id", "product_number", "name", "description", "price", "stock", "active"},
			PrimaryKey: []string{"id"},
			AutoID:     true,
			Schema:     productSchema,
			Searchable: []string{"product_number", "name", "description"},
		},
		{
			Name:       EntityProductCategory,
			Columns:    []string{"product_id", "category_id", "position"},
			PrimaryKey: []string{"product_id", "category_id"},
			Schema:     productCategorySchema,
		},
		{
			Name:       EntityRule,
			Columns:    []string{"id", "name", "priority", "description", "conditions"},
			PrimaryKey: []string{"id"},
			AutoID:     true,
			Schema:     ruleSchema,
			Searchable: []string{"name", "description"},
		},
	}
}

var categorySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"parent_id": {"type": ["string", "null"]},
		"name": {"type": "string", "minLength": 1, "maxLength": 255},
		"active": {"type": "boolean"}
	}
}`)

var productSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"product_number": {"type": ["string", "null"], "maxLength": 64},
		"name": {"type": "string", "minLength": 1, "maxLength": 255},
		"description": {"type": ["string", "null"]},
		"price": {"type": "number", "minimum": 0},
		"stock": {"type": "number", "minimum": 0},
		"active": {"type": "boolean"}
	}
}`)

var productCategorySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"product_id": {"type": "string", "minLength": 1},
		"category_id": {"type": "string", "minLength": 1},
		"position": {"type": "number"}
	}
}`)

var ruleSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"priority": {"type": "number"},
		"description": {"type": ["string", "null"]},
		"conditions": {"type": ["array", "object", "null"]}
	}
}`)

// Ensure Plugin implements DomainPlugin at compile time.
var _ plugin.DomainPlugin = (*Plugin)(nil)
