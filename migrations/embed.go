// Package migrations embeds the base schema migrations applied with goose.
package migrations

import "embed"

// FS holds the goose SQL migrations.
//
//go:embed *.sql
var FS embed.FS
