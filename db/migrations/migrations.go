// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// Dir is the directory of FS holding goose SQL files.
const Dir = "sql"

// FS holds the goose SQL migrations.
//
//go:embed sql/*.sql
var FS embed.FS
