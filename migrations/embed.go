// Package migrations embeds the SQL schema applied by core/database.
// Statements stay within the dialect shared by PostgreSQL and SQLite.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
