package migrations

import "embed"

// FS contains embedded SQLite migrations for sect storage.
//
//go:embed *.sql
var FS embed.FS
