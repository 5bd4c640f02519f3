package migrations

import "embed"

// FS contains the embedded store schema migrations.
//
//go:embed *.sql
var FS embed.FS
