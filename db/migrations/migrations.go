// Package migrations embeds the SQL schema migrations applied at startup.
package migrations

import "embed"

// Files holds the versioned migration scripts consumed by golang-migrate.
//
//go:embed *.sql
var Files embed.FS
