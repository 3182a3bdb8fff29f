// Package migrations embeds the SQL schema migrations into the binary.
//
// Pass FS to (*database.DB).Migrate at startup and in tests that need the
// real schema.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
