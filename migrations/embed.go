// Package migrations embeds the sightings journal schema into the binary.
package migrations

import "embed"

// FS holds the *.up.sql files at its root.
// Pass it to database.DB.Migrate.
//
//go:embed *.up.sql
var FS embed.FS
