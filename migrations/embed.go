// Package migrations embeds SQL migration files into the binary.
//
// The bridge runs them at startup with database.DB.Migrate(ctx, migrations.FS),
// so the SQL files do not need to be present on the target filesystem.
package migrations

import "embed"

// FS holds every *.sql file in this directory at its root.
//
//go:embed *.sql
var FS embed.FS
