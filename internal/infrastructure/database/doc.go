// Package database opens the bridge's SQLite file and applies its schema.
//
// Two tables live here: state_history, written by the publisher's history
// sink, and command_log, written by the command recorder. Both are pruned
// to the configured retention, after which Optimize reclaims space. The
// file is created 0600 and every query is parameterised.
//
// Migrations are embedded by the top-level migrations package and applied
// in version order. A database that records a version this build does not
// ship is refused with ErrUnknownMigration rather than run against an
// unexpected schema.
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
