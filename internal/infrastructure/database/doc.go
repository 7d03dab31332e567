// Package database provides the SQLite connection behind the sightings
// journal (devices, entities and delivery reports seen on the mesh).
//
// This package manages:
//   - Database connection with optional WAL mode
//   - Schema migrations read from an fs.FS (see package migrations)
//   - Connection pool and lifecycle management
//
// All statements use parameterised queries. The database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version ships a .up.sql and a .down.sql.
package database
