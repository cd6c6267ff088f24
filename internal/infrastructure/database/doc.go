// Package database provides SQLite connectivity for Therapy Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations applied from an fs.FS (see package migrations)
//   - Connection pooling and lifecycle management
//
// All queries elsewhere in the module use parameterised statements.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive-only: new columns must be nullable or carry a
// default, and every .up.sql ships with a matching .down.sql.
package database
