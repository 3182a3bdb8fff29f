// Package database provides SQLite connectivity for the Gray Logic Hub.
//
// This package manages:
//   - The connection, with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (see package migrations)
//   - Private in-memory databases for tests (MemoryPath)
//
// The hub stores three things in SQLite: the entity registry, automation
// run history and recorded entity states. Tables are STRICT.
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
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql file has a matching .down.sql.
package database
