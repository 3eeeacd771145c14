// Package database provides SQLite connectivity for the instance watcher.
//
// The watcher keeps its transition logs in SQLite so they survive restarts.
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations live in the top-level migrations package as
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql pairs and are additive-only.
package database
