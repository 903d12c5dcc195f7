// Package database provides SQLite connectivity for the catalog cache.
//
// This package manages:
//   - Database connection with WAL mode for concurrent readers
//   - Forward-only schema migrations embedded in the binary
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql.
package database
