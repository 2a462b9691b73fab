// Package database provides SQLite connectivity for the bridge's history store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Schema migrations loaded from any fs.FS (normally the embedded migrations package)
//   - Connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
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
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. The matching
// .down.sql is never run by the bridge; apply it by hand with the sqlite3
// shell to roll back. New columns must be nullable or carry a default.
package database
