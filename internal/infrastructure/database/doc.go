// Package database manages the SQLite connection backing the device
// registry.
//
// It opens the database file with WAL journaling and a busy timeout,
// constrains the pool to a single writer connection, and exposes
// lifecycle and health-check helpers. Table schemas are owned by the
// consuming packages (see internal/device), not by this package.
package database
