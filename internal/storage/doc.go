// Package storage owns the SQL connection shared by the stores.
//
// It provides:
//   - Open: driver selection (SQLite file or Postgres DSN), pool sizing, ping, migrations
//   - ReadTx: a single consistency point for multi-table reads
//   - the audit log (admin actions)
//   - ErrUnavailable classification for connection-level failures
package storage
