package storage

import (
	"errors"
	"time"
)

// ErrUnavailable marks failures where the database itself cannot be reached.
// It is the only storage condition that halts processing.
var ErrUnavailable = errors.New("storage unavailable")

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (default)
//   - "postgres": Postgres server at DSN
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only
	MaxOpenConns int           // postgres only; sqlite always uses one connection
	PingTimeout  time.Duration
}

// AuditEntry records an admin action.
type AuditEntry struct {
	ID       int64     `db:"id"`
	At       time.Time `db:"-"`
	AtMS     int64     `db:"at"`
	ActorID  int64     `db:"actor_id"`
	Action   string    `db:"action"`
	TargetID int64     `db:"target_id"`
	Detail   string    `db:"detail"`
}

// Millis converts t to the unix millisecond representation stored in every table.
func Millis(t time.Time) int64 { return t.UnixMilli() }

// FromMillis is the inverse of Millis. Times are returned in UTC.
func FromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
