package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "stickerbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultSQLitePath   = "./data/stickerbot.db"
	defaultBusyTimeout  = 5 * time.Second
	defaultPingTimeout  = 5 * time.Second
	defaultPostgresPool = 10
)

// DB is the shared handle. Queries are written with '?' placeholders and
// passed through Rebind so the same text runs on both dialects.
type DB struct {
	*sqlx.DB
	dialect Dialect
	log     logx.Logger
}

// ConfigFromURL maps a DATABASE_URL value onto a Config.
// postgres:// and postgresql:// select Postgres; sqlite://path, file:path or a
// bare path select SQLite.
func ConfigFromURL(raw string) Config {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Config{Driver: string(DialectSQLite)}
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Config{Driver: string(DialectPostgres), DSN: raw}
	case strings.HasPrefix(raw, "sqlite://"):
		return Config{Driver: string(DialectSQLite), Path: strings.TrimPrefix(raw, "sqlite://")}
	case strings.HasPrefix(raw, "file:"):
		return Config{Driver: string(DialectSQLite), Path: strings.TrimPrefix(raw, "file:")}
	default:
		return Config{Driver: string(DialectSQLite), Path: raw}
	}
}

// Open connects, verifies connectivity and applies migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*DB, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}

	var (
		db  *sqlx.DB
		err error
		d   Dialect
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		d = DialectSQLite
		db, err = openSQLite(cfg)
	case "postgres", "postgresql":
		d = DialectPostgres
		db, err = openPostgres(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrUnavailable, d, err)
	}

	s := &DB{DB: db, dialect: d, log: log.With(logx.String("comp", "storage"), logx.String("dialect", string(d)))}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("storage ready")
	return s, nil
}

func openSQLite(cfg Config) (*sqlx.DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")

	db, err := sqlx.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and makes a read transaction an
	// exclusive section.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func openPostgres(cfg Config) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	n := cfg.MaxOpenConns
	if n <= 0 {
		n = defaultPostgresPool
	}
	db.SetMaxOpenConns(n)
	db.SetMaxIdleConns(n)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (s *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + string(s.dialect) + ".sql")
	if err != nil {
		return err
	}
	_, err = s.ExecContext(ctx, string(b))
	return err
}

func (s *DB) Dialect() Dialect { return s.dialect }

// Close is safe on a nil DB.
func (s *DB) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
