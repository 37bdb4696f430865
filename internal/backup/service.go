package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/robfig/cron/v3"

	"stickerbot/internal/eventbus"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

var (
	// ErrExportFailed wraps storage failures during export. Callers may retry.
	ErrExportFailed = errors.New("export failed")
	// ErrNotEmpty is returned by Restore when the store already holds data.
	ErrNotEmpty = errors.New("restore target is not empty")
)

type Config struct {
	Dir        string // default ./backups
	MaxBackups int    // files kept after rotation, default 10
	Schedule   string // cron spec; empty disables scheduled backups
	Timezone   string // schedule location, default Local
}

// Info describes one written backup file.
type Info struct {
	Path      string
	Size      int64
	CreatedAt time.Time
	Users     int
	Stickers  int
}

// Service exports and restores the user and sticker stores.
type Service struct {
	cfg      Config
	db       *storage.DB
	users    *users.Store
	stickers *stickers.Store
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	writeMu sync.Mutex // serialises WriteBackup (file names have second resolution)

	mu   sync.Mutex
	cron *cron.Cron
}

func New(cfg Config, db *storage.DB, us *users.Store, st *stickers.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "./backups"
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 10
	}
	return &Service{
		cfg:      cfg,
		db:       db,
		users:    us,
		stickers: st,
		bus:      bus,
		log:      log.With(logx.String("comp", "backup")),
		now:      time.Now,
	}
}

// ExportSnapshot serialises users and stickers read at one consistency point.
// It never writes.
func (s *Service) ExportSnapshot(ctx context.Context) ([]byte, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrExportFailed, err)
	}
	return b, nil
}

func (s *Service) snapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Format: FormatName, Version: FormatVersion, ExportedAt: s.now().UTC()}
	err := s.db.ReadTx(ctx, func(tx *sqlx.Tx) error {
		us, err := s.users.Snapshot(ctx, tx)
		if err != nil {
			return err
		}
		st, err := s.stickers.Snapshot(ctx, tx)
		if err != nil {
			return err
		}
		snap.Users = make([]User, 0, len(us))
		for _, u := range us {
			snap.Users = append(snap.Users, fromRecord(u))
		}
		snap.Stickers = make([]Sticker, 0, len(st))
		for _, e := range st {
			snap.Stickers = append(snap.Stickers, fromEntry(e))
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return snap, nil
}

// Restore imports snap into an empty store in one transaction.
func (s *Service) Restore(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	err := s.db.WriteTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, `SELECT (SELECT COUNT(*) FROM users) + (SELECT COUNT(*) FROM stickers)`); err != nil {
			return storage.Classify(err)
		}
		if n > 0 {
			return ErrNotEmpty
		}
		recs := make([]users.Record, 0, len(snap.Users))
		for _, u := range snap.Users {
			recs = append(recs, u.record())
		}
		if err := s.users.Import(ctx, tx, recs); err != nil {
			return err
		}
		entries := make([]stickers.Entry, 0, len(snap.Stickers))
		for _, st := range snap.Stickers {
			entries = append(entries, st.entry())
		}
		return s.stickers.Import(ctx, tx, entries)
	})
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	s.log.Info("snapshot restored", logx.Int("users", len(snap.Users)), logx.Int("stickers", len(snap.Stickers)))
	return nil
}

// WriteBackup exports into Dir/backup_YYYYMMDD_HHMMSS.json, records the file
// and removes the oldest files beyond MaxBackups.
func (s *Service) WriteBackup(ctx context.Context) (Info, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := s.snapshot(ctx)
	if err != nil {
		return Info{}, err
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("%w: encode: %v", ErrExportFailed, err)
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return Info{}, fmt.Errorf("backup dir: %w", err)
	}

	now := s.now()
	name := "backup_" + now.Format("20060102_150405") + ".json"
	path := filepath.Join(s.cfg.Dir, name)
	if err := writeFileAtomic(path, b); err != nil {
		return Info{}, err
	}

	info := Info{Path: path, Size: int64(len(b)), CreatedAt: now, Users: len(snap.Users), Stickers: len(snap.Stickers)}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO backups(filename, size_bytes, created_at) VALUES(?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET size_bytes = excluded.size_bytes, created_at = excluded.created_at`),
		name, info.Size, storage.Millis(now))
	if err != nil {
		return Info{}, storage.Classify(fmt.Errorf("record backup: %w", err))
	}
	if err := s.rotate(ctx); err != nil {
		s.log.Warn("backup rotation failed", logx.Err(err))
	}

	s.log.Info("backup written", logx.String("path", path), logx.Int64("size", info.Size), logx.Int("users", info.Users))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeBackupWritten, Data: eventbus.BackupWritten{Path: path, Size: info.Size, Users: info.Users}})
	}
	return info, nil
}

func (s *Service) rotate(ctx context.Context) error {
	var old []struct {
		ID       int64  `db:"id"`
		Filename string `db:"filename"`
	}
	// sqlite needs a LIMIT before OFFSET; -1 means unbounded.
	query := `SELECT id, filename FROM backups ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?`
	if s.db.Dialect() == storage.DialectPostgres {
		query = `SELECT id, filename FROM backups ORDER BY created_at DESC, id DESC OFFSET ?`
	}
	err := s.db.SelectContext(ctx, &old, s.db.Rebind(query), s.cfg.MaxBackups)
	if err != nil {
		return storage.Classify(err)
	}
	for _, o := range old {
		if err := os.Remove(filepath.Join(s.cfg.Dir, o.Filename)); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove old backup failed", logx.String("file", o.Filename), logx.Err(err))
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM backups WHERE id = ?`), o.ID); err != nil {
			return storage.Classify(err)
		}
		s.log.Debug("old backup removed", logx.String("file", o.Filename))
	}
	return nil
}

// LastBackup returns the newest recorded backup; ok is false when none exists.
func (s *Service) LastBackup(ctx context.Context) (info Info, ok bool, err error) {
	var r struct {
		Filename  string `db:"filename"`
		Size      int64  `db:"size_bytes"`
		CreatedAt int64  `db:"created_at"`
	}
	err = s.db.GetContext(ctx, &r, `SELECT filename, size_bytes, created_at FROM backups ORDER BY created_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, storage.Classify(fmt.Errorf("last backup: %w", err))
	}
	return Info{Path: filepath.Join(s.cfg.Dir, r.Filename), Size: r.Size, CreatedAt: storage.FromMillis(r.CreatedAt)}, true, nil
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".backup-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
