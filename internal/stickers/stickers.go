// Package stickers stores the stickers each user has saved.
package stickers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"stickerbot/internal/storage"
	logx "stickerbot/pkg/logx"
)

// ErrUnknownOwner is returned by Add when the owner has no user record.
var ErrUnknownOwner = errors.New("sticker owner not registered")

type Kind string

const (
	KindStatic   Kind = "static"
	KindAnimated Kind = "animated"
	KindVideo    Kind = "video"
)

func (k Kind) Valid() bool {
	switch k {
	case KindStatic, KindAnimated, KindVideo:
		return true
	}
	return false
}

// Entry is one saved sticker. MediaRef is the transport file id used to resend it.
type Entry struct {
	ID       int64
	OwnerID  int64
	MediaRef string
	Kind     Kind
	Emoji    string
	SavedAt  time.Time
}

// Summary counts a user's collection per kind.
type Summary struct {
	Total    int
	Animated int
	Video    int
}

const columns = `id, owner_id, media_ref, kind, emoji, saved_at`

type row struct {
	ID       int64  `db:"id"`
	OwnerID  int64  `db:"owner_id"`
	MediaRef string `db:"media_ref"`
	Kind     string `db:"kind"`
	Emoji    string `db:"emoji"`
	SavedAt  int64  `db:"saved_at"`
}

func (r row) entry() Entry {
	return Entry{
		ID:       r.ID,
		OwnerID:  r.OwnerID,
		MediaRef: r.MediaRef,
		Kind:     Kind(r.Kind),
		Emoji:    r.Emoji,
		SavedAt:  storage.FromMillis(r.SavedAt),
	}
}

// Store is append-only per owner.
type Store struct {
	db  *storage.DB
	log logx.Logger
	now func() time.Time
}

func New(db *storage.DB, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log.With(logx.String("comp", "stickers")), now: time.Now}
}

// Add appends a sticker. The owner check and the insert are one statement.
func (s *Store) Add(ctx context.Context, ownerID int64, mediaRef string, kind Kind, emoji string) (Entry, error) {
	if mediaRef == "" {
		return Entry{}, errors.New("stickers: empty media ref")
	}
	if !kind.Valid() {
		return Entry{}, fmt.Errorf("stickers: invalid kind %q", kind)
	}
	savedAt := storage.Millis(s.now())

	var r row
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO stickers(owner_id, media_ref, kind, emoji, saved_at)
		SELECT CAST(? AS BIGINT), ?, ?, ?, CAST(? AS BIGINT)
		WHERE EXISTS (SELECT 1 FROM users WHERE user_id = ?)
		RETURNING `+columns),
		ownerID, mediaRef, string(kind), emoji, savedAt, ownerID,
	).StructScan(&r)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrUnknownOwner
	}
	if err != nil {
		return Entry{}, storage.Classify(fmt.Errorf("add sticker for %d: %w", ownerID, err))
	}
	s.log.Debug("sticker saved", logx.Int64("owner_id", ownerID), logx.String("kind", string(kind)))
	return r.entry(), nil
}

// List returns the owner's stickers oldest first; empty (not nil) when none.
func (s *Store) List(ctx context.Context, ownerID int64) ([]Entry, error) {
	return list(ctx, s.db, `SELECT `+columns+` FROM stickers WHERE owner_id = ? ORDER BY id`, ownerID)
}

// Snapshot returns every sticker on q, ordered by id.
func (s *Store) Snapshot(ctx context.Context, q sqlx.ExtContext) ([]Entry, error) {
	return list(ctx, q, `SELECT `+columns+` FROM stickers ORDER BY id`)
}

func list(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]Entry, error) {
	var rows []row
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, storage.Classify(fmt.Errorf("list stickers: %w", err))
	}
	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	return out, nil
}

func (s *Store) Summary(ctx context.Context, ownerID int64) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0)
		FROM stickers WHERE owner_id = ?`),
		string(KindAnimated), string(KindVideo), ownerID,
	).Scan(&sum.Total, &sum.Animated, &sum.Video)
	if err != nil {
		return Summary{}, storage.Classify(fmt.Errorf("sticker summary for %d: %w", ownerID, err))
	}
	return sum, nil
}

// Import inserts entries verbatim, keeping their ids. Owners must exist.
func (s *Store) Import(ctx context.Context, q sqlx.ExtContext, entries []Entry) error {
	query := q.Rebind(`INSERT INTO stickers(` + columns + `) VALUES(?, ?, ?, ?, ?, ?)`)
	for _, e := range entries {
		_, err := q.ExecContext(ctx, query, e.ID, e.OwnerID, e.MediaRef, string(e.Kind), e.Emoji, storage.Millis(e.SavedAt))
		if err != nil {
			return storage.Classify(fmt.Errorf("import sticker %d: %w", e.ID, err))
		}
	}
	if s.db.Dialect() == storage.DialectPostgres && len(entries) > 0 {
		// Explicit ids leave the sequence behind.
		_, err := q.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('stickers', 'id'), (SELECT MAX(id) FROM stickers))`)
		if err != nil {
			return storage.Classify(fmt.Errorf("reset sticker sequence: %w", err))
		}
	}
	return nil
}
