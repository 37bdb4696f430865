package users

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

// Store is the durable user registry. Every mutation is a single SQL
// statement, so concurrent contacts for one user never lose increments.
type Store struct {
	db  *storage.DB
	log logx.Logger
	now func() time.Time
}

func New(db *storage.DB, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log.With(logx.String("comp", "users")), now: time.Now}
}

// UpsertOnContact creates the record on first contact or refreshes it.
// Active users get last_seen_at, display_name and message_count updated;
// banned users only get last_seen_at.
func (s *Store) UpsertOnContact(ctx context.Context, c Contact) (Record, error) {
	if c.UserID == 0 {
		return Record{}, errors.New("users: contact without user id")
	}
	at := c.At
	if at.IsZero() {
		at = s.now()
	}
	ms := storage.Millis(at)

	var r row
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		INSERT INTO users(user_id, display_name, joined_at, last_seen_at, message_count)
		VALUES(?, ?, ?, ?, 1)
		ON CONFLICT(user_id) DO UPDATE SET
			last_seen_at = excluded.last_seen_at,
			display_name = CASE WHEN users.is_banned OR excluded.display_name = ''
				THEN users.display_name ELSE excluded.display_name END,
			message_count = CASE WHEN users.is_banned
				THEN users.message_count ELSE users.message_count + 1 END
		RETURNING `+columns),
		c.UserID, c.DisplayName, ms, ms,
	).StructScan(&r)
	if err != nil {
		return Record{}, storage.Classify(fmt.Errorf("upsert user %d: %w", c.UserID, err))
	}
	return r.record(), nil
}

func (s *Store) Get(ctx context.Context, userID int64) (Record, error) {
	return get(ctx, s.db, userID)
}

func get(ctx context.Context, q sqlx.ExtContext, userID int64) (Record, error) {
	var r row
	err := sqlx.GetContext(ctx, q, &r, q.Rebind(`SELECT `+columns+` FROM users WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, storage.Classify(fmt.Errorf("get user %d: %w", userID, err))
	}
	return r.record(), nil
}

// ListAll returns every user in insertion order.
func (s *Store) ListAll(ctx context.Context) ([]Record, error) {
	return s.Snapshot(ctx, s.db)
}

// Snapshot is ListAll on an explicit queryer, typically a read transaction.
func (s *Store) Snapshot(ctx context.Context, q sqlx.ExtContext) ([]Record, error) {
	return list(ctx, q, `SELECT `+columns+` FROM users ORDER BY seq`)
}

// ListBanned returns banned users, oldest ban first.
func (s *Store) ListBanned(ctx context.Context) ([]Record, error) {
	return list(ctx, s.db, `SELECT `+columns+` FROM users WHERE is_banned = ? ORDER BY banned_at, seq`, true)
}

func list(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]Record, error) {
	var rows []row
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, storage.Classify(fmt.Errorf("list users: %w", err))
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, storage.Classify(fmt.Errorf("count users: %w", err))
	}
	return n, nil
}

// Stats counts all users, users that joined since the start of now's UTC day,
// and banned users.
func (s *Store) Stats(ctx context.Context, now time.Time) (Stats, error) {
	y, m, d := now.UTC().Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var st Stats
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN joined_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_banned THEN 1 ELSE 0 END), 0)
		FROM users`), storage.Millis(dayStart),
	).Scan(&st.Total, &st.JoinedToday, &st.Banned)
	if err != nil {
		return Stats{}, storage.Classify(fmt.Errorf("user stats: %w", err))
	}
	return st, nil
}

// SetBanned moves an active user to banned. It fails with ErrNotFound for
// unknown ids and ErrStateConflict when the user is already banned; the
// existing ban fields are left untouched in both cases.
func (s *Store) SetBanned(ctx context.Context, userID int64, reason string, by int64, at time.Time) (Record, error) {
	if reason == "" {
		return Record{}, errors.New("users: ban requires a reason")
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.transition(ctx, userID, `
		UPDATE users SET is_banned = ?, ban_reason = ?, banned_at = ?, banned_by = ?
		WHERE user_id = ? AND is_banned = ?
		RETURNING `+columns,
		true, reason, storage.Millis(at), nullInt(by), userID, false)
}

// ClearBan moves a banned user back to active.
func (s *Store) ClearBan(ctx context.Context, userID int64) (Record, error) {
	return s.transition(ctx, userID, `
		UPDATE users SET is_banned = ?, ban_reason = NULL, banned_at = NULL, banned_by = NULL
		WHERE user_id = ? AND is_banned = ?
		RETURNING `+columns,
		false, userID, true)
}

func (s *Store) transition(ctx context.Context, userID int64, query string, args ...any) (Record, error) {
	var r row
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).StructScan(&r)
	if err == nil {
		return r.record(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, storage.Classify(fmt.Errorf("update ban state of %d: %w", userID, err))
	}
	// No row matched: either the user is unknown or already in the target state.
	if _, gerr := s.Get(ctx, userID); gerr != nil {
		return Record{}, gerr
	}
	return Record{}, ErrStateConflict
}

// Import inserts records verbatim, in order. Used by restore on an empty store.
func (s *Store) Import(ctx context.Context, q sqlx.ExtContext, recs []Record) error {
	query := q.Rebind(`INSERT INTO users(` + columns + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, r := range recs {
		_, err := q.ExecContext(ctx, query,
			r.UserID, r.DisplayName, storage.Millis(r.JoinedAt), storage.Millis(r.LastSeenAt),
			r.MessageCount, r.IsBanned, nullString(r.BanReason), nullMillis(r.BannedAt), nullInt(r.BannedBy),
		)
		if err != nil {
			return storage.Classify(fmt.Errorf("import user %d: %w", r.UserID, err))
		}
	}
	s.log.Info("users imported", logx.Int("count", len(recs)))
	return nil
}
