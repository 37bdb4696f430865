package users

import (
	"database/sql"
	"errors"
	"time"

	"stickerbot/internal/storage"
)

var (
	ErrNotFound = errors.New("user not found")
	// ErrStateConflict is returned by SetBanned/ClearBan when the user is
	// already in the requested ban state. Nothing is written in that case.
	ErrStateConflict = errors.New("user already in requested ban state")
)

// Record is one user known to the bot.
//
// IsBanned is true exactly when BanReason is non-empty and BannedAt is set.
type Record struct {
	UserID       int64
	DisplayName  string
	JoinedAt     time.Time
	LastSeenAt   time.Time
	MessageCount int64
	IsBanned     bool
	BanReason    string
	BannedAt     *time.Time
	BannedBy     int64 // 0 when not banned
}

// Eligible reports whether the user may be served (moderation state ACTIVE).
func (r Record) Eligible() bool { return !r.IsBanned }

// Contact is one inbound interaction.
type Contact struct {
	UserID      int64
	DisplayName string
	At          time.Time // zero means now
}

// Stats summarises the user table.
type Stats struct {
	Total       int
	JoinedToday int
	Banned      int
}

const columns = `user_id, display_name, joined_at, last_seen_at, message_count, is_banned, ban_reason, banned_at, banned_by`

type row struct {
	UserID       int64          `db:"user_id"`
	DisplayName  string         `db:"display_name"`
	JoinedAt     int64          `db:"joined_at"`
	LastSeenAt   int64          `db:"last_seen_at"`
	MessageCount int64          `db:"message_count"`
	IsBanned     bool           `db:"is_banned"`
	BanReason    sql.NullString `db:"ban_reason"`
	BannedAt     sql.NullInt64  `db:"banned_at"`
	BannedBy     sql.NullInt64  `db:"banned_by"`
}

func (r row) record() Record {
	out := Record{
		UserID:       r.UserID,
		DisplayName:  r.DisplayName,
		JoinedAt:     storage.FromMillis(r.JoinedAt),
		LastSeenAt:   storage.FromMillis(r.LastSeenAt),
		MessageCount: r.MessageCount,
		IsBanned:     r.IsBanned,
		BanReason:    r.BanReason.String,
		BannedBy:     r.BannedBy.Int64,
	}
	if r.BannedAt.Valid {
		t := storage.FromMillis(r.BannedAt.Int64)
		out.BannedAt = &t
	}
	return out
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: storage.Millis(*t), Valid: true}
}

func nullInt(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: v != 0} }
