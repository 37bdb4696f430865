package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stickerbot/internal/stickers"
	"stickerbot/internal/users"
)

const (
	// FormatName identifies stickerbot snapshots.
	FormatName = "stickerbot.snapshot"
	// FormatVersion is bumped on incompatible field changes only.
	FormatVersion = 1
)

var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Snapshot is the export document. Field names are part of the format.
type Snapshot struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Users      []User    `json:"users"`
	Stickers   []Sticker `json:"stickers"`
}

type User struct {
	UserID       int64      `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	JoinedAt     time.Time  `json:"joined_at"`
	LastSeenAt   time.Time  `json:"last_seen_at"`
	MessageCount int64      `json:"message_count"`
	IsBanned     bool       `json:"is_banned"`
	BanReason    string     `json:"ban_reason,omitempty"`
	BannedAt     *time.Time `json:"banned_at,omitempty"`
	BannedBy     int64      `json:"banned_by,omitempty"`
}

type Sticker struct {
	ID       int64     `json:"id"`
	OwnerID  int64     `json:"owner_id"`
	MediaRef string    `json:"media_ref"`
	Kind     string    `json:"media_kind"`
	Emoji    string    `json:"emoji,omitempty"`
	SavedAt  time.Time `json:"saved_at"`
}

func fromRecord(r users.Record) User {
	return User{
		UserID:       r.UserID,
		DisplayName:  r.DisplayName,
		JoinedAt:     r.JoinedAt,
		LastSeenAt:   r.LastSeenAt,
		MessageCount: r.MessageCount,
		IsBanned:     r.IsBanned,
		BanReason:    r.BanReason,
		BannedAt:     r.BannedAt,
		BannedBy:     r.BannedBy,
	}
}

func (u User) record() users.Record {
	return users.Record{
		UserID:       u.UserID,
		DisplayName:  u.DisplayName,
		JoinedAt:     u.JoinedAt,
		LastSeenAt:   u.LastSeenAt,
		MessageCount: u.MessageCount,
		IsBanned:     u.IsBanned,
		BanReason:    u.BanReason,
		BannedAt:     u.BannedAt,
		BannedBy:     u.BannedBy,
	}
}

func fromEntry(e stickers.Entry) Sticker {
	return Sticker{ID: e.ID, OwnerID: e.OwnerID, MediaRef: e.MediaRef, Kind: string(e.Kind), Emoji: e.Emoji, SavedAt: e.SavedAt}
}

func (s Sticker) entry() stickers.Entry {
	return stickers.Entry{ID: s.ID, OwnerID: s.OwnerID, MediaRef: s.MediaRef, Kind: stickers.Kind(s.Kind), Emoji: s.Emoji, SavedAt: s.SavedAt}
}

// Load decodes and validates an exported blob.
func Load(blob []byte) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(blob))
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Validate checks the header, ban invariants and referential integrity.
func (s Snapshot) Validate() error {
	if s.Format != FormatName {
		return fmt.Errorf("%w: format %q", ErrInvalidSnapshot, s.Format)
	}
	if s.Version < 1 || s.Version > FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidSnapshot, s.Version)
	}
	ids := make(map[int64]struct{}, len(s.Users))
	for _, u := range s.Users {
		if u.UserID == 0 {
			return fmt.Errorf("%w: user without id", ErrInvalidSnapshot)
		}
		if _, dup := ids[u.UserID]; dup {
			return fmt.Errorf("%w: duplicate user %d", ErrInvalidSnapshot, u.UserID)
		}
		if u.IsBanned != (u.BanReason != "" && u.BannedAt != nil) {
			return fmt.Errorf("%w: inconsistent ban state for user %d", ErrInvalidSnapshot, u.UserID)
		}
		ids[u.UserID] = struct{}{}
	}
	for _, st := range s.Stickers {
		if _, ok := ids[st.OwnerID]; !ok {
			return fmt.Errorf("%w: sticker %d references unknown user %d", ErrInvalidSnapshot, st.ID, st.OwnerID)
		}
		if !stickers.Kind(st.Kind).Valid() {
			return fmt.Errorf("%w: sticker %d has kind %q", ErrInvalidSnapshot, st.ID, st.Kind)
		}
	}
	return nil
}
