package backup

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stickerbot/internal/eventbus"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	"stickerbot/internal/storage/storagetest"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

type env struct {
	db       *storage.DB
	users    *users.Store
	stickers *stickers.Store
	svc      *Service
}

func newEnv(t *testing.T, cfg Config, bus eventbus.Bus) env {
	t.Helper()
	db := storagetest.Open(t)
	us := users.New(db, logx.Nop())
	st := stickers.New(db, logx.Nop())
	return env{db: db, users: us, stickers: st, svc: New(cfg, db, us, st, bus, logx.Nop())}
}

func seed(t *testing.T, e env) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []int64{5, 2, 9} {
		_, err := e.users.UpsertOnContact(ctx, users.Contact{UserID: id, DisplayName: "user", At: at.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}
	_, err := e.users.SetBanned(ctx, 2, "spam", 1, at.Add(time.Hour))
	require.NoError(t, err)
	_, err = e.stickers.Add(ctx, 5, "file-a", stickers.KindStatic, "🙂")
	require.NoError(t, err)
	_, err = e.stickers.Add(ctx, 9, "file-b", stickers.KindVideo, "")
	require.NoError(t, err)
	_, err = e.stickers.Add(ctx, 5, "file-c", stickers.KindAnimated, "")
	require.NoError(t, err)
}

func TestExportRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newEnv(t, Config{}, nil)
	seed(t, src)

	blob, err := src.svc.ExportSnapshot(ctx)
	require.NoError(t, err)

	snap, err := Load(blob)
	require.NoError(t, err)
	require.Equal(t, FormatName, snap.Format)
	require.Equal(t, FormatVersion, snap.Version)
	require.Len(t, snap.Users, 3)
	require.Len(t, snap.Stickers, 3)

	dst := newEnv(t, Config{}, nil)
	require.NoError(t, dst.svc.Restore(ctx, snap))

	want, err := src.users.ListAll(ctx)
	require.NoError(t, err)
	got, err := dst.users.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	for _, id := range []int64{5, 9, 2} {
		w, err := src.stickers.List(ctx, id)
		require.NoError(t, err)
		g, err := dst.stickers.List(ctx, id)
		require.NoError(t, err)
		require.Equal(t, w, g)
	}

	// New inserts after a restore continue past the imported ids.
	e, err := dst.stickers.Add(ctx, 9, "file-d", stickers.KindStatic, "")
	require.NoError(t, err)
	require.Greater(t, e.ID, snap.Stickers[len(snap.Stickers)-1].ID)
}

func TestRestoreRejectsNonEmptyStore(t *testing.T) {
	ctx := context.Background()
	src := newEnv(t, Config{}, nil)
	seed(t, src)
	blob, err := src.svc.ExportSnapshot(ctx)
	require.NoError(t, err)
	snap, err := Load(blob)
	require.NoError(t, err)

	err = src.svc.Restore(ctx, snap)
	require.ErrorIs(t, err, ErrNotEmpty)
}

func TestExportEmptyStore(t *testing.T) {
	e := newEnv(t, Config{}, nil)
	blob, err := e.svc.ExportSnapshot(context.Background())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(blob, &raw))
	require.JSONEq(t, `[]`, string(raw["users"]))
	require.JSONEq(t, `[]`, string(raw["stickers"]))
}

func TestExportFailsOnClosedStore(t *testing.T) {
	e := newEnv(t, Config{}, nil)
	require.NoError(t, e.db.Close())

	_, err := e.svc.ExportSnapshot(context.Background())
	require.ErrorIs(t, err, ErrExportFailed)
}

func TestLoadValidation(t *testing.T) {
	banned := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := func() Snapshot {
		return Snapshot{
			Format:  FormatName,
			Version: FormatVersion,
			Users: []User{
				{UserID: 1, DisplayName: "a"},
				{UserID: 2, DisplayName: "b", IsBanned: true, BanReason: "spam", BannedAt: &banned},
			},
			Stickers: []Sticker{{ID: 1, OwnerID: 1, MediaRef: "x", Kind: "static"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"wrong format", func(s *Snapshot) { s.Format = "other" }},
		{"future version", func(s *Snapshot) { s.Version = FormatVersion + 1 }},
		{"duplicate user", func(s *Snapshot) { s.Users = append(s.Users, User{UserID: 1}) }},
		{"orphan sticker", func(s *Snapshot) { s.Stickers[0].OwnerID = 42 }},
		{"bad kind", func(s *Snapshot) { s.Stickers[0].Kind = "gif" }},
		{"ban without reason", func(s *Snapshot) { s.Users[1].BanReason = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := base()
			tc.mutate(&s)
			blob, err := json.Marshal(s)
			require.NoError(t, err)
			_, err = Load(blob)
			require.ErrorIs(t, err, ErrInvalidSnapshot)
		})
	}

	blob, err := json.Marshal(base())
	require.NoError(t, err)
	_, err = Load(blob)
	require.NoError(t, err)

	_, err = Load([]byte("{not json"))
	require.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestWriteBackupRotates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bus := eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()

	e := newEnv(t, Config{Dir: dir, MaxBackups: 2}, bus)
	seed(t, e)

	_, ok, err := e.svc.LastBackup(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	clock := time.Date(2026, 4, 1, 12, 0, 0, 0, time.Local)
	var last Info
	for i := 0; i < 3; i++ {
		e.svc.now = func() time.Time { return clock.Add(time.Duration(i) * time.Minute) }
		last, err = e.svc.WriteBackup(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, last.Users)
	}
	require.True(t, strings.HasPrefix(filepath.Base(last.Path), "backup_20260401_1202"))

	files, err := filepath.Glob(filepath.Join(dir, "backup_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	_, err = os.Stat(filepath.Join(dir, "backup_20260401_120000.json"))
	require.True(t, errors.Is(err, os.ErrNotExist))

	got, ok, err := e.svc.LastBackup(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, last.Path, got.Path)
	require.Equal(t, last.Size, got.Size)

	blob, err := os.ReadFile(last.Path)
	require.NoError(t, err)
	_, err = Load(blob)
	require.NoError(t, err)

	select {
	case ev := <-sub:
		require.Equal(t, eventbus.TypeBackupWritten, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no backup event")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	e := newEnv(t, Config{Dir: t.TempDir(), Schedule: "not a cron"}, nil)
	require.Error(t, e.svc.Start(context.Background()))

	ok := newEnv(t, Config{Dir: t.TempDir(), Schedule: "@daily"}, nil)
	require.NoError(t, ok.svc.Start(context.Background()))
	ok.svc.Stop(context.Background())
}
