package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"stickerbot/internal/storage"
	"stickerbot/internal/storage/storagetest"
	logx "stickerbot/pkg/logx"
)

func TestConfigFromURL(t *testing.T) {
	cases := []struct {
		in     string
		driver string
		path   string
		dsn    string
	}{
		{"", "sqlite", "", ""},
		{"postgres://u:p@db/bot?sslmode=disable", "postgres", "", "postgres://u:p@db/bot?sslmode=disable"},
		{"postgresql://db/bot", "postgres", "", "postgresql://db/bot"},
		{"sqlite://./data/bot.db", "sqlite", "./data/bot.db", ""},
		{"file:/var/lib/bot.db", "sqlite", "/var/lib/bot.db", ""},
		{"bot.db", "sqlite", "bot.db", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := storage.ConfigFromURL(tc.in)
			if got.Driver != tc.driver || got.Path != tc.path || got.DSN != tc.dsn {
				t.Fatalf("ConfigFromURL(%q)=%+v", tc.in, got)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := storage.Open(context.Background(), storage.Config{Driver: "mysql"}, logx.Nop())
	require.Error(t, err)
}

func TestAuditAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, db.AppendAudit(ctx, storage.AuditEntry{
			ActorID: 100, Action: "ban", TargetID: int64(i), Detail: fmt.Sprintf("reason %d", i),
		}))
	}
	rows, err := db.RecentAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, int64(3), rows[0].TargetID)
	require.Equal(t, int64(2), rows[1].TargetID)
	require.False(t, rows[0].At.IsZero())
}

func TestReadTxPropagatesError(t *testing.T) {
	db := storagetest.Open(t)
	sentinel := errors.New("stop")
	err := db.ReadTx(context.Background(), func(tx *sqlx.Tx) error {
		var n int
		if err := tx.Get(&n, `SELECT COUNT(*) FROM users`); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	db, err := storage.Open(context.Background(), storage.Config{
		Path: filepath.Join(t.TempDir(), "closed.db"),
	}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.AppendAudit(context.Background(), storage.AuditEntry{ActorID: 1, Action: "x"})
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.True(t, storage.IsUnavailable(err))
	require.False(t, storage.IsUnavailable(errors.New("constraint failed")))
}
