package moderation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stickerbot/internal/eventbus"
	"stickerbot/internal/moderation"
	"stickerbot/internal/storage"
	"stickerbot/internal/storage/storagetest"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

const owner = 100

type fixture struct {
	db     *storage.DB
	users  *users.Store
	engine *moderation.Engine
	events <-chan eventbus.Event
}

func newFixture(t *testing.T, ids ...int64) fixture {
	t.Helper()
	db := storagetest.Open(t)
	us := users.New(db, logx.Nop())
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(16)
	t.Cleanup(unsub)

	eng := moderation.New(us, moderation.NewAdminSet(owner, []int64{200}), bus, db, logx.Nop())
	for _, id := range ids {
		_, err := us.UpsertOnContact(context.Background(), users.Contact{UserID: id})
		require.NoError(t, err)
	}
	return fixture{db: db, users: us, engine: eng, events: ch}
}

func TestAdminSet(t *testing.T) {
	a := moderation.NewAdminSet(100, []int64{300, 200, 0, 200})
	require.True(t, a.IsAdmin(100))
	require.True(t, a.IsOwner(100))
	require.True(t, a.IsAdmin(200))
	require.False(t, a.IsOwner(200))
	require.False(t, a.IsAdmin(1))
	require.False(t, a.IsAdmin(0))
	require.Equal(t, []int64{100, 200, 300}, a.IDs())
}

func TestBanThenUnbanRestoresEligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	ok, err := f.engine.IsEligible(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	rec, err := f.engine.Ban(ctx, 2, "spam", owner)
	require.NoError(t, err)
	require.True(t, rec.IsBanned)
	require.Equal(t, "spam", rec.BanReason)

	ok, err = f.engine.IsEligible(ctx, 2)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.engine.Unban(ctx, 2, 200)
	require.NoError(t, err)

	ok, err = f.engine.IsEligible(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	e := <-f.events
	require.Equal(t, eventbus.TypeUserBanned, e.Type)
	require.Equal(t, "spam", e.Data.(eventbus.UserBanned).Reason)
	e = <-f.events
	require.Equal(t, eventbus.TypeUserUnbanned, e.Type)

	audit, err := f.db.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	require.Equal(t, "unban", audit[0].Action)
	require.Equal(t, "ban", audit[1].Action)
	require.Equal(t, int64(2), audit[1].TargetID)
}

func TestBanTwiceKeepsOriginalBan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	first, err := f.engine.Ban(ctx, 2, "spam", owner)
	require.NoError(t, err)

	_, err = f.engine.Ban(ctx, 2, "other", 200)
	require.ErrorIs(t, err, moderation.ErrAlreadyBanned)

	rec, err := f.users.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "spam", rec.BanReason)
	require.True(t, rec.BannedAt.Equal(*first.BannedAt))
	require.Equal(t, int64(owner), rec.BannedBy)
}

func TestBanErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, 3)

	cases := []struct {
		name    string
		user    int64
		actor   int64
		wantErr error
	}{
		{"non-admin", 2, 3, moderation.ErrForbidden},
		{"owner target", owner, 200, moderation.ErrForbidden},
		{"unknown user", 999, owner, users.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Ban(ctx, tc.user, "x", tc.actor)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}

	_, err := f.engine.Unban(ctx, 3, owner)
	require.ErrorIs(t, err, moderation.ErrNotBanned)
	_, err = f.engine.Unban(ctx, 3, 2)
	require.ErrorIs(t, err, moderation.ErrForbidden)
}

func TestBanDefaultReason(t *testing.T) {
	f := newFixture(t, 5)
	rec, err := f.engine.Ban(context.Background(), 5, "   ", owner)
	require.NoError(t, err)
	require.Equal(t, moderation.DefaultBanReason, rec.BanReason)
}

func TestGateRejectsBannedWithoutCounting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.Gate(ctx, users.Contact{UserID: 7, DisplayName: "Eve"})
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, int64(1), d.User.MessageCount)

	_, err = f.engine.Ban(ctx, 7, "flood", owner)
	require.NoError(t, err)

	later := time.Now().Add(time.Minute)
	d, err = f.engine.Gate(ctx, users.Contact{UserID: 7, DisplayName: "Eve", At: later})
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, int64(1), d.User.MessageCount)
	require.Equal(t, later.UnixMilli(), d.User.LastSeenAt.UnixMilli())
}
