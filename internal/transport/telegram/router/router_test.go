package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stickerbot/internal/backup"
	"stickerbot/internal/broadcast"
	"stickerbot/internal/eventbus"
	"stickerbot/internal/moderation"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	"stickerbot/internal/storage/storagetest"
	kit "stickerbot/internal/transport"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

const (
	owner = int64(100)
	admin = int64(200)
)

type sent struct {
	chat    int64
	text    string
	opt     *kit.SendOptions
	sticker string
	doc     string
}

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []sent
	edits    []string
	answers  []string
	fail     map[int64]error
	nextID   int
	menuSeen []kit.BotCommand
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{fail: map[int64]error{}} }

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.nextID++
	f.sent = append(f.sent, sent{chat: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) SendSticker(_ context.Context, to kit.ChatTarget, fileID string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to.ChatID, sticker: fileID})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendDocument(_ context.Context, to kit.ChatTarget, doc kit.Document, caption string) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chat: to.ChatID, doc: doc.Name, text: caption})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menuSeen = cmds
	return nil
}

// last returns the most recent text sent to chat.
func (f *fakeAdapter) last(chat int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chat == chat && f.sent[i].sticker == "" {
			return f.sent[i].text
		}
	}
	return ""
}

func (f *fakeAdapter) textsTo(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.chat == chat && s.sticker == "" && s.doc == "" {
			out = append(out, s.text)
		}
	}
	return out
}

func (f *fakeAdapter) stickersTo(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.chat == chat && s.sticker != "" {
			out = append(out, s.sticker)
		}
	}
	return out
}

type fixture struct {
	r        *Router
	ad       *fakeAdapter
	db       *storage.DB
	users    *users.Store
	stickers *stickers.Store
	mod      *moderation.Engine
	bc       *broadcast.Service
	backup   *backup.Service
	bus      eventbus.Bus
	fatal    []error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.Open(t)
	us := users.New(db, logx.Nop())
	st := stickers.New(db, logx.Nop())
	bus := eventbus.New()
	mod := moderation.New(us, moderation.NewAdminSet(owner, []int64{admin}), bus, db, logx.Nop())
	ad := newFakeAdapter()

	cfg := broadcast.DefaultConfig()
	cfg.RatePerSec = 1000
	cfg.RetryBase = time.Millisecond
	bc := broadcast.New(cfg, broadcast.Deps{
		Recipients: us, Auth: mod, Sender: ad, Store: broadcast.NewSQLStore(db), Audit: db, Bus: bus,
	}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		bc.Stop(sctx)
		cancel()
	})

	bk := backup.New(backup.Config{Dir: filepath.Join(t.TempDir(), "backups")}, db, us, st, bus, logx.Nop())

	f := &fixture{ad: ad, db: db, users: us, stickers: st, mod: mod, bc: bc, backup: bk, bus: bus}
	f.r = New(Deps{
		Adapter: ad, Moderation: mod, Users: us, Stickers: st, Broadcast: bc, Backup: bk, Bus: bus, Audit: db,
		Fatal: func(err error) { f.fatal = append(f.fatal, err) },
	}, Options{AppealContact: "@support", StartedAt: time.Now().Add(-time.Hour)}, logx.Nop())
	return f
}

func command(from int64, text string) kit.Update {
	fields := strings.Fields(text)
	return kit.Update{Kind: kit.UpdateCommand, Message: &kit.Message{
		ChatID: from, FromID: from, FromName: fmt.Sprintf("user%d", from), Text: text,
		Command: strings.TrimPrefix(fields[0], "/"), Args: fields[1:],
	}}
}

func sticker(from int64, fileID string, kind kit.MediaKind) kit.Update {
	return kit.Update{Kind: kit.UpdateMedia, Message: &kit.Message{
		ChatID: from, FromID: from, FromName: "sender",
		Media: &kit.Media{FileID: fileID, Kind: kind, Emoji: "😀"},
	}}
}

func callback(from int64, data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", FromID: from, ChatID: from, MessageID: 1, Data: data,
	}}
}

func (f *fixture) handle(t *testing.T, up kit.Update) {
	t.Helper()
	require.NoError(t, f.r.Handle(context.Background(), up))
}

func TestGateRecordsContactAndRejectsBanned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handle(t, command(5, "/id"))
	require.Equal(t, "Your ID: <code>5</code>", f.ad.last(5))
	rec, err := f.users.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "user5", rec.DisplayName)

	_, err = f.mod.Ban(ctx, 5, "spam", owner)
	require.NoError(t, err)

	f.handle(t, command(5, "/id"))
	require.Contains(t, f.ad.last(5), "You are banned")
	require.Contains(t, f.ad.last(5), "@support")

	f.handle(t, sticker(5, "file-x", kit.MediaStatic))
	list, err := f.stickers.List(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, list)

	f.handle(t, callback(5, "menu:profile"))
	require.Equal(t, []string{"You are banned"}, f.ad.answers)
}

func TestStickersSavedAndListed(t *testing.T) {
	f := newFixture(t)

	f.handle(t, command(7, "/mystickers"))
	require.Equal(t, msgNoStickers, f.ad.last(7))

	kinds := []kit.MediaKind{kit.MediaStatic, kit.MediaAnimated, kit.MediaVideo, kit.MediaStatic, kit.MediaStatic, kit.MediaAnimated}
	for i, k := range kinds {
		f.handle(t, sticker(7, fmt.Sprintf("f%d", i), k))
	}
	require.Equal(t, "✨ Cool animated sticker!", f.ad.last(7))

	f.handle(t, command(7, "/mystickers"))
	texts := f.ad.textsTo(7)
	summary := texts[len(texts)-1]
	require.Contains(t, summary, "Total Stickers: 6")
	require.Contains(t, summary, "✨ Animated: 2")
	require.Contains(t, summary, "🎥 Video: 1")
	require.Equal(t, []string{"f1", "f2", "f3", "f4", "f5"}, f.ad.stickersTo(7))
}

func TestAdminCommandsRequireAdmin(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{"/ban 1", "/unban 1", "/broadcast hi", "/users", "/banned", "/userinfo 1", "/backup", "/bcstatus", "/bccancel x", "/broadcasts", "/logs"} {
		f.handle(t, command(9, cmd))
		require.Equal(t, msgNotAuthorized, f.ad.last(9), cmd)
	}
}

func TestBanAndUnbanCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handle(t, command(5, "/start"))

	cases := []struct {
		text string
		want string
	}{
		{"/ban", "Usage: /ban &lt;user_id&gt; [reason]"},
		{"/ban abc", msgInvalidUserID},
		{"/ban 999", msgUserNotFound},
		{"/ban 100", "❌ This user cannot be banned."},
		{"/ban 5 flooding the chat", "✅ User 5 has been banned.\nReason: flooding the chat"},
		{"/ban 5", "⚠️ User 5 is already banned."},
		{"/unban 5", "✅ User 5 has been unbanned."},
		{"/unban 5", "ℹ️ User 5 is not banned."},
	}
	for _, tc := range cases {
		f.handle(t, command(admin, tc.text))
		require.Equal(t, tc.want, f.ad.last(admin), tc.text)
	}

	rec, err := f.users.Get(ctx, 5)
	require.NoError(t, err)
	require.True(t, rec.Eligible())

	f.handle(t, command(admin, "/ban 5"))
	rec, err = f.users.Get(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, moderation.DefaultBanReason, rec.BanReason)

	f.handle(t, command(owner, "/banned"))
	require.Contains(t, f.ad.last(owner), "<code>5</code>")

	f.handle(t, command(owner, "/userinfo 5"))
	require.Contains(t, f.ad.last(owner), "Banned: ✅ Yes")
}

func TestBroadcastConfirmFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		f.handle(t, command(id, "/start"))
	}
	_, err := f.mod.Ban(ctx, 3, "x", owner)
	require.NoError(t, err)

	f.handle(t, command(owner, "/broadcast hello\nsecond line"))
	f.ad.mu.Lock()
	confirm := f.ad.sent[len(f.ad.sent)-1]
	f.ad.mu.Unlock()
	require.Contains(t, confirm.text, "Broadcast Confirmation")
	require.Len(t, confirm.opt.Buttons, 1)
	data := confirm.opt.Buttons[0][0].Data
	require.True(t, strings.HasPrefix(data, "bc:confirm:"))
	require.LessOrEqual(t, len(data), 64)

	// Another admin cannot confirm someone else's broadcast.
	f.handle(t, callback(admin, data))
	require.Empty(t, f.ad.edits)
	require.Equal(t, 1, f.r.pending.size())

	f.handle(t, callback(owner, data))
	require.Equal(t, 0, f.r.pending.size())
	require.Contains(t, f.ad.edits[len(f.ad.edits)-1], msgBroadcasting)

	require.Eventually(t, func() bool {
		jobs, err := f.bc.Recent(ctx, 1)
		return err == nil && len(jobs) == 1 && jobs[0].Done()
	}, 5*time.Second, 10*time.Millisecond)

	for _, id := range []int64{1, 2} {
		require.Contains(t, f.ad.textsTo(id), "hello\nsecond line")
	}
	require.NotContains(t, f.ad.textsTo(3), "hello\nsecond line")

	// Payloads go out as plain text.
	f.ad.mu.Lock()
	for _, s := range f.ad.sent {
		if s.chat == 1 && s.text == "hello\nsecond line" {
			require.Empty(t, s.opt.ParseMode)
		}
	}
	f.ad.mu.Unlock()

	f.handle(t, command(owner, "/bcstatus"))
	require.Contains(t, f.ad.last(owner), "✅ completed")
	require.Contains(t, f.ad.last(owner), "Skipped (banned): 1")
}

func TestBroadcastDiscard(t *testing.T) {
	f := newFixture(t)
	f.handle(t, command(owner, "/broadcast hi"))
	f.ad.mu.Lock()
	discard := f.ad.sent[len(f.ad.sent)-1].opt.Buttons[0][1].Data
	f.ad.mu.Unlock()
	f.handle(t, callback(owner, discard))
	require.Equal(t, msgBcDiscarded, f.ad.edits[len(f.ad.edits)-1])
	require.Equal(t, 0, f.r.pending.size())

	f.handle(t, command(owner, "/broadcast"))
	require.Equal(t, "Usage: /broadcast &lt;message&gt;", f.ad.last(owner))
}

func TestBroadcastTooLongRejected(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("ж", kit.MaxMessageRunes+1)
	f.handle(t, command(owner, "/broadcast "+long))
	require.Contains(t, f.ad.last(owner), "too long")
	require.Equal(t, 0, f.r.pending.size())
}

func TestLogsCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.handle(t, command(owner, "/logs"))
	require.Equal(t, msgNoLogs, f.ad.last(owner))

	for _, id := range []int64{5, 6} {
		f.handle(t, command(id, "/start"))
	}
	_, err := f.mod.Ban(ctx, 5, "spam <links>", owner)
	require.NoError(t, err)
	_, err = f.mod.Unban(ctx, 5, admin)
	require.NoError(t, err)

	f.handle(t, command(owner, "/logs"))
	out := f.ad.last(owner)
	require.Contains(t, out, "(2)")
	require.Contains(t, out, "<b>ban</b> by <code>100</code> → <code>5</code>: spam &lt;links&gt;")
	require.Less(t, strings.Index(out, "<b>unban</b>"), strings.Index(out, "<b>ban</b>"))

	f.handle(t, command(owner, "/logs 1"))
	require.Contains(t, f.ad.last(owner), "(1)")
	require.NotContains(t, f.ad.last(owner), "<b>ban</b>")

	f.handle(t, command(owner, "/logs x"))
	require.Equal(t, "Usage: /logs [count]", f.ad.last(owner))
}

func TestPendingBroadcastsExpire(t *testing.T) {
	p := newPendingBroadcasts(time.Minute)
	now := time.Now()
	id := p.put("x", owner, now)
	_, err := p.take(id, admin, now)
	require.ErrorIs(t, err, errNotRequester)
	_, err = p.take(id, owner, now.Add(2*time.Minute))
	require.ErrorIs(t, err, errPendingExpired)

	id = p.put("y", owner, now)
	got, err := p.take(id, owner, now.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, "y", got)
	_, err = p.take(id, owner, now)
	require.ErrorIs(t, err, errPendingExpired)
}

func TestNotifyEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.r.notify(ctx, eventbus.Event{Type: eventbus.TypeUserBanned, Data: eventbus.UserBanned{UserID: 5, Reason: "<spam>", By: admin}})
	require.Contains(t, f.ad.last(5), "You have been banned!")
	require.Contains(t, f.ad.last(5), "&lt;spam&gt;")
	require.Contains(t, f.ad.last(5), "@support")

	f.r.notify(ctx, eventbus.Event{Type: eventbus.TypeUserUnbanned, Data: eventbus.UserUnbanned{UserID: 5, By: admin}})
	require.Contains(t, f.ad.last(5), "You have been unbanned!")

	f.r.notify(ctx, eventbus.Event{Type: eventbus.TypeBroadcastDone, Data: eventbus.BroadcastDone{JobID: "j", InitiatedBy: owner, Delivered: 3, Failed: 1}})
	require.Contains(t, f.ad.last(owner), "✅ Broadcast completed!\n\nSuccess: 3\nFailed: 1")

	f.ad.fail[6] = errors.New("blocked")
	f.r.notify(ctx, eventbus.Event{Type: eventbus.TypeUserBanned, Data: eventbus.UserBanned{UserID: 6, Reason: "r", By: admin}})
}

func TestBackupAndStatsCommands(t *testing.T) {
	f := newFixture(t)
	f.handle(t, command(owner, "/users"))
	require.Contains(t, f.ad.last(owner), "👥 Total Users: 1")
	require.Contains(t, f.ad.last(owner), "🔄 Last Backup: Never")

	f.handle(t, command(owner, "/backup"))
	f.ad.mu.Lock()
	doc := f.ad.sent[len(f.ad.sent)-1]
	f.ad.mu.Unlock()
	require.True(t, strings.HasPrefix(doc.doc, "backup_"))
	require.Contains(t, doc.text, "Database Backup")

	f.handle(t, command(owner, "/users"))
	require.NotContains(t, f.ad.last(owner), "Never")
}

func TestMenuCallbacksAndHelp(t *testing.T) {
	f := newFixture(t)

	f.handle(t, command(5, "/help"))
	require.NotContains(t, f.ad.last(5), "Admin Commands")
	f.handle(t, command(owner, "/help"))
	require.Contains(t, f.ad.last(owner), "Admin Commands")
	f.handle(t, command(owner, "/help ban"))
	require.Contains(t, f.ad.last(owner), "Admins only")

	f.handle(t, callback(5, "menu:admin"))
	require.Equal(t, msgAccessDenied, f.ad.edits[len(f.ad.edits)-1])
	f.handle(t, callback(5, "menu:stats"))
	require.Contains(t, f.ad.edits[len(f.ad.edits)-1], "Saved Stickers: 0")
	f.handle(t, callback(5, "nonsense"))
	require.Equal(t, "Unknown action", f.ad.answers[len(f.ad.answers)-1])

	f.handle(t, command(5, "/doesnotexist"))
	require.Equal(t, msgUnknown, f.ad.last(5))

	for _, c := range f.r.menuCommands() {
		require.NotEqual(t, "ban", c.Command)
	}
}

func TestMiddlewareEscalatesUnavailableStore(t *testing.T) {
	var got error
	h := Chain(func(context.Context, *Request) error {
		return fmt.Errorf("load: %w", storage.ErrUnavailable)
	}, MWEscalate(func(err error) { got = err }))
	err := h(context.Background(), &Request{})
	require.ErrorIs(t, err, storage.ErrUnavailable)
	require.ErrorIs(t, got, storage.ErrUnavailable)

	got = nil
	h = Chain(func(context.Context, *Request) error { return errors.New("other") }, MWEscalate(func(err error) { got = err }))
	require.Error(t, h(context.Background(), &Request{}))
	require.NoError(t, got)
}

func TestPanicRecoverReturnsError(t *testing.T) {
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	require.EqualError(t, h(context.Background(), &Request{}), "panic: boom")
}

func TestHelpers(t *testing.T) {
	require.Equal(t, "0:00:05", fmtUptime(5*time.Second))
	require.Equal(t, "1 day, 2:03:04", fmtUptime(26*time.Hour+3*time.Minute+4*time.Second))
	require.Equal(t, "3 days, 0:00:00", fmtUptime(72*time.Hour))

	req := &Request{Update: kit.Update{Message: &kit.Message{Text: "/broadcast@bot  line one\nline two "}}}
	require.Equal(t, "line one\nline two", req.Payload())
	req.Update.Message.Text = "/broadcast"
	require.Equal(t, "", req.Payload())

	ns, action, payload, ok := parseCallback("bc:confirm:abc:def")
	require.True(t, ok)
	require.Equal(t, []string{"bc", "confirm", "abc:def"}, []string{ns, action, payload})
	_, _, _, ok = parseCallback("menu")
	require.False(t, ok)

	require.Equal(t, "my_stickers", sanitizeCommand("My-Stickers"))
	require.Equal(t, "", sanitizeCommand("!!"))
}
