package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"stickerbot/internal/backup"
	"stickerbot/internal/broadcast"
	"stickerbot/internal/moderation"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	kit "stickerbot/internal/transport"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdmin
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	FromName string
	Command  string
	Args     []string
	ReqID    string

	// User is the caller's record as returned by the gate.
	User users.Record

	Adapter kit.Adapter
	Logger  logx.Logger
}

func (req *Request) log(fallback logx.Logger) logx.Logger {
	if !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

// Reply sends HTML text to the chat the request came from.
func (req *Request) Reply(ctx context.Context, text string) error {
	return req.ReplyWith(ctx, text, nil)
}

func (req *Request) ReplyWith(ctx context.Context, text string, buttons [][]kit.Button) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        buttons,
	})
	return err
}

// Payload is the raw message text after the command token, line breaks kept.
func (req *Request) Payload() string {
	if req.Update.Message == nil {
		return ""
	}
	text := strings.TrimLeftFunc(req.Update.Message.Text, unicode.IsSpace)
	i := strings.IndexFunc(text, unicode.IsSpace)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(text[i:])
}

func (r *Router) register(cmds []Command) {
	r.cmds = make(map[string]Command, len(cmds))
	r.order = r.order[:0]
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || name != c.Name || c.Handle == nil {
			r.log.Warn("command skipped", logx.String("name", c.Name))
			continue
		}
		if _, dup := r.cmds[name]; dup {
			continue
		}
		r.cmds[name] = c
		r.order = append(r.order, name)
	}
}

// Commands returns the registered commands in table order.
func (r *Router) Commands() []Command {
	out := make([]Command, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.cmds[n])
	}
	return out
}

func (r *Router) withAccess(cmd Command) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if cmd.Access == AccessAdmin && !r.deps.Moderation.IsAdmin(req.FromID) {
			req.log(r.log).Info("admin command rejected", logx.String("cmd", cmd.Name))
			return req.Reply(ctx, msgNotAuthorized)
		}
		return cmd.Handle(ctx, req)
	}
}

func (r *Router) commandTable() []Command {
	return []Command{
		{Name: "start", Description: "Start the bot", Usage: "/start", Handle: r.cmdStart},
		{Name: "help", Description: "Show this help message", Usage: "/help [command]", Handle: r.cmdHelp},
		{Name: "id", Description: "Get your user ID", Usage: "/id", Handle: r.cmdID},
		{Name: "profile", Description: "View your profile", Usage: "/profile", Handle: r.cmdProfile},
		{Name: "mystickers", Description: "See your saved stickers", Usage: "/mystickers", Handle: r.cmdMyStickers},

		{Name: "ban", Description: "Ban a user", Usage: "/ban <user_id> [reason]", Access: AccessAdmin, Handle: r.cmdBan},
		{Name: "unban", Description: "Unban a user", Usage: "/unban <user_id>", Access: AccessAdmin, Handle: r.cmdUnban},
		{Name: "broadcast", Description: "Broadcast message to all users", Usage: "/broadcast <message>", Access: AccessAdmin, Handle: r.cmdBroadcast},
		{Name: "bcstatus", Description: "Show broadcast progress", Usage: "/bcstatus [job_id]", Access: AccessAdmin, Handle: r.cmdBCStatus},
		{Name: "bccancel", Description: "Stop a running broadcast", Usage: "/bccancel <job_id>", Access: AccessAdmin, Handle: r.cmdBCCancel},
		{Name: "broadcasts", Description: "List recent broadcasts", Usage: "/broadcasts", Access: AccessAdmin, Handle: r.cmdBroadcasts},
		{Name: "users", Description: "Get bot statistics", Usage: "/users", Access: AccessAdmin, Handle: r.cmdUsers},
		{Name: "banned", Description: "List banned users", Usage: "/banned", Access: AccessAdmin, Handle: r.cmdBanned},
		{Name: "userinfo", Description: "Get user information", Usage: "/userinfo <user_id>", Access: AccessAdmin, Handle: r.cmdUserInfo},
		{Name: "logs", Description: "Show recent admin actions", Usage: "/logs [count]", Access: AccessAdmin, Handle: r.cmdLogs},
		{Name: "backup", Description: "Get database backup", Usage: "/backup", Access: AccessAdmin, Timeout: 2 * time.Minute, Handle: r.cmdBackup},
	}
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	m := req.Update.Message
	if m.IsGroup {
		return req.Reply(ctx, fmt.Sprintf("👋 Hello %s! I'm alive and working in this group!", esc(req.FromName)))
	}
	return req.ReplyWith(ctx, welcomeText(m), welcomeButtons())
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	admin := r.deps.Moderation.IsAdmin(req.FromID)
	if len(req.Args) > 0 {
		if text, ok := r.commandHelp(req.Args[0], admin); ok {
			return req.Reply(ctx, text)
		}
	}
	return req.Reply(ctx, r.helpText(admin))
}

func (r *Router) cmdID(ctx context.Context, req *Request) error {
	return req.Reply(ctx, fmt.Sprintf("Your ID: <code>%d</code>", req.FromID))
}

func (r *Router) cmdProfile(ctx context.Context, req *Request) error {
	sum, err := r.deps.Stickers.Summary(ctx, req.FromID)
	if err != nil {
		return err
	}
	return req.Reply(ctx, profileText(req.User, sum, r.opt.Location))
}

const recentStickers = 5

func (r *Router) cmdMyStickers(ctx context.Context, req *Request) error {
	sum, err := r.deps.Stickers.Summary(ctx, req.FromID)
	if err != nil {
		return err
	}
	if sum.Total == 0 {
		return req.Reply(ctx, msgNoStickers)
	}
	if err := req.Reply(ctx, collectionText(sum)); err != nil {
		return err
	}
	all, err := r.deps.Stickers.List(ctx, req.FromID)
	if err != nil {
		return err
	}
	if len(all) > recentStickers {
		all = all[len(all)-recentStickers:]
	}
	for _, e := range all {
		if _, err := req.Adapter.SendSticker(ctx, req.Chat, e.MediaRef); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			req.log(r.log).Debug("resend sticker failed", logx.Int64("sticker", e.ID), logx.Err(err))
		}
	}
	return nil
}

// targetID parses the first argument as a user id. ok is false when a reply
// has already been sent.
func (r *Router) targetID(ctx context.Context, req *Request, usage string) (int64, bool, error) {
	if len(req.Args) == 0 {
		return 0, false, req.Reply(ctx, "Usage: "+esc(usage))
	}
	id, err := strconv.ParseInt(req.Args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false, req.Reply(ctx, msgInvalidUserID)
	}
	return id, true, nil
}

func (r *Router) cmdBan(ctx context.Context, req *Request) error {
	id, ok, err := r.targetID(ctx, req, "/ban <user_id> [reason]")
	if !ok {
		return err
	}
	reason := strings.Join(req.Args[1:], " ")
	rec, err := r.deps.Moderation.Ban(ctx, id, reason, req.FromID)
	switch {
	case errors.Is(err, moderation.ErrForbidden):
		return req.Reply(ctx, "❌ This user cannot be banned.")
	case errors.Is(err, users.ErrNotFound):
		return req.Reply(ctx, msgUserNotFound)
	case errors.Is(err, moderation.ErrAlreadyBanned):
		return req.Reply(ctx, fmt.Sprintf("⚠️ User %d is already banned.", id))
	case err != nil:
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ User %d has been banned.\nReason: %s", id, esc(rec.BanReason)))
}

func (r *Router) cmdUnban(ctx context.Context, req *Request) error {
	id, ok, err := r.targetID(ctx, req, "/unban <user_id>")
	if !ok {
		return err
	}
	_, err = r.deps.Moderation.Unban(ctx, id, req.FromID)
	switch {
	case errors.Is(err, moderation.ErrForbidden):
		return req.Reply(ctx, msgNotAuthorized)
	case errors.Is(err, users.ErrNotFound):
		return req.Reply(ctx, msgUserNotFound)
	case errors.Is(err, moderation.ErrNotBanned):
		return req.Reply(ctx, fmt.Sprintf("ℹ️ User %d is not banned.", id))
	case err != nil:
		return err
	}
	return req.Reply(ctx, fmt.Sprintf("✅ User %d has been unbanned.", id))
}

// cmdBroadcast asks for confirmation; delivery starts from the callback.
func (r *Router) cmdBroadcast(ctx context.Context, req *Request) error {
	payload := req.Payload()
	if payload == "" {
		return req.Reply(ctx, "Usage: "+esc("/broadcast <message>"))
	}
	if n := utf8.RuneCountInString(payload); n > kit.MaxMessageRunes {
		return req.Reply(ctx, tooLongText(n))
	}
	id := r.pending.put(payload, req.FromID, r.now())
	return req.ReplyWith(ctx, confirmText(payload), confirmButtons(id))
}

func (r *Router) cmdBCStatus(ctx context.Context, req *Request) error {
	var (
		job broadcast.Job
		err error
	)
	if len(req.Args) > 0 {
		job, err = r.deps.Broadcast.JobStatus(ctx, req.Args[0])
	} else {
		var recent []broadcast.Job
		recent, err = r.deps.Broadcast.Recent(ctx, 1)
		if err == nil && len(recent) == 0 {
			return req.Reply(ctx, msgNoJobs)
		}
		if err == nil {
			job = recent[0]
		}
	}
	if errors.Is(err, broadcast.ErrJobNotFound) {
		return req.Reply(ctx, msgJobNotFound)
	}
	if err != nil {
		return err
	}
	return req.ReplyWith(ctx, jobText(job, r.opt.Location), stopButtons(job))
}

func stopButtons(j broadcast.Job) [][]kit.Button {
	if j.Done() || j.CancelRequested {
		return nil
	}
	return [][]kit.Button{{{Text: "🛑 Stop", Data: "bc:stop:" + j.ID}}}
}

func (r *Router) cmdBCCancel(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx, "Usage: "+esc("/bccancel <job_id>"))
	}
	text, err := r.cancelJob(ctx, req.Args[0], req.FromID)
	if err != nil {
		return err
	}
	return req.Reply(ctx, text)
}

// cancelJob returns the reply for a cancel request.
func (r *Router) cancelJob(ctx context.Context, id string, by int64) (string, error) {
	job, err := r.deps.Broadcast.Cancel(ctx, id, by)
	switch {
	case errors.Is(err, broadcast.ErrJobNotFound):
		return msgJobNotFound, nil
	case errors.Is(err, broadcast.ErrJobFinished):
		return "ℹ️ Broadcast already finished.", nil
	case errors.Is(err, moderation.ErrForbidden):
		return msgNotAuthorized, nil
	case err != nil:
		return "", err
	}
	return fmt.Sprintf("🛑 Stop requested for broadcast <code>%s</code>.\nSends already in flight will finish.\n\nDelivered so far: %d/%d",
		job.ID, job.Counts.Delivered, job.Counts.Targets), nil
}

func (r *Router) cmdLogs(ctx context.Context, req *Request) error {
	if r.deps.Audit == nil {
		return req.Reply(ctx, msgNoLogs)
	}
	n := defaultLogCount
	if len(req.Args) > 0 {
		v, err := strconv.Atoi(req.Args[0])
		if err != nil || v <= 0 {
			return req.Reply(ctx, "Usage: "+esc("/logs [count]"))
		}
		n = min(v, maxLogCount)
	}
	entries, err := r.deps.Audit.RecentAudit(ctx, n)
	if err != nil {
		return err
	}
	return req.Reply(ctx, auditText(entries, r.opt.Location))
}

func (r *Router) cmdBroadcasts(ctx context.Context, req *Request) error {
	jobs, err := r.deps.Broadcast.Recent(ctx, 10)
	if err != nil {
		return err
	}
	return req.Reply(ctx, jobListText(jobs, r.opt.Location))
}

func (r *Router) cmdUsers(ctx context.Context, req *Request) error {
	now := r.now()
	st, err := r.deps.Users.Stats(ctx, now)
	if err != nil {
		return err
	}
	var last *backup.Info
	if r.deps.Backup != nil {
		info, ok, err := r.deps.Backup.LastBackup(ctx)
		if err != nil {
			return err
		}
		if ok {
			last = &info
		}
	}
	return req.Reply(ctx, botStatsText(st, now.Sub(r.opt.StartedAt), last, r.opt.Location))
}

func (r *Router) cmdBanned(ctx context.Context, req *Request) error {
	recs, err := r.deps.Users.ListBanned(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, bannedListText(recs))
}

func (r *Router) cmdUserInfo(ctx context.Context, req *Request) error {
	id, ok, err := r.targetID(ctx, req, "/userinfo <user_id>")
	if !ok {
		return err
	}
	rec, err := r.deps.Users.Get(ctx, id)
	if errors.Is(err, users.ErrNotFound) {
		return req.Reply(ctx, msgUserNotFound)
	}
	if err != nil {
		return err
	}
	sum, err := r.deps.Stickers.Summary(ctx, id)
	if err != nil {
		return err
	}
	return req.Reply(ctx, userInfoText(rec, sum, r.opt.Location))
}

func (r *Router) cmdBackup(ctx context.Context, req *Request) error {
	if r.deps.Backup == nil {
		return req.Reply(ctx, msgBackupFailed)
	}
	info, err := r.deps.Backup.WriteBackup(ctx)
	if err != nil {
		if storage.IsUnavailable(err) {
			return err
		}
		req.log(r.log).Error("backup failed", logx.Err(err))
		return req.Reply(ctx, msgBackupFailed)
	}
	data, err := os.ReadFile(info.Path)
	if err != nil {
		req.log(r.log).Error("read backup failed", logx.String("path", info.Path), logx.Err(err))
		return req.Reply(ctx, msgBackupFailed)
	}
	caption := fmt.Sprintf("📦 <b>Database Backup</b>\n\nUsers: %d\nStickers: %d\nCreated: %s",
		info.Users, info.Stickers, fmtTime(info.CreatedAt, r.opt.Location))
	_, err = req.Adapter.SendDocument(ctx, req.Chat, kit.Document{Name: filepath.Base(info.Path), Data: data}, caption)
	return err
}

func (r *Router) handleUnknown(ctx context.Context, req *Request) error {
	if req.Update.Message.IsGroup {
		return nil
	}
	return req.Reply(ctx, msgUnknown)
}

// handleText only records the contact; the gate already did that.
func (r *Router) handleText(context.Context, *Request) error { return nil }

func (r *Router) handleMedia(ctx context.Context, req *Request) error {
	m := req.Update.Message.Media
	if m == nil || m.FileID == "" {
		return nil
	}
	kind := stickers.Kind(m.Kind)
	if !kind.Valid() {
		kind = stickers.KindStatic
	}
	e, err := r.deps.Stickers.Add(ctx, req.FromID, m.FileID, kind, m.Emoji)
	if err != nil {
		return err
	}
	req.log(r.log).Debug("sticker saved", logx.Int64("sticker", e.ID), logx.String("kind", string(kind)))
	if req.Update.Message.IsGroup {
		return nil
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, stickerAck(kind), nil)
	return err
}
