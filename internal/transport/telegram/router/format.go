package router

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"stickerbot/internal/backup"
	"stickerbot/internal/broadcast"
	"stickerbot/internal/eventbus"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	kit "stickerbot/internal/transport"
	"stickerbot/internal/users"
)

const (
	msgNotAuthorized = "❌ You are not authorized to use this command!"
	msgInvalidUserID = "❌ Invalid user ID!"
	msgUserNotFound  = "❌ User not found in database!"
	msgUnknown       = "❓ Unknown command. Type /help to see all commands."
	msgNoStickers    = "📭 You haven't saved any stickers yet!\n\nSend me a sticker and I'll save it for you! 😊"
	msgNoBanned      = "✅ No users are currently banned."
	msgBackupFailed  = "❌ Failed to create backup!"
	msgJobNotFound   = "❌ Broadcast not found."
	msgNoJobs        = "📭 No broadcasts yet."
	msgBroadcasting  = "📢 Broadcasting message to all users..."
	msgBcDiscarded   = "❌ Broadcast cancelled."
	msgBcExpired     = "⌛ Broadcast confirmation expired. Send /broadcast again."
	msgAccessDenied  = "❌ Access denied!"
	msgNoLogs        = "📭 No admin actions recorded."
)

const (
	defaultLogCount = 20
	maxLogCount     = 50
)

const timeLayout = "2006-01-02 15:04"

func tooLongText(n int) string {
	return fmt.Sprintf("❌ Broadcast message is too long (%d characters, max %d). Shorten it and try again.", n, kit.MaxMessageRunes)
}

func esc(s string) string { return html.EscapeString(s) }

func fmtTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.In(loc).Format(timeLayout)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return esc(s)
}

func yesNo(b bool) string {
	if b {
		return "✅ Yes"
	}
	return "❌ No"
}

// fmtUptime renders d as "N days, H:MM:SS".
func fmtUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	clock := fmt.Sprintf("%d:%02d:%02d", h, m, s)
	switch days {
	case 0:
		return clock
	case 1:
		return "1 day, " + clock
	default:
		return strconv.Itoa(days) + " days, " + clock
	}
}

func welcomeText(m *kit.Message) string {
	uname := "No username"
	if m.FromUsername != "" {
		uname = "@" + esc(m.FromUsername)
	}
	name := m.FromName
	if name == "" {
		name = m.DisplayName()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Welcome <b>%s</b>! 🎉\n\n", esc(name))
	b.WriteString("📌 <b>Your Info:</b>\n")
	fmt.Fprintf(&b, "├ Username: %s\n", uname)
	fmt.Fprintf(&b, "└ ID: <code>%d</code>\n\n", m.FromID)
	b.WriteString("🌟 <b>Features:</b>\n")
	b.WriteString("• Sticker Collection\n")
	b.WriteString("• User Management\n")
	b.WriteString("• Admin Broadcasts\n\n")
	b.WriteString("Type /help to see all commands!")
	return b.String()
}

func welcomeButtons() [][]kit.Button {
	return [][]kit.Button{
		{{Text: "📊 Stats", Data: "menu:stats"}, {Text: "👤 Profile", Data: "menu:profile"}},
		{{Text: "🛠 Admin Panel", Data: "menu:admin"}},
		{{Text: "ℹ️ Help", Data: "menu:help"}},
	}
}

func profileText(u users.Record, sum stickers.Summary, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("👤 <b>User Profile</b>\n\n")
	fmt.Fprintf(&b, "<b>Name:</b> %s\n", orNA(u.DisplayName))
	fmt.Fprintf(&b, "<b>ID:</b> <code>%d</code>\n", u.UserID)
	fmt.Fprintf(&b, "<b>Join Date:</b> %s\n", fmtTime(u.JoinedAt, loc))
	fmt.Fprintf(&b, "<b>Messages:</b> %d\n", u.MessageCount)
	fmt.Fprintf(&b, "<b>Saved Stickers:</b> %d", sum.Total)
	return b.String()
}

func userStatsText(u users.Record, sum stickers.Summary, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("📊 <b>Your Statistics</b>\n\n")
	fmt.Fprintf(&b, "User ID: <code>%d</code>\n", u.UserID)
	fmt.Fprintf(&b, "Join Date: %s\n", fmtTime(u.JoinedAt, loc))
	fmt.Fprintf(&b, "Saved Stickers: %d", sum.Total)
	return b.String()
}

func userInfoText(u users.Record, sum stickers.Summary, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("👤 <b>Detailed User Information</b>\n\n")
	b.WriteString("<b>Basic Info:</b>\n")
	fmt.Fprintf(&b, "├ ID: <code>%d</code>\n", u.UserID)
	fmt.Fprintf(&b, "├ Name: %s\n", orNA(u.DisplayName))
	fmt.Fprintf(&b, "└ Join Date: %s\n\n", fmtTime(u.JoinedAt, loc))
	b.WriteString("<b>Status:</b>\n")
	fmt.Fprintf(&b, "├ Banned: %s\n", yesNo(u.IsBanned))
	if u.IsBanned {
		fmt.Fprintf(&b, "├ Ban Reason: %s\n", orNA(u.BanReason))
		fmt.Fprintf(&b, "├ Banned By: <code>%d</code>\n", u.BannedBy)
		fmt.Fprintf(&b, "└ Ban Date: %s\n\n", fmtTime(*u.BannedAt, loc))
	} else {
		b.WriteString("└ Ban Reason: N/A\n\n")
	}
	b.WriteString("<b>Statistics:</b>\n")
	fmt.Fprintf(&b, "├ Saved Stickers: %d (✨ %d, 🎥 %d)\n", sum.Total, sum.Animated, sum.Video)
	fmt.Fprintf(&b, "├ Messages: %d\n", u.MessageCount)
	fmt.Fprintf(&b, "└ Last Seen: %s", fmtTime(u.LastSeenAt, loc))
	return b.String()
}

func collectionText(sum stickers.Summary) string {
	var b strings.Builder
	b.WriteString("📊 <b>Your Sticker Collection</b>\n\n")
	fmt.Fprintf(&b, "Total Stickers: %d\n", sum.Total)
	fmt.Fprintf(&b, "✨ Animated: %d\n", sum.Animated)
	fmt.Fprintf(&b, "🎥 Video: %d\n\n", sum.Video)
	b.WriteString("Send any sticker to add it to your collection!")
	return b.String()
}

func botStatsText(st users.Stats, uptime time.Duration, last *backup.Info, loc *time.Location) string {
	lastBackup := "Never"
	if last != nil {
		lastBackup = fmtTime(last.CreatedAt, loc)
	}
	var b strings.Builder
	b.WriteString("📊 <b>Bot Statistics</b>\n\n")
	fmt.Fprintf(&b, "👥 Total Users: %d\n", st.Total)
	fmt.Fprintf(&b, "📈 Today's New Users: %d\n", st.JoinedToday)
	fmt.Fprintf(&b, "🚫 Banned Users: %d\n", st.Banned)
	fmt.Fprintf(&b, "📅 Bot Uptime: %s\n", fmtUptime(uptime))
	fmt.Fprintf(&b, "🔄 Last Backup: %s", lastBackup)
	return b.String()
}

func bannedListText(recs []users.Record) string {
	if len(recs) == 0 {
		return msgNoBanned
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚫 <b>Banned Users</b> (%d)\n", len(recs))
	for _, u := range recs {
		fmt.Fprintf(&b, "\n<b>ID:</b> <code>%d</code>\n<b>Reason:</b> %s\n", u.UserID, orNA(u.BanReason))
	}
	return strings.TrimRight(b.String(), "\n")
}

func auditText(entries []storage.AuditEntry, loc *time.Location) string {
	if len(entries) == 0 {
		return msgNoLogs
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 <b>Recent Admin Actions</b> (%d)\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n<code>%s</code> <b>%s</b> by <code>%d</code>", fmtTime(e.At, loc), esc(e.Action), e.ActorID)
		if e.TargetID != 0 {
			fmt.Fprintf(&b, " → <code>%d</code>", e.TargetID)
		}
		if e.Detail != "" {
			b.WriteString(": " + esc(e.Detail))
		}
	}
	return b.String()
}

func banNoticeText(reason string, by int64, appeal string) string {
	if appeal == "" {
		appeal = "the bot owner"
	}
	return fmt.Sprintf("🚫 <b>You have been banned!</b>\n\n❌ <b>Reason:</b> %s\n👮 <b>Admin ID:</b> <code>%d</code>\n\nIf you think this is a mistake, contact: %s",
		esc(reason), by, esc(appeal))
}

func unbanNoticeText(by int64) string {
	return fmt.Sprintf("✅ <b>You have been unbanned!</b>\n\nYou can now use the bot again.\n\n👮 <b>Admin ID:</b> <code>%d</code>", by)
}

func rejectedText(appeal string) string {
	if appeal == "" {
		return "🚫 You are banned from using this bot."
	}
	return "🚫 You are banned from using this bot.\n\nIf you think this is a mistake, contact: " + esc(appeal)
}

func confirmText(payload string) string {
	return "⚠️ <b>Broadcast Confirmation</b>\n\n<b>Message:</b>\n" + esc(payload) + "\n\nSend to all users?"
}

func confirmButtons(id string) [][]kit.Button {
	return [][]kit.Button{{
		{Text: "✅ Confirm", Data: "bc:confirm:" + id},
		{Text: "❌ Cancel", Data: "bc:discard:" + id},
	}}
}

func startedText(j broadcast.Job) string {
	return fmt.Sprintf("%s\n\nJob: <code>%s</code>\nTargets: %d\nSkipped (banned): %d",
		msgBroadcasting, j.ID, j.Counts.Targets, j.Counts.SkippedBanned)
}

func jobState(j broadcast.Job) string {
	switch {
	case !j.Done() && j.CancelRequested:
		return "🛑 stopping"
	case !j.Done():
		return "⏳ running"
	case j.CancelRequested || j.Counts.Cancelled > 0:
		return "🛑 cancelled"
	default:
		return "✅ completed"
	}
}

func jobText(j broadcast.Job, loc *time.Location) string {
	c := j.Counts
	var b strings.Builder
	b.WriteString("📢 <b>Broadcast Status</b>\n\n")
	fmt.Fprintf(&b, "Job: <code>%s</code>\n", j.ID)
	fmt.Fprintf(&b, "State: %s\n", jobState(j))
	fmt.Fprintf(&b, "Started: %s by <code>%d</code>\n", fmtTime(j.InitiatedAt, loc), j.InitiatedBy)
	if j.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished: %s\n", fmtTime(*j.CompletedAt, loc))
	}
	fmt.Fprintf(&b, "\nTargets: %d\nDelivered: %d\nFailed: %d\nCancelled: %d\nPending: %d\nSkipped (banned): %d",
		c.Targets, c.Delivered, c.Failed, c.Cancelled, c.Pending(), c.SkippedBanned)
	return b.String()
}

func jobListText(jobs []broadcast.Job, loc *time.Location) string {
	if len(jobs) == 0 {
		return msgNoJobs
	}
	var b strings.Builder
	b.WriteString("📢 <b>Recent Broadcasts</b>\n")
	for _, j := range jobs {
		fmt.Fprintf(&b, "\n<code>%s</code>\n%s · %s · %d/%d delivered, %d failed\n",
			j.ID, fmtTime(j.InitiatedAt, loc), jobState(j), j.Counts.Delivered, j.Counts.Targets, j.Counts.Failed)
	}
	return strings.TrimRight(b.String(), "\n")
}

func broadcastDoneText(ev eventbus.BroadcastDone) string {
	head := "✅ Broadcast completed!"
	if ev.Cancelled > 0 {
		head = "🛑 Broadcast stopped."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\nSuccess: %d\nFailed: %d", head, ev.Delivered, ev.Failed)
	if ev.Cancelled > 0 {
		fmt.Fprintf(&b, "\nCancelled: %d", ev.Cancelled)
	}
	if ev.Skipped > 0 {
		fmt.Fprintf(&b, "\nSkipped (banned): %d", ev.Skipped)
	}
	fmt.Fprintf(&b, "\nTook: %s\n\nJob: <code>%s</code>", ev.Took.Truncate(time.Second), ev.JobID)
	return b.String()
}

func stickerAck(kind stickers.Kind) string {
	switch kind {
	case stickers.KindAnimated:
		return "✨ Cool animated sticker!"
	case stickers.KindVideo:
		return "🎥 Nice video sticker!"
	default:
		return "👍 Nice sticker!"
	}
}

func adminPanelText() string {
	return "🛠 <b>Admin Panel</b>\n\nCommands:\n" +
		"/ban - Ban a user\n" +
		"/unban - Unban a user\n" +
		"/broadcast - Send message to all users\n" +
		"/bcstatus - Broadcast progress\n" +
		"/users - View statistics\n" +
		"/banned - List banned users\n" +
		"/backup - Get database backup\n" +
		"/userinfo - Get user details"
}
