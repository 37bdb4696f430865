package router

import (
	"strings"
)

// helpText renders the command table in HTML parse mode. Admin commands are
// listed only for admins.
func (r *Router) helpText(admin bool) string {
	var user, adm []string
	for _, c := range r.Commands() {
		line := "/" + c.Name + " - " + esc(c.Description)
		if c.Access == AccessAdmin {
			adm = append(adm, esc(c.Usage)+" - "+esc(c.Description))
			continue
		}
		user = append(user, line)
	}

	lines := []string{"🤖 <b>Bot Commands Menu</b> 🤖", "", "<b>User Commands:</b>"}
	lines = append(lines, user...)
	if admin && len(adm) > 0 {
		lines = append(lines, "", "<b>Admin Commands:</b>")
		lines = append(lines, adm...)
	}
	lines = append(lines,
		"",
		"<b>Sticker Features:</b>",
		"• Send any sticker and I'll save it",
		"• Use /mystickers to see your saved stickers",
		"• Animated and video stickers work too!",
	)
	return strings.Join(lines, "\n")
}

// commandHelp renders one command; ok is false for unknown or hidden ones.
func (r *Router) commandHelp(name string, admin bool) (string, bool) {
	c, ok := r.cmds[strings.TrimPrefix(strings.ToLower(name), "/")]
	if !ok || (c.Access == AccessAdmin && !admin) {
		return "", false
	}
	lines := []string{
		"<b>/" + c.Name + "</b>",
		esc(c.Description),
		"",
		"Usage: <code>" + esc(c.Usage) + "</code>",
	}
	if c.Access == AccessAdmin {
		lines = append(lines, "🔒 Admins only")
	}
	return strings.Join(lines, "\n"), true
}
