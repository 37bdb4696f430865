package adapter

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "stickerbot/internal/transport"
)

// messageUpdate maps a telebot message onto a transport update. Messages
// without a sender (channel posts) are ignored.
func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		FromName:     strings.TrimSpace(m.Sender.FirstName + " " + m.Sender.LastName),
		Text:         m.Text,
		IsGroup:      m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}

	if st := m.Sticker; st != nil {
		kind := kit.MediaStatic
		switch {
		case st.Video:
			kind = kit.MediaVideo
		case st.Animated:
			kind = kit.MediaAnimated
		}
		msg.Media = &kit.Media{
			FileID:   st.FileID,
			UniqueID: st.UniqueID,
			Kind:     kind,
			Emoji:    st.Emoji,
			SetName:  st.SetName,
		}
		return kit.Update{Kind: kit.UpdateMedia, Message: msg}, true
	}

	if cmd, args, ok := parseCommand(m.Text); ok {
		msg.Command = cmd
		msg.Args = args
		return kit.Update{Kind: kit.UpdateCommand, Message: msg}, true
	}
	if m.Text == "" {
		return kit.Update{}, false
	}
	return kit.Update{Kind: kit.UpdateText, Message: msg}, true
}

func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Sender == nil {
		return kit.Update{}, false
	}
	c := &kit.Callback{
		ID:       cb.ID,
		FromID:   cb.Sender.ID,
		FromName: strings.TrimSpace(cb.Sender.FirstName + " " + cb.Sender.LastName),
		Data:     cb.Data,
	}
	if m := cb.Message; m != nil && m.Chat != nil {
		c.ChatID = m.Chat.ID
		c.ThreadID = m.ThreadID
		c.MessageID = m.ID
	}
	return kit.Update{Kind: kit.UpdateCallback, Callback: c}, true
}

// parseCommand splits "/name@bot arg1 arg2" into a lower-case name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name := fields[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
