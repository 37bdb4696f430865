package transport

import "context"

// MaxMessageRunes is the longest text an Adapter sends as a single message.
// Longer text is split across several messages.
const MaxMessageRunes = 4000

// UpdateKind tags an inbound Update. Exactly one payload field is set per kind.
type UpdateKind string

const (
	UpdateCommand  UpdateKind = "command"
	UpdateText     UpdateKind = "text"
	UpdateMedia    UpdateKind = "media"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message  // command, text and media updates
	Callback *Callback // callback updates
}

// Sender returns the id of the user that produced the update (0 if unknown).
func (u Update) Sender() int64 {
	switch {
	case u.Message != nil:
		return u.Message.FromID
	case u.Callback != nil:
		return u.Callback.FromID
	}
	return 0
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string // first + last name as shown to other users
	Text         string
	IsGroup      bool

	// Command is set for UpdateCommand, without the leading slash or @bot suffix.
	Command string
	Args    []string

	// Media is set for UpdateMedia.
	Media *Media
}

// DisplayName prefers the visible name and falls back to @username.
func (m *Message) DisplayName() string {
	if m == nil {
		return ""
	}
	if m.FromName != "" {
		return m.FromName
	}
	if m.FromUsername != "" {
		return "@" + m.FromUsername
	}
	return ""
}

type MediaKind string

const (
	MediaStatic   MediaKind = "static"
	MediaAnimated MediaKind = "animated"
	MediaVideo    MediaKind = "video"
)

// Media is an inbound sticker. FileID is the opaque reference used to resend it.
type Media struct {
	FileID   string
	UniqueID string
	Kind     MediaKind
	Emoji    string
	SetName  string
}

type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is an inline keyboard button; Data is returned verbatim in Callback.Data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        [][]Button // inline keyboard rows
}

// Document is an outbound file attachment.
type Document struct {
	Name string
	Data []byte
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendSticker(ctx context.Context, to ChatTarget, fileID string) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, doc Document, caption string) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
