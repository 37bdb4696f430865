package adapter

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "stickerbot/internal/transport"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  kit.ErrorKind
		after time.Duration
	}{
		{"blocked", fmt.Errorf("telebot: %w", tele.ErrBlockedByUser), kit.Permanent, 0},
		{"deactivated", tele.ErrUserIsDeactivated, kit.Permanent, 0},
		{"chat not found", tele.ErrChatNotFound, kit.Permanent, 0},
		{"forbidden code", &tele.Error{Code: 403, Description: "Forbidden: something new"}, kit.Permanent, 0},
		{"server error", &tele.Error{Code: 502, Description: "Bad Gateway"}, kit.Transient, 0},
		{"flood text", errors.New("telegram: retry after 7 (429)"), kit.Transient, 7 * time.Second},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, kit.Transient, 0},
		{"phrase fallback", errors.New("telegram: Forbidden: bot was kicked from the group chat (403)"), kit.Permanent, 0},
		{"unknown", errors.New("boom"), kit.Transient, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err)
			var se *kit.SendError
			if !errors.As(err, &se) {
				t.Fatalf("classify returned %T", err)
			}
			if se.Kind != tc.kind {
				t.Fatalf("kind=%s want %s", se.Kind, tc.kind)
			}
			if se.RetryAfter != tc.after {
				t.Fatalf("retry after=%s want %s", se.RetryAfter, tc.after)
			}
			if !errors.Is(err, tc.err) {
				t.Fatal("original error lost")
			}
		})
	}
	if classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestMessageUpdate(t *testing.T) {
	from := &tele.User{ID: 7, FirstName: "Ada", LastName: "L", Username: "ada"}
	priv := &tele.Chat{ID: 7, Type: tele.ChatPrivate}

	up, ok := messageUpdate(&tele.Message{ID: 1, Sender: from, Chat: priv, Text: "/Ban@StickerBot 12  spam here"})
	if !ok || up.Kind != kit.UpdateCommand {
		t.Fatalf("got %+v ok=%v", up, ok)
	}
	if up.Message.Command != "ban" || strings.Join(up.Message.Args, "|") != "12|spam|here" {
		t.Fatalf("command=%q args=%v", up.Message.Command, up.Message.Args)
	}
	if up.Message.FromName != "Ada L" || up.Sender() != 7 {
		t.Fatalf("sender mapping: %+v", up.Message)
	}

	st := &tele.Sticker{File: tele.File{FileID: "f1", UniqueID: "u1"}, Animated: true, Emoji: "🔥"}
	up, ok = messageUpdate(&tele.Message{ID: 2, Sender: from, Chat: priv, Sticker: st})
	if !ok || up.Kind != kit.UpdateMedia || up.Message.Media.Kind != kit.MediaAnimated || up.Message.Media.FileID != "f1" {
		t.Fatalf("sticker mapping: %+v", up)
	}

	up, ok = messageUpdate(&tele.Message{ID: 3, Sender: from, Chat: &tele.Chat{ID: -5, Type: tele.ChatSuperGroup}, Text: "hello"})
	if !ok || up.Kind != kit.UpdateText || !up.Message.IsGroup {
		t.Fatalf("text mapping: %+v", up)
	}

	if _, ok := messageUpdate(&tele.Message{ID: 4, Chat: priv, Text: "x"}); ok {
		t.Fatal("message without sender must be ignored")
	}
}

func TestCallbackUpdate(t *testing.T) {
	cb := &tele.Callback{
		ID:      "cb1",
		Sender:  &tele.User{ID: 9},
		Message: &tele.Message{ID: 44, Chat: &tele.Chat{ID: 9}},
		Data:    "bc:confirm",
	}
	up, ok := callbackUpdate(cb)
	if !ok || up.Kind != kit.UpdateCallback {
		t.Fatalf("got %+v", up)
	}
	if up.Callback.MessageID != 44 || up.Callback.Data != "bc:confirm" || up.Sender() != 9 {
		t.Fatalf("callback mapping: %+v", up.Callback)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		name string
		ok   bool
	}{
		{"/start", "start", true},
		{"  /help@bot", "help", true},
		{"/", "", false},
		{"/@bot", "", false},
		{"hello /start", "", false},
	}
	for _, tc := range tests {
		name, _, ok := parseCommand(tc.in)
		if name != tc.name || ok != tc.ok {
			t.Errorf("parseCommand(%q)=%q,%v want %q,%v", tc.in, name, ok, tc.name, tc.ok)
		}
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %v", got)
	}
	long := strings.Repeat("line of text\n", 50)
	parts := splitText(long, 100, "")
	for _, p := range parts {
		if len([]rune(p)) > 100 {
			t.Fatalf("chunk too long: %d", len([]rune(p)))
		}
	}
	if strings.Join(parts, "\n") != strings.TrimRight(long, "\n") {
		t.Fatal("content lost while splitting")
	}

	html := strings.Repeat("a", 98) + "<b>bold</b>"
	parts = splitText(html, 100, "HTML")
	if !strings.HasPrefix(parts[1], "<b>") {
		t.Fatalf("tag was split: %q", parts)
	}
}

func TestFloodErrorRetryAfter(t *testing.T) {
	// Error() of a FloodError built outside telebot dereferences a nil inner
	// error, so only the structured field may be read here.
	err := tele.FloodError{RetryAfter: 7}
	if got := kindOf(err); got != kit.Transient {
		t.Fatalf("kind=%v, want transient", got)
	}
	if got := retryAfter(err); got != 7*time.Second {
		t.Fatalf("retryAfter=%v, want 7s", got)
	}
	if got := retryAfter(errors.New("telegram: retry after 3 (429)")); got != 3*time.Second {
		t.Fatalf("text fallback retryAfter=%v, want 3s", got)
	}
}
