package adapter

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "stickerbot/internal/transport"
)

var retryAfterRx = regexp.MustCompile(`(?i)retry after (\d+)`)

// permanentPhrases covers API descriptions that never change on retry but are
// not exported as telebot sentinels.
var permanentPhrases = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"user not found",
	"bot can't initiate conversation",
	"bot was kicked",
	"peer_id_invalid",
}

// classify wraps a telebot error into a *kit.SendError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *kit.SendError
	if errors.As(err, &se) {
		return err
	}
	return &kit.SendError{Kind: kindOf(err), RetryAfter: retryAfter(err), Err: err}
}

func kindOf(err error) kit.ErrorKind {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return kit.Transient
	}
	switch {
	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrChatNotFound):
		return kit.Permanent
	}

	var te *tele.Error
	if errors.As(err, &te) {
		switch {
		case te.Code == 429 || te.Code >= 500:
			return kit.Transient
		case te.Code == 400 || te.Code == 403:
			return kit.Permanent
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return kit.Transient
	}

	msg := strings.ToLower(err.Error())
	if retryAfterRx.MatchString(msg) {
		return kit.Transient
	}
	for _, p := range permanentPhrases {
		if strings.Contains(msg, p) {
			return kit.Permanent
		}
	}
	return kit.Transient
}

// retryAfter returns the flood-wait hint. Responses without retry_after
// parameters only carry it in the description text.
func retryAfter(err error) time.Duration {
	var fe tele.FloodError
	if errors.As(err, &fe) && fe.RetryAfter > 0 {
		return time.Duration(fe.RetryAfter) * time.Second
	}
	m := retryAfterRx.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return 0
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
