package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"stickerbot/internal/broadcast"
	"stickerbot/internal/moderation"
	kit "stickerbot/internal/transport"
	logx "stickerbot/pkg/logx"
)

// Callback data is "ns:action[:payload]". Telegram caps it at 64 bytes, so
// broadcast payloads are held here and referenced by id.

func parseCallback(data string) (ns, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}

func (r *Router) handleCallback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	ns, action, payload, ok := parseCallback(cb.Data)
	req.Command = "callback"
	if ok {
		req.Command = ns + ":" + action
	}

	var (
		answer string
		err    error
	)
	switch {
	case !ok:
		answer = "Unknown action"
	case ns == "menu":
		answer, err = r.menuCallback(ctx, req, ref, action)
	case ns == "bc":
		answer, err = r.broadcastCallback(ctx, req, ref, action, payload)
	default:
		answer = "Unknown action"
	}
	if err != nil {
		return err
	}
	return req.Adapter.AnswerCallback(ctx, cb.ID, answer)
}

func (r *Router) menuCallback(ctx context.Context, req *Request, ref kit.MessageRef, action string) (string, error) {
	html := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	switch action {
	case "profile", "stats":
		sum, err := r.deps.Stickers.Summary(ctx, req.FromID)
		if err != nil {
			return "", err
		}
		text := profileText(req.User, sum, r.opt.Location)
		if action == "stats" {
			text = userStatsText(req.User, sum, r.opt.Location)
		}
		return "", req.Adapter.EditText(ctx, ref, text, html)
	case "help":
		return "", req.Adapter.EditText(ctx, ref, r.helpText(r.deps.Moderation.IsAdmin(req.FromID)), html)
	case "admin":
		if !r.deps.Moderation.IsAdmin(req.FromID) {
			return "", req.Adapter.EditText(ctx, ref, msgAccessDenied, nil)
		}
		return "", req.Adapter.EditText(ctx, ref, adminPanelText(), html)
	}
	return "Unknown action", nil
}

func (r *Router) broadcastCallback(ctx context.Context, req *Request, ref kit.MessageRef, action, id string) (string, error) {
	if !r.deps.Moderation.IsAdmin(req.FromID) {
		return "Not authorized", nil
	}
	html := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	switch action {
	case "confirm":
		payload, err := r.pending.take(id, req.FromID, r.now())
		if errors.Is(err, errNotRequester) {
			return "Only the admin who started it can confirm", nil
		}
		if err != nil {
			return "Expired", req.Adapter.EditText(ctx, ref, msgBcExpired, nil)
		}
		job, err := r.deps.Broadcast.StartBroadcast(ctx, payload, req.FromID)
		switch {
		case errors.Is(err, broadcast.ErrNotRunning):
			return "", req.Adapter.EditText(ctx, ref, "❌ Broadcast service is not running.", nil)
		case errors.Is(err, moderation.ErrForbidden):
			return "Not authorized", nil
		case errors.Is(err, broadcast.ErrPayloadTooLong):
			return "", req.Adapter.EditText(ctx, ref, tooLongText(utf8.RuneCountInString(payload)), nil)
		case err != nil:
			return "", err
		}
		req.log(r.log).Info("broadcast confirmed", logx.String("job", job.ID), logx.Int("targets", job.Counts.Targets))
		return "Broadcast started", req.Adapter.EditText(ctx, ref, startedText(job), &kit.SendOptions{
			ParseMode: "HTML",
			Buttons:   stopButtons(job),
		})
	case "discard":
		r.pending.drop(id)
		return "", req.Adapter.EditText(ctx, ref, msgBcDiscarded, nil)
	case "stop":
		text, err := r.cancelJob(ctx, id, req.FromID)
		if err != nil {
			return "", err
		}
		return "", req.Adapter.EditText(ctx, ref, text, html)
	}
	return "Unknown action", nil
}

type pendingBroadcast struct {
	payload string
	by      int64
	at      time.Time
}

// pendingBroadcasts holds payloads awaiting the admin's confirmation.
type pendingBroadcasts struct {
	ttl time.Duration
	mu  sync.Mutex
	m   map[string]pendingBroadcast
}

func newPendingBroadcasts(ttl time.Duration) *pendingBroadcasts {
	return &pendingBroadcasts{ttl: ttl, m: map[string]pendingBroadcast{}}
}

func (p *pendingBroadcasts) put(payload string, by int64, now time.Time) string {
	id := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(now)
	p.m[id] = pendingBroadcast{payload: payload, by: by, at: now}
	return id
}

var (
	errPendingExpired = errors.New("broadcast confirmation expired")
	errNotRequester   = errors.New("confirmation belongs to another admin")
)

// take removes and returns the payload. Only the admin who asked may confirm.
func (p *pendingBroadcasts) take(id string, by int64, now time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(now)
	pb, ok := p.m[id]
	if !ok {
		return "", errPendingExpired
	}
	if pb.by != by {
		return "", errNotRequester
	}
	delete(p.m, id)
	return pb.payload, nil
}

func (p *pendingBroadcasts) drop(id string) {
	p.mu.Lock()
	delete(p.m, id)
	p.mu.Unlock()
}

func (p *pendingBroadcasts) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

func (p *pendingBroadcasts) pruneLocked(now time.Time) {
	for id, pb := range p.m {
		if now.Sub(pb.at) > p.ttl {
			delete(p.m, id)
		}
	}
}
