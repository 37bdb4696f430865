package router

import (
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"stickerbot/internal/eventbus"
	rtsup "stickerbot/internal/runtime/supervisor"
	kit "stickerbot/internal/transport"
	logx "stickerbot/pkg/logx"
)

// startNotifier forwards moderation and broadcast events to the users they
// concern.
func (r *Router) startNotifier(sup *rtsup.Supervisor) {
	if r.deps.Bus == nil {
		return
	}
	ch, unsubscribe := r.deps.Bus.Subscribe(64)
	sup.Go0("events.notify", func(ctx context.Context) {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				r.notify(ctx, ev)
			}
		}
	})
}

func (r *Router) notify(ctx context.Context, ev eventbus.Event) {
	var (
		to   int64
		text string
	)
	switch d := ev.Data.(type) {
	case eventbus.UserBanned:
		to, text = d.UserID, banNoticeText(d.Reason, d.By, r.opt.AppealContact)
	case eventbus.UserUnbanned:
		to, text = d.UserID, unbanNoticeText(d.By)
	case eventbus.BroadcastDone:
		to, text = d.InitiatedBy, broadcastDoneText(d)
	default:
		return
	}
	sctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := r.deps.Adapter.SendText(sctx, kit.ChatTarget{ChatID: to}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		// Banned users often have blocked the bot already.
		r.log.Debug("notification not delivered", logx.String("event", ev.Type), logx.Int64("to", to), logx.Err(err))
	}
}

// ownerAlerts reports handler failures to the owner, rate limited so an
// outage does not flood the chat.
type ownerAlerts struct {
	adapter kit.Adapter
	owner   int64
	log     logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	dropped int
}

func newOwnerAlerts(adapter kit.Adapter, owner int64, log logx.Logger) *ownerAlerts {
	return &ownerAlerts{
		adapter: adapter,
		owner:   owner,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(30*time.Second), 3),
	}
}

func (a *ownerAlerts) report(ctx context.Context, req *Request, err error) {
	if a == nil || a.owner == 0 || a.adapter == nil {
		return
	}
	a.mu.Lock()
	if !a.limiter.Allow() {
		a.dropped++
		a.mu.Unlock()
		return
	}
	dropped := a.dropped
	a.dropped = 0
	a.mu.Unlock()

	text := fmt.Sprintf("⚠️ <b>Bot Error</b>\n\n<code>%s</code>\n\ncmd: %s\nfrom: <code>%d</code>\nrid: %s",
		html.EscapeString(err.Error()), html.EscapeString(req.Command), req.FromID, req.ReqID)
	if dropped > 0 {
		text += fmt.Sprintf("\n(%d earlier errors suppressed)", dropped)
	}
	if _, serr := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: a.owner}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); serr != nil {
		a.log.Warn("owner alert failed", logx.Err(serr))
	}
}
