// Package router turns transport updates into calls on the bot's core
// services. Every update passes the moderation gate before a handler runs.
package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"stickerbot/internal/backup"
	"stickerbot/internal/broadcast"
	"stickerbot/internal/eventbus"
	"stickerbot/internal/moderation"
	rtsup "stickerbot/internal/runtime/supervisor"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	kit "stickerbot/internal/transport"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

// AuditLog reads back recorded admin actions.
type AuditLog interface {
	RecentAudit(ctx context.Context, n int) ([]storage.AuditEntry, error)
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Adapter    kit.Adapter
	Moderation *moderation.Engine
	Users      *users.Store
	Stickers   *stickers.Store
	Broadcast  *broadcast.Service
	Backup     *backup.Service
	Bus        eventbus.Bus
	Audit      AuditLog
	// Fatal receives storage.ErrUnavailable from any handler.
	Fatal func(error)
}

type Options struct {
	Workers        int           // default max(2, NumCPU)
	QueueSize      int           // default 256
	HandlerTimeout time.Duration // default 30s
	AppealContact  string
	Location       *time.Location // rendering only, default UTC
	StartedAt      time.Time
}

type Router struct {
	deps Deps
	opt  Options
	log  logx.Logger
	now  func() time.Time

	cmds    map[string]Command
	order   []string
	pending *pendingBroadcasts
	alerts  *ownerAlerts

	jobs chan func()
}

func New(deps Deps, opt Options, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(2, runtime.NumCPU())
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.HandlerTimeout <= 0 {
		opt.HandlerTimeout = 30 * time.Second
	}
	if opt.Location == nil {
		opt.Location = time.UTC
	}
	if opt.StartedAt.IsZero() {
		opt.StartedAt = time.Now()
	}
	r := &Router{
		deps:    deps,
		opt:     opt,
		log:     log.With(logx.String("comp", "telegram.router")),
		now:     time.Now,
		pending: newPendingBroadcasts(10 * time.Minute),
		jobs:    make(chan func(), opt.QueueSize),
	}
	r.alerts = newOwnerAlerts(deps.Adapter, r.owner(), r.log)
	r.register(r.commandTable())
	return r
}

func (r *Router) owner() int64 {
	if r.deps.Moderation == nil {
		return 0
	}
	return r.deps.Moderation.Admins().OwnerID()
}

// Run consumes updates until ctx ends. Handlers run on a bounded worker
// pool; when the queue is full the sender is told to retry.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < r.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.startNotifier(sup)
	r.publishMenu(sup)
	r.log.Info("command dispatcher started", logx.Int("workers", r.opt.Workers), logx.Int("queue_cap", cap(r.jobs)))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	select {
	case r.jobs <- func() { _ = r.Handle(ctx, up) }:
	default:
		r.log.Warn("command queue full; update rejected", logx.String("kind", string(up.Kind)), logx.Int64("from_id", up.Sender()))
		if up.Callback != nil {
			_ = r.deps.Adapter.AnswerCallback(ctx, up.Callback.ID, "busy, try again")
			return
		}
		if up.Message != nil && up.Kind == kit.UpdateCommand {
			_, _ = r.deps.Adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, "⏳ Busy, try again in a moment.", nil)
		}
	}
}

// Handle processes one update synchronously through the middleware chain.
func (r *Router) Handle(ctx context.Context, up kit.Update) error {
	req, h, timeout, ok := r.route(up)
	if !ok {
		return nil
	}
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWEscalate(r.deps.Fatal),
		MWReportErrors(r.alerts),
		MWTimeout(timeout),
		r.mwGate(),
	)
	return final(ctx, req)
}

// route resolves the handler for an update. The switch is exhaustive over
// the update kinds.
func (r *Router) route(up kit.Update) (*Request, HandlerFunc, time.Duration, bool) {
	req := &Request{Update: up, ReqID: newReqID(), Adapter: r.deps.Adapter}
	switch up.Kind {
	case kit.UpdateCommand, kit.UpdateText, kit.UpdateMedia:
		m := up.Message
		if m == nil {
			return nil, nil, 0, false
		}
		req.Chat = kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
		req.FromID = m.FromID
		req.FromName = m.DisplayName()
	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, nil, 0, false
		}
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}
		req.FromID = cb.FromID
		req.FromName = cb.FromName
	default:
		return nil, nil, 0, false
	}
	if req.FromID == 0 {
		return nil, nil, 0, false
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
	)

	switch up.Kind {
	case kit.UpdateCommand:
		req.Command = up.Message.Command
		req.Args = up.Message.Args
		cmd, ok := r.cmds[req.Command]
		if !ok {
			return req, r.handleUnknown, r.opt.HandlerTimeout, true
		}
		timeout := cmd.Timeout
		if timeout <= 0 {
			timeout = r.opt.HandlerTimeout
		}
		return req, r.withAccess(cmd), timeout, true
	case kit.UpdateMedia:
		req.Command = "media"
		return req, r.handleMedia, r.opt.HandlerTimeout, true
	case kit.UpdateText:
		req.Command = "text"
		return req, r.handleText, r.opt.HandlerTimeout, true
	default:
		req.Command = "callback"
		return req, r.handleCallback, r.opt.HandlerTimeout, true
	}
}

// newReqID returns a short id for correlating the log lines of one update.
func newReqID() string {
	return uuid.NewString()[:8]
}
