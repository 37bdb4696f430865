package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"stickerbot/internal/storage"
	kit "stickerbot/internal/transport"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost middleware.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.log(log).Error("panic recovered", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", p)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				req.log(log).Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				req.log(log).Info("request ok", fields...)
			default:
				req.log(log).Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWEscalate hands storage outages to fatal; the process cannot serve
// anyone without its store.
func MWEscalate(fatal func(error)) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil && fatal != nil && storage.IsUnavailable(err) {
				fatal(err)
			}
			return err
		}
	}
}

// MWReportErrors tells the user something went wrong and alerts the owner.
func MWReportErrors(alerts *ownerAlerts) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || errors.Is(err, context.Canceled) {
				return err
			}
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if req.Update.Callback != nil {
				_ = req.Adapter.AnswerCallback(rctx, req.Update.Callback.ID, "Something went wrong")
			} else if req.Update.Kind == kit.UpdateCommand || req.Update.Kind == kit.UpdateMedia {
				_ = req.Reply(rctx, "❌ Something went wrong. Please try again later.")
			}
			alerts.report(rctx, req, err)
			return err
		}
	}
}

// mwGate records the contact and stops banned users before any handler.
func (r *Router) mwGate() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			dec, err := r.deps.Moderation.Gate(ctx, users.Contact{
				UserID:      req.FromID,
				DisplayName: req.FromName,
				At:          r.now(),
			})
			if err != nil {
				return err
			}
			req.User = dec.User
			if dec.Allowed {
				return next(ctx, req)
			}
			req.log(r.log).Debug("banned user rejected", logx.String("cmd", req.Command))
			switch req.Update.Kind {
			case kit.UpdateCallback:
				return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "You are banned")
			case kit.UpdateText:
				return nil
			default:
				return req.Reply(ctx, rejectedText(r.opt.AppealContact))
			}
		}
	}
}
