package broadcast

import (
	"context"
	"time"

	"stickerbot/internal/transport"
	logx "stickerbot/pkg/logx"
)

type delivery struct {
	js     *jobState
	userID int64
}

// dispatch hands the job's targets to the worker pool in snapshot order,
// checking the cancel flag before each one.
func (s *Service) dispatch(ctx context.Context, js *jobState) {
	targets := js.job.TargetSnapshot // immutable after creation
	for i, uid := range targets {
		if js.cancelled() || ctx.Err() != nil {
			s.cancelRest(js, targets[i:])
			return
		}
		select {
		case s.deliveries <- delivery{js: js, userID: uid}:
		case <-js.cancelCh:
			s.cancelRest(js, targets[i:])
			return
		case <-ctx.Done():
			s.cancelRest(js, targets[i:])
			return
		}
	}
}

func (s *Service) cancelRest(js *jobState, rest []int64) {
	now := s.now()
	for _, uid := range rest {
		if js.record(uid, Result{Outcome: Cancelled, At: now}) {
			s.finish(js, now)
		}
	}
	s.log.Info("broadcast dispatch stopped", logx.String("job", js.job.ID), logx.Int("undispatched", len(rest)))
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.deliveries:
			r := s.deliver(ctx, d.js.job.ID, d.js.job.Payload, d.userID)
			if d.js.record(d.userID, r) {
				s.finish(d.js, r.At)
			}
		}
	}
}

// deliver sends to one recipient with bounded retries. Transient failures are
// retried with exponential backoff (or the server's retry-after hint when
// longer); permanent failures are final immediately.
func (s *Service) deliver(ctx context.Context, jobID, payload string, userID int64) Result {
	to := transport.ChatTarget{ChatID: userID}
	opt := &transport.SendOptions{DisablePreview: true}

	attempts := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			if attempts == 0 {
				return Result{Outcome: Cancelled, At: s.now()}
			}
			return Result{Outcome: Failed, Attempts: attempts, Err: err.Error(), At: s.now()}
		}

		attempts++
		// An attempt that has started runs to completion even during shutdown.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SendTimeout)
		_, err := s.deps.Sender.SendText(sctx, to, payload, opt)
		cancel()
		if err == nil {
			return Result{Outcome: Delivered, Attempts: attempts, At: s.now()}
		}

		kind := transport.KindOf(err)
		if kind == transport.Permanent || attempts > s.cfg.RetryMax {
			s.log.Warn("broadcast send failed", logx.String("job", jobID), logx.Int64("chat_id", userID),
				logx.String("kind", kind.String()), logx.Int("attempts", attempts), logx.Err(err))
			return Result{Outcome: Failed, Attempts: attempts, Err: err.Error(), At: s.now()}
		}

		delay := s.backoff(attempts, transport.RetryAfterOf(err))
		s.log.Debug("broadcast send retry scheduled", logx.String("job", jobID), logx.Int64("chat_id", userID),
			logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Result{Outcome: Failed, Attempts: attempts, Err: err.Error(), At: s.now()}
		case <-t.C:
		}
	}
}

// backoff returns RetryBase * 2^(attempt-1) capped at RetryMaxDelay, raised to
// retryAfter when the server asked for longer.
func (s *Service) backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < attempt && d < s.cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	if d > s.cfg.RetryMaxDelay {
		d = s.cfg.RetryMaxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}
