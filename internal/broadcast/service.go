package broadcast

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"stickerbot/internal/eventbus"
	"stickerbot/internal/moderation"
	"stickerbot/internal/storage"
	"stickerbot/internal/transport"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

// Recipients lists users in insertion order.
type Recipients interface {
	ListAll(ctx context.Context) ([]users.Record, error)
}

// Authorizer decides who may start or cancel a broadcast.
type Authorizer interface {
	IsAdmin(id int64) bool
}

// Sender is the single-message primitive of the transport.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Deps groups the collaborators of the Service. Store, Audit and Bus may be nil.
type Deps struct {
	Recipients Recipients
	Auth       Authorizer
	Sender     Sender
	Store      JobStore
	Audit      moderation.Auditor
	Bus        eventbus.Bus
	// Fatal is called when persisting a summary hits storage.ErrUnavailable.
	Fatal func(error)
}

// Service fans a message out to every eligible user through a fixed pool of
// delivery workers sharing one rate limiter. Each job has a dispatcher that
// hands recipients to the pool one at a time, so at most Workers sends are in
// flight across all jobs.
type Service struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time

	deliveries chan delivery

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup // workers and dispatchers

	statusMu sync.RWMutex
	status   map[string]*jobState
}

func New(cfg Config, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:        cfg,
		deps:       deps,
		log:        log.With(logx.String("comp", "broadcast")),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		now:        time.Now,
		deliveries: make(chan delivery),
		status:     map[string]*jobState{},
	}
}

func (s *Service) Config() Config { return s.cfg }

// Start launches the delivery workers. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in delivery worker", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.worker(s.runCtx)
		}()
	}
	s.log.Info("service started", logx.Int("workers", s.cfg.Workers), logx.Int("rps", s.cfg.RatePerSec), logx.Int("retry_max", s.cfg.RetryMax))
}

// Stop stops dispatching and waits for in-flight sends, bounded by ctx.
// Undispatched recipients of running jobs are recorded as cancelled.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("stop timed out; deliveries continue in background", logx.Err(ctx.Err()))
	}
}

// StartBroadcast snapshots the eligible recipients and starts delivery.
// The returned Job is a copy taken right after the snapshot.
func (s *Service) StartBroadcast(ctx context.Context, payload string, initiatedBy int64) (Job, error) {
	if s.deps.Auth == nil || !s.deps.Auth.IsAdmin(initiatedBy) {
		s.log.Warn("broadcast rejected", logx.Int64("actor", initiatedBy))
		return Job{}, moderation.ErrForbidden
	}
	if strings.TrimSpace(payload) == "" {
		return Job{}, ErrEmptyPayload
	}
	if utf8.RuneCountInString(payload) > transport.MaxMessageRunes {
		return Job{}, ErrPayloadTooLong
	}
	all, err := s.deps.Recipients.ListAll(ctx)
	if err != nil {
		return Job{}, err
	}
	targets := make([]int64, 0, len(all))
	skipped := 0
	for _, u := range all {
		if !u.Eligible() {
			skipped++
			continue
		}
		targets = append(targets, u.UserID)
	}

	// Reserve the dispatcher slot before Stop can start waiting.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return Job{}, ErrNotRunning
	}
	runCtx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	now := s.now()
	js := newJobState(Job{
		ID:             uuid.NewString(),
		Payload:        payload,
		InitiatedBy:    initiatedBy,
		InitiatedAt:    now,
		TargetSnapshot: targets,
		Results:        make(map[int64]Result, len(targets)),
		Counts:         Counts{Targets: len(targets), SkippedBanned: skipped},
	})

	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[js.job.ID] = js
	s.statusMu.Unlock()

	s.audit(ctx, storage.AuditEntry{At: now, ActorID: initiatedBy, Action: "broadcast", Detail: js.job.ID})
	s.log.Info("broadcast started", logx.String("job", js.job.ID), logx.Int("targets", len(targets)), logx.Int("skipped_banned", skipped))

	snapshot := js.snapshot()
	if len(targets) == 0 {
		s.wg.Done()
		s.finish(js, s.now())
		return js.snapshot(), nil
	}

	go func() {
		defer s.wg.Done()
		s.dispatch(runCtx, js)
	}()
	return snapshot, nil
}

// JobStatus returns a copy of the job. Jobs pruned from memory are served from
// the persisted summary.
func (s *Service) JobStatus(ctx context.Context, jobID string) (Job, error) {
	s.statusMu.RLock()
	js := s.status[jobID]
	s.statusMu.RUnlock()
	if js != nil {
		return js.snapshot(), nil
	}
	if s.deps.Store == nil {
		return Job{}, ErrJobNotFound
	}
	return s.deps.Store.LoadSummary(ctx, jobID)
}

// Cancel stops dispatching new sends for the job. In-flight sends finish.
func (s *Service) Cancel(ctx context.Context, jobID string, by int64) (Job, error) {
	if s.deps.Auth == nil || !s.deps.Auth.IsAdmin(by) {
		return Job{}, moderation.ErrForbidden
	}
	s.statusMu.RLock()
	js := s.status[jobID]
	s.statusMu.RUnlock()
	if js == nil {
		if s.deps.Store != nil {
			if _, err := s.deps.Store.LoadSummary(ctx, jobID); err == nil {
				return Job{}, ErrJobFinished
			}
		}
		return Job{}, ErrJobNotFound
	}
	if !js.requestCancel(by) {
		return js.snapshot(), ErrJobFinished
	}
	s.audit(ctx, storage.AuditEntry{ActorID: by, Action: "broadcast_cancel", Detail: jobID})
	s.log.Info("broadcast cancel requested", logx.String("job", jobID), logx.Int64("actor", by))
	return js.snapshot(), nil
}

// Recent returns up to n jobs, newest first, merging running jobs with
// persisted summaries.
func (s *Service) Recent(ctx context.Context, n int) ([]Job, error) {
	if n <= 0 {
		n = 10
	}
	byID := map[string]Job{}
	s.statusMu.RLock()
	for id, js := range s.status {
		byID[id] = js.snapshot()
	}
	s.statusMu.RUnlock()

	if s.deps.Store != nil {
		stored, err := s.deps.Store.RecentSummaries(ctx, n)
		if err != nil {
			return nil, err
		}
		for _, j := range stored {
			if _, ok := byID[j.ID]; !ok {
				byID[j.ID] = j
			}
		}
	}

	out := make([]Job, 0, len(byID))
	for _, j := range byID {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].InitiatedAt.After(out[k].InitiatedAt) })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *Service) finish(js *jobState, at time.Time) {
	if !js.complete(at) {
		return
	}
	j := js.snapshot()
	fields := []logx.Field{
		logx.String("job", j.ID),
		logx.Int("targets", j.Counts.Targets),
		logx.Int("delivered", j.Counts.Delivered),
		logx.Int("failed", j.Counts.Failed),
		logx.Int("cancelled", j.Counts.Cancelled),
		logx.Duration("dur", at.Sub(j.InitiatedAt)),
	}
	if j.Counts.Failed > 0 {
		s.log.Warn("broadcast finished with failures", fields...)
	} else {
		s.log.Info("broadcast finished", fields...)
	}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := s.deps.Store.SaveSummary(ctx, j)
		cancel()
		if err != nil {
			s.log.Error("persist broadcast summary failed", logx.String("job", j.ID), logx.Err(err))
			if storage.IsUnavailable(err) && s.deps.Fatal != nil {
				s.deps.Fatal(err)
			}
		}
	}
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeBroadcastDone, Data: eventbus.BroadcastDone{
			JobID:       j.ID,
			InitiatedBy: j.InitiatedBy,
			Targets:     j.Counts.Targets,
			Delivered:   j.Counts.Delivered,
			Failed:      j.Counts.Failed,
			Cancelled:   j.Counts.Cancelled,
			Skipped:     j.Counts.SkippedBanned,
			Took:        at.Sub(j.InitiatedAt),
		}})
	}
	s.pruneStatus(at)
}

func (s *Service) audit(ctx context.Context, e storage.AuditEntry) {
	if s.deps.Audit == nil {
		return
	}
	if err := s.deps.Audit.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}
