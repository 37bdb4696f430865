// Package app wires the stores, services and transport into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"stickerbot/internal/backup"
	"stickerbot/internal/broadcast"
	"stickerbot/internal/config"
	"stickerbot/internal/eventbus"
	"stickerbot/internal/health"
	"stickerbot/internal/moderation"
	rtsup "stickerbot/internal/runtime/supervisor"
	"stickerbot/internal/stickers"
	"stickerbot/internal/storage"
	kit "stickerbot/internal/transport"
	telegram "stickerbot/internal/transport/telegram/adapter"
	"stickerbot/internal/transport/telegram/router"
	"stickerbot/internal/users"
	logx "stickerbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	db   *storage.DB

	adapter kit.Adapter

	broadcast *broadcast.Service
	backup    *backup.Service
	health    *health.Service
	router    *router.Router

	updates chan kit.Update
}

// New loads the configuration, opens storage and builds every component.
// Nothing runs until Start.
func New(ctx context.Context, cfgm *config.Manager) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(ctx, sc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
		db:      db,
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, log); err != nil {
		_ = db.Close()
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	us := users.New(a.db, log)
	st := stickers.New(a.db, log)
	mod := moderation.New(us, moderation.NewAdminSet(cfg.Telegram.OwnerID, cfg.Telegram.AdminIDs), a.bus, a.db, log)

	bcfg, err := mapBroadcastConfig(cfg)
	if err != nil {
		return err
	}
	a.broadcast = broadcast.New(bcfg, broadcast.Deps{
		Recipients: us,
		Auth:       mod,
		Sender:     a.adapter,
		Store:      broadcast.NewSQLStore(a.db),
		Audit:      a.db,
		Bus:        a.bus,
		Fatal:      a.fail,
	}, log)

	a.backup = backup.New(mapBackupConfig(cfg), a.db, us, st, a.bus, log)

	hcfg, enabled, err := mapHealthConfig(cfg)
	if err != nil {
		return err
	}
	if enabled {
		a.health = health.New(hcfg, a.db, log)
	}

	handlerTimeout, err := config.ParseDurationOrDefault("telegram.handler_timeout", cfg.Telegram.HandlerTimeout, 30*time.Second)
	if err != nil {
		return err
	}
	a.router = router.New(router.Deps{
		Adapter:    a.adapter,
		Moderation: mod,
		Users:      us,
		Stickers:   st,
		Broadcast:  a.broadcast,
		Backup:     a.backup,
		Bus:        a.bus,
		Audit:      a.db,
		Fatal:      a.fail,
	}, router.Options{
		HandlerTimeout: handlerTimeout,
		AppealContact:  cfg.Telegram.AppealContact,
		Location:       displayLocation(cfg),
		StartedAt:      time.Now(),
	}, log)

	a.log.Info("components ready",
		logx.String("dialect", string(a.db.Dialect())),
		logx.Int("admins", len(mod.Admins().IDs())),
		logx.Bool("health", enabled),
	)
	return nil
}

// fail escalates an unrecoverable error; the app supervisor cancels everything.
func (a *App) fail(err error) {
	if a.sup == nil {
		a.log.Error("fatal error before start", logx.Err(err))
		return
	}
	a.log.Error("fatal error; shutting down", logx.Err(err))
	a.sup.Fail(err)
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.broadcast.Start(run)
	if err := a.backup.Start(run); err != nil {
		return fmt.Errorf("backup schedule: %w", err)
	}
	if a.health != nil {
		if err := a.health.Start(run); err != nil {
			return fmt.Errorf("health listener: %w", err)
		}
	}
	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.logEvents()
	a.watchConfig()
	a.startWatchdog()

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("app started")
	return nil
}

func (a *App) logEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if d, ok := e.Data.(eventbus.BackupWritten); ok {
					a.log.Info("backup written", logx.String("path", d.Path), logx.Int64("size", d.Size), logx.Int("users", d.Users))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// watchConfig applies the logging section live and warns about everything
// else, which needs a restart.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Intake first, then in-flight work, then storage.
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("broadcast", 10*time.Second, func(c context.Context) error { a.broadcast.Stop(c); return nil })
	step("backup", 5*time.Second, func(c context.Context) error { a.backup.Stop(c); return nil })
	step("health", 2*time.Second, func(c context.Context) error {
		if a.health != nil {
			a.health.Stop(c)
		}
		return nil
	})
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 2*time.Second, func(context.Context) error { return a.db.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
