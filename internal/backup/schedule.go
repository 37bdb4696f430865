package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "stickerbot/pkg/logx"
)

// Start registers the periodic backup job. A blank schedule leaves the
// service usable for on-demand backups only.
func (s *Service) Start(ctx context.Context) error {
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		s.log.Debug("scheduled backups disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	loc := s.location()
	// SecondOptional accepts both 5- and 6-field specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	runCtx := context.WithoutCancel(ctx)
	_, err := c.AddJob(spec, cron.FuncJob(func() {
		start := time.Now()
		info, err := s.WriteBackup(runCtx)
		if err != nil {
			s.log.Error("scheduled backup failed", logx.Err(err))
			return
		}
		s.log.Info("scheduled backup done", logx.String("path", info.Path), logx.Duration("took", time.Since(start)))
	}))
	if err != nil {
		return fmt.Errorf("backup schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("service started", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop halts the schedule and waits for a running backup, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
