package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate rejects configurations the bot cannot run with. It is used on
// startup and before a reloaded file is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token (BOT_TOKEN) is required")
	}
	if cfg.Telegram.OwnerID <= 0 {
		return errors.New("telegram.owner_id (OWNER_ID) must be a positive user id")
	}
	for _, id := range cfg.Telegram.AdminIDs {
		if id <= 0 {
			return fmt.Errorf("telegram.admin_ids: invalid id %d", id)
		}
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"telegram.handler_timeout", cfg.Telegram.HandlerTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"storage.ping_timeout", cfg.Storage.PingTimeout},
		{"broadcast.retry_base", cfg.Broadcast.RetryBase},
		{"broadcast.retry_max_delay", cfg.Broadcast.RetryMaxDelay},
		{"broadcast.send_timeout", cfg.Broadcast.SendTimeout},
		{"broadcast.status_ttl", cfg.Broadcast.StatusTTL},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if cfg.Broadcast.Workers < 0 || cfg.Broadcast.RatePerSec < 0 || cfg.Broadcast.StatusMax < 0 {
		return errors.New("broadcast: workers, rate_per_sec and status_max must be >= 0")
	}
	if cfg.Broadcast.RetryMax != nil && *cfg.Broadcast.RetryMax < 0 {
		return errors.New("broadcast.retry_max must be >= 0")
	}
	if cfg.Backup.MaxBackups < 0 {
		return errors.New("backup.max_backups must be >= 0")
	}
	if tz := strings.TrimSpace(cfg.Backup.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("backup.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Health.Port < 0 || cfg.Health.Port > 65535 {
		return fmt.Errorf("health.port out of range: %d", cfg.Health.Port)
	}
	return validateLogging(cfg.Logging)
}

func validateLogging(l LoggingConfig) error {
	levels := map[string]bool{"": true, "DEBUG": true, "INFO": true, "WARN": true, "WARNING": true, "ERROR": true}
	if !levels[strings.ToUpper(strings.TrimSpace(l.Level))] {
		return fmt.Errorf("logging.level: unknown level %q", l.Level)
	}
	if !levels[strings.ToUpper(strings.TrimSpace(l.Telegram.MinLevel))] {
		return fmt.Errorf("logging.telegram.min_level: unknown level %q", l.Telegram.MinLevel)
	}
	if l.Telegram.RatePerSec < 0 {
		return errors.New("logging.telegram.rate_per_sec must be >= 0")
	}
	return nil
}
