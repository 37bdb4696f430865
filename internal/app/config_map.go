package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"stickerbot/internal/backup"
	"stickerbot/internal/broadcast"
	"stickerbot/internal/config"
	"stickerbot/internal/health"
	"stickerbot/internal/storage"
	telegram "stickerbot/internal/transport/telegram/adapter"
	logx "stickerbot/pkg/logx"
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	out := storage.ConfigFromURL(sc.URL)
	var err error
	if out.BusyTimeout, err = config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout); err != nil {
		return storage.Config{}, err
	}
	if out.PingTimeout, err = config.ParseDurationField("storage.ping_timeout", sc.PingTimeout); err != nil {
		return storage.Config{}, err
	}
	out.MaxOpenConns = sc.MaxOpenConns
	return out, nil
}

// mapBroadcastConfig overlays the configured values on broadcast.DefaultConfig.
func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	bc := cfg.Broadcast
	out := broadcast.DefaultConfig()
	if bc.Workers > 0 {
		out.Workers = bc.Workers
	}
	if bc.RatePerSec > 0 {
		out.RatePerSec = bc.RatePerSec
	}
	if bc.RetryMax != nil {
		out.RetryMax = *bc.RetryMax
	}
	if bc.StatusMax > 0 {
		out.StatusMax = bc.StatusMax
	}
	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"broadcast.retry_base", bc.RetryBase, &out.RetryBase},
		{"broadcast.retry_max_delay", bc.RetryMaxDelay, &out.RetryMaxDelay},
		{"broadcast.send_timeout", bc.SendTimeout, &out.SendTimeout},
		{"broadcast.status_ttl", bc.StatusTTL, &out.StatusTTL},
	}
	for _, d := range durations {
		v, err := config.ParseDurationOrDefault(d.path, d.raw, *d.dst)
		if err != nil {
			return broadcast.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}

func mapBackupConfig(cfg *config.Config) backup.Config {
	b := cfg.Backup
	return backup.Config{Dir: b.Dir, MaxBackups: b.MaxBackups, Schedule: b.Schedule, Timezone: b.Timezone}
}

// mapHealthConfig returns enabled=false when neither addr nor port is set.
func mapHealthConfig(cfg *config.Config) (health.Config, bool, error) {
	h := cfg.Health
	addr := strings.TrimSpace(h.Addr)
	if addr == "" && h.Port == 0 {
		return health.Config{}, false, nil
	}
	if addr == "" {
		addr = ":" + strconv.Itoa(h.Port)
	} else if h.Port != 0 {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		addr = net.JoinHostPort(host, strconv.Itoa(h.Port))
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return health.Config{}, false, fmt.Errorf("health.addr: %w", err)
	}
	ping, err := config.ParseDurationOrDefault("storage.ping_timeout", cfg.Storage.PingTimeout, 2*time.Second)
	if err != nil {
		return health.Config{}, false, err
	}
	return health.Config{Addr: addr, Pprof: h.Pprof, PingTimeout: ping}, true, nil
}

// displayLocation is used to render timestamps in replies.
func displayLocation(cfg *config.Config) *time.Location {
	if tz := strings.TrimSpace(cfg.Backup.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
