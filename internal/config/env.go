package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// envOverlay lists the supported environment variables. Unset variables stay
// nil and leave the file value untouched.
type envOverlay struct {
	BotToken       *string `env:"BOT_TOKEN"`
	OwnerID        *int64  `env:"OWNER_ID"`
	AdminIDs       *string `env:"ADMIN_IDS"`
	LogChatID      *int64  `env:"LOG_CHAT_ID"`
	AppealContact  *string `env:"APPEAL_CONTACT"`
	DatabaseURL    *string `env:"DATABASE_URL"`
	LogLevel       *string `env:"LOG_LEVEL"`
	Port           *int    `env:"PORT"`
	BackupDir      *string `env:"BACKUP_DIR"`
	MaxBackups     *int    `env:"MAX_BACKUPS"`
	BackupSchedule *string `env:"BACKUP_SCHEDULE"`
	Timezone       *string `env:"TIMEZONE"`
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overlays environment values onto cfg. environ nil means the
// process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var ov envOverlay
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&ov, opts); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	if ov.BotToken != nil {
		cfg.Telegram.Token = strings.TrimSpace(*ov.BotToken)
	}
	if ov.OwnerID != nil {
		cfg.Telegram.OwnerID = *ov.OwnerID
	}
	if ov.AdminIDs != nil {
		ids, err := ParseIDList(*ov.AdminIDs)
		if err != nil {
			return fmt.Errorf("env ADMIN_IDS: %w", err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if ov.LogChatID != nil {
		cfg.Telegram.LogChatID = *ov.LogChatID
	}
	if ov.AppealContact != nil {
		cfg.Telegram.AppealContact = *ov.AppealContact
	}
	if ov.DatabaseURL != nil {
		cfg.Storage.URL = strings.TrimSpace(*ov.DatabaseURL)
	}
	if ov.LogLevel != nil {
		cfg.Logging.Level = *ov.LogLevel
	}
	if ov.Port != nil {
		cfg.Health.Port = *ov.Port
	}
	if ov.BackupDir != nil {
		cfg.Backup.Dir = *ov.BackupDir
	}
	if ov.MaxBackups != nil {
		cfg.Backup.MaxBackups = *ov.MaxBackups
	}
	if ov.BackupSchedule != nil {
		cfg.Backup.Schedule = *ov.BackupSchedule
	}
	if ov.Timezone != nil {
		cfg.Backup.Timezone = *ov.Timezone
	}
	return nil
}

// ParseIDList parses a comma separated id list. Blank items are skipped.
func ParseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
