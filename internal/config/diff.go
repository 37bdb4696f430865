package config

import (
	"reflect"
	"strings"

	logx "stickerbot/pkg/logx"
)

// LiveSections are applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// SummarizeChange lists the changed top-level sections and safe log fields
// for them. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.OwnerID != nt.OwnerID || !reflect.DeepEqual(ot.AdminIDs, nt.AdminIDs) ||
		ot.LogChatID != nt.LogChatID || ot.PollTimeout != nt.PollTimeout ||
		ot.HandlerTimeout != nt.HandlerTimeout || ot.AppealContact != nt.AppealContact {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.admin_count", len(nt.AdminIDs)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.scheme", scheme(newCfg.Storage.URL)))
	}
	if !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast) {
		changed = append(changed, "broadcast")
	}
	if oldCfg.Backup != newCfg.Backup {
		changed = append(changed, "backup")
		attrs = append(attrs, logx.String("backup.schedule", newCfg.Backup.Schedule))
	}
	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
	}
	return changed, attrs
}

// RestartRequired filters sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// scheme avoids logging credentials embedded in a DSN.
func scheme(url string) string {
	if i := strings.Index(url, "://"); i > 0 {
		return url[:i]
	}
	if url == "" {
		return ""
	}
	return "file"
}
