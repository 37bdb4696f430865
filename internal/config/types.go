package config

// Config is the file layout. Environment variables (see env.go) override the
// matching fields after the file is decoded.
//
// Only the logging section is applied on hot reload; every other section is
// fixed for the life of the process.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Backup    BackupConfig    `json:"backup"`
	Health    HealthConfig    `json:"health"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	OwnerID  int64   `json:"owner_id"`
	AdminIDs []int64 `json:"admin_ids,omitempty"`
	// LogChatID receives mirrored warning/error log lines when logging.telegram is enabled.
	LogChatID int64 `json:"log_chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout    string `json:"poll_timeout,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	// AppealContact is shown to banned users.
	AppealContact string `json:"appeal_contact,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "url": "sqlite://./data/stickerbot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	URL          string `json:"url"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // sqlite only
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
	PingTimeout  string `json:"ping_timeout,omitempty"`
}

// BroadcastConfig tunes delivery. Durations are Go duration strings.
// RetryMax is a pointer so an explicit 0 disables retries.
type BroadcastConfig struct {
	Workers       int    `json:"workers,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	StatusMax     int    `json:"status_max,omitempty"`
	StatusTTL     string `json:"status_ttl,omitempty"`
}

type BackupConfig struct {
	Dir        string `json:"dir,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	Schedule   string `json:"schedule,omitempty"` // cron spec, empty disables
	Timezone   string `json:"timezone,omitempty"`
}

// HealthConfig controls the /healthz listener. Port 0 with an empty Addr disables it.
type HealthConfig struct {
	Addr string `json:"addr,omitempty"`
	Port int    `json:"port,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof/ when the listener is loopback.
	Pprof bool `json:"pprof,omitempty"`
}
