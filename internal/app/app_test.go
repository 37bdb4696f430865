package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stickerbot/internal/config"
	"stickerbot/internal/storage"
)

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		url    string
		driver string
		path   string
		dsn    string
	}{
		{"", "sqlite", "", ""},
		{"sqlite://./data/bot.db", "sqlite", "./data/bot.db", ""},
		{"postgres://u:p@db/bot?sslmode=disable", "postgres", "", "postgres://u:p@db/bot?sslmode=disable"},
	}
	for _, tc := range cases {
		cfg := &config.Config{Storage: config.StorageConfig{URL: tc.url, BusyTimeout: "3s"}}
		sc, err := mapStorageConfig(cfg)
		require.NoError(t, err, tc.url)
		require.Equal(t, storage.Config{Driver: tc.driver, Path: tc.path, DSN: tc.dsn, BusyTimeout: 3 * time.Second}, sc, tc.url)
	}

	_, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{PingTimeout: "soon"}})
	require.Error(t, err)
}

func TestMapBroadcastConfigOverlaysDefaults(t *testing.T) {
	zero := 0
	bc, err := mapBroadcastConfig(&config.Config{Broadcast: config.BroadcastConfig{
		Workers:     4,
		RetryMax:    &zero,
		SendTimeout: "5s",
	}})
	require.NoError(t, err)
	require.Equal(t, 4, bc.Workers)
	require.Equal(t, 0, bc.RetryMax)
	require.Equal(t, 5*time.Second, bc.SendTimeout)
	require.Equal(t, 30, bc.RatePerSec)
	require.Equal(t, time.Second, bc.RetryBase)

	bc, err = mapBroadcastConfig(&config.Config{})
	require.NoError(t, err)
	require.Equal(t, 2, bc.RetryMax)

	_, err = mapBroadcastConfig(&config.Config{Broadcast: config.BroadcastConfig{RetryBase: "-1s"}})
	require.Error(t, err)
}

func TestMapHealthConfig(t *testing.T) {
	_, enabled, err := mapHealthConfig(&config.Config{})
	require.NoError(t, err)
	require.False(t, enabled)

	hc, enabled, err := mapHealthConfig(&config.Config{Health: config.HealthConfig{Port: 8443}})
	require.NoError(t, err)
	require.True(t, enabled)
	require.Equal(t, ":8443", hc.Addr)

	hc, _, err = mapHealthConfig(&config.Config{Health: config.HealthConfig{Addr: "127.0.0.1:9000", Port: 8080, Pprof: true}})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", hc.Addr)
	require.True(t, hc.Pprof)
	require.Equal(t, 2*time.Second, hc.PingTimeout)
}

func TestMapLogConfigCarriesLogChat(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{LogChatID: -100123},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 7, MinLevel: "warn", RatePerSec: 2},
		},
	}
	lc := mapLogConfig(cfg)
	require.Equal(t, "debug", lc.Level)
	require.True(t, lc.Telegram.Enabled)
	require.Equal(t, int64(-100123), lc.Telegram.ChatID)
	require.Equal(t, 7, lc.Telegram.ThreadID)
}

func TestDisplayLocation(t *testing.T) {
	loc := displayLocation(&config.Config{Backup: config.BackupConfig{Timezone: "Asia/Kolkata"}})
	require.Equal(t, "Asia/Kolkata", loc.String())
	require.Equal(t, time.Local, displayLocation(&config.Config{}))
}
