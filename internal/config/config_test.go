package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseEnv = map[string]string{"BOT_TOKEN": "123:abc", "OWNER_ID": "42"}

func withEnv(extra map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range baseEnv {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestEnvOnly(t *testing.T) {
	m := NewManager("", WithEnvironment(withEnv(map[string]string{
		"ADMIN_IDS":    " 7, 8 ,,9",
		"PORT":         "8443",
		"DATABASE_URL": "postgres://u:p@db/bot",
		"LOG_LEVEL":    "debug",
		"MAX_BACKUPS":  "3",
	})))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "123:abc", cfg.Telegram.Token)
	require.Equal(t, int64(42), cfg.Telegram.OwnerID)
	require.Equal(t, []int64{7, 8, 9}, cfg.Telegram.AdminIDs)
	require.Equal(t, 8443, cfg.Health.Port)
	require.Equal(t, "postgres://u:p@db/bot", cfg.Storage.URL)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 3, cfg.Backup.MaxBackups)
	require.Same(t, cfg, m.Get())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
telegram:
  token: from-file
  owner_id: 1
  admin_ids: [5]
logging:
  level: warn
broadcast:
  workers: 3
  retry_max: 0
`)
	cfg, err := NewManager(p, WithEnvironment(map[string]string{"OWNER_ID": "99"})).Load()
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Telegram.Token)
	require.Equal(t, int64(99), cfg.Telegram.OwnerID)
	require.Equal(t, []int64{5}, cfg.Telegram.AdminIDs)
	require.Equal(t, 3, cfg.Broadcast.Workers)
	require.NotNil(t, cfg.Broadcast.RetryMax)
	require.Equal(t, 0, *cfg.Broadcast.RetryMax)
}

func TestParseRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		body    string
		environ map[string]string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"x","owner_id":1},"nope":1}`, map[string]string{}},
		{"trailing data", "c.json", `{"telegram":{"token":"x","owner_id":1}}{}`, map[string]string{}},
		{"missing token", "c.json", `{"telegram":{"owner_id":1}}`, map[string]string{}},
		{"missing owner", "c.json", `{}`, map[string]string{"BOT_TOKEN": "x"}},
		{"bad admin ids", "c.json", `{}`, withEnv(map[string]string{"ADMIN_IDS": "1,two"})},
		{"bad owner env", "c.json", `{}`, map[string]string{"BOT_TOKEN": "x", "OWNER_ID": "abc"}},
		{"bad duration", "c.json", `{"broadcast":{"retry_base":"soon"}}`, withEnv(nil)},
		{"bad timezone", "c.json", `{"backup":{"timezone":"Mars/Olympus"}}`, withEnv(nil)},
		{"bad level", "c.json", `{"logging":{"level":"loud"}}`, withEnv(nil)},
		{"bad yaml", "c.yml", "telegram: [", withEnv(nil)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeFile(t, dir, tc.file, tc.body)
			_, err := NewManager(p, WithEnvironment(tc.environ)).Parse()
			require.Error(t, err)
		})
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := ParseIDList("")
	require.NoError(t, err)
	require.Empty(t, ids)

	ids, err = ParseIDList("1,2, 3")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, ids)
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "t", OwnerID: 1}}
	b := *a
	b.Logging.Level = "debug"
	sections, _ := SummarizeChange(a, &b)
	require.Equal(t, []string{"logging"}, sections)
	require.Empty(t, RestartRequired(sections))

	c := b
	c.Storage.URL = "postgres://secret@db/x"
	c.Telegram.AdminIDs = []int64{3}
	sections, _ = SummarizeChange(&b, &c)
	require.ElementsMatch(t, []string{"telegram", "storage"}, sections)
	require.ElementsMatch(t, []string{"telegram", "storage"}, RestartRequired(sections))
	require.Equal(t, "postgres", scheme(c.Storage.URL))
}

func TestWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p, WithEnvironment(withEnv(nil)))
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher time to register the directory.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		writeFile(t, dir, "config.json", `{"logging":{"level":"debug"}}`)
		select {
		case cfg := <-sub:
			require.Equal(t, "debug", cfg.Logging.Level)
			require.Equal(t, "debug", m.Get().Logging.Level)
			cancel()
			<-done
			return
		case <-time.After(400 * time.Millisecond):
		}
	}
	t.Fatal("no config published")
}
