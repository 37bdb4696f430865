package broadcast

import (
	"testing"
	"time"

	logx "stickerbot/pkg/logx"
)

func TestBackoff(t *testing.T) {
	s := New(Config{RetryBase: time.Second, RetryMaxDelay: 5 * time.Second}, Deps{}, logx.Nop())
	cases := []struct {
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{1, 0, time.Second},
		{2, 0, 2 * time.Second},
		{3, 0, 4 * time.Second},
		{4, 0, 5 * time.Second},
		{10, 0, 5 * time.Second},
		{1, 3 * time.Second, 3 * time.Second},
		{3, time.Second, 4 * time.Second},
	}
	for _, tc := range cases {
		if got := s.backoff(tc.attempt, tc.retryAfter); got != tc.want {
			t.Fatalf("backoff(%d,%s)=%s want %s", tc.attempt, tc.retryAfter, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}.withDefaults()
	if c.Workers != 20 || c.RatePerSec != 30 || c.RetryBase != time.Second || c.RetryMax != 0 {
		t.Fatalf("defaults=%+v", c)
	}
	if d := DefaultConfig(); d.RetryMax != 2 || d.Workers != 20 {
		t.Fatalf("DefaultConfig=%+v", d)
	}
}
