package broadcast

import (
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("broadcast job not found")
	ErrJobFinished  = errors.New("broadcast job already finished")
	ErrEmptyPayload = errors.New("broadcast payload is empty")
	ErrNotRunning   = errors.New("broadcast service not running")

	// ErrPayloadTooLong: longer than transport.MaxMessageRunes.
	ErrPayloadTooLong = errors.New("broadcast payload exceeds one message")
)

type Config struct {
	Workers       int           // concurrent sends, default 20
	RatePerSec    int           // shared send rate across all jobs, default 30
	RetryMax      int           // retries after the first attempt, default 2
	RetryBase     time.Duration // first backoff, doubled per retry, default 1s
	RetryMaxDelay time.Duration // backoff cap, default 30s
	SendTimeout   time.Duration // per attempt, default 15s
	StatusMax     int           // finished jobs kept in memory, default 200
	StatusTTL     time.Duration // default 24h
}

// DefaultConfig is the production policy: 20 concurrent sends, 30 sends/s,
// 2 retries with backoff starting at 1s.
func DefaultConfig() Config {
	return Config{
		Workers:       20,
		RatePerSec:    30,
		RetryMax:      2,
		RetryBase:     time.Second,
		RetryMaxDelay: 30 * time.Second,
		SendTimeout:   15 * time.Second,
		StatusMax:     defaultStatusMax,
		StatusTTL:     defaultStatusTTL,
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 20
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 30
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.RetryMaxDelay < c.RetryBase {
		c.RetryMaxDelay = c.RetryBase
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.StatusMax <= 0 {
		c.StatusMax = defaultStatusMax
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	return c
}

// Outcome is the terminal result of one recipient.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Failed    Outcome = "failed"
	// Cancelled recipients were never dispatched because the job was cancelled
	// or the service shut down.
	Cancelled Outcome = "cancelled"
)

type Result struct {
	Outcome  Outcome
	Attempts int
	Err      string
	At       time.Time
}

// Counts aggregates a job. SkippedBanned users were excluded at snapshot time
// and are not part of Targets.
type Counts struct {
	Targets       int
	Delivered     int
	Failed        int
	Cancelled     int
	SkippedBanned int
}

// Pending is the number of targets without a terminal outcome.
func (c Counts) Pending() int { return c.Targets - c.Delivered - c.Failed - c.Cancelled }

// Job is a point-in-time copy of a broadcast. Jobs loaded from storage after
// pruning carry Counts only; TargetSnapshot and Results are nil.
type Job struct {
	ID              string
	Payload         string
	InitiatedBy     int64
	InitiatedAt     time.Time
	TargetSnapshot  []int64
	Results         map[int64]Result
	Counts          Counts
	CancelRequested bool
	CancelledBy     int64
	CompletedAt     *time.Time
}

func (j Job) Done() bool { return j.CompletedAt != nil }
