package broadcast

import (
	"sync"
	"sync/atomic"
	"time"
)

// jobState is the live, engine-owned state of one job.
type jobState struct {
	cancelFlag atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu  sync.Mutex
	job Job
}

func newJobState(j Job) *jobState {
	return &jobState{job: j, cancelCh: make(chan struct{})}
}

func (js *jobState) cancelled() bool { return js.cancelFlag.Load() }

// requestCancel sets the cancel flag. It reports false if the job already completed.
func (js *jobState) requestCancel(by int64) bool {
	js.mu.Lock()
	if js.job.CompletedAt != nil {
		js.mu.Unlock()
		return false
	}
	if !js.job.CancelRequested {
		js.job.CancelRequested = true
		js.job.CancelledBy = by
	}
	js.mu.Unlock()

	js.cancelFlag.Store(true)
	js.cancelOnce.Do(func() { close(js.cancelCh) })
	return true
}

// record stores a terminal outcome for userID. The first outcome wins.
// It reports whether every target now has an outcome.
func (js *jobState) record(userID int64, r Result) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.job.CompletedAt != nil {
		return false
	}
	if _, ok := js.job.Results[userID]; ok {
		return false
	}
	js.job.Results[userID] = r
	switch r.Outcome {
	case Delivered:
		js.job.Counts.Delivered++
	case Failed:
		js.job.Counts.Failed++
	case Cancelled:
		js.job.Counts.Cancelled++
	}
	return js.job.Counts.Pending() == 0
}

// complete sets CompletedAt once every target is terminal. It reports whether
// this call completed the job.
func (js *jobState) complete(at time.Time) bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.job.CompletedAt != nil || js.job.Counts.Pending() != 0 {
		return false
	}
	t := at
	js.job.CompletedAt = &t
	return true
}

func (js *jobState) done() bool {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.job.CompletedAt != nil
}

// snapshot deep-copies the job.
func (js *jobState) snapshot() Job {
	js.mu.Lock()
	defer js.mu.Unlock()
	cp := js.job
	cp.TargetSnapshot = append([]int64(nil), js.job.TargetSnapshot...)
	cp.Results = make(map[int64]Result, len(js.job.Results))
	for k, v := range js.job.Results {
		cp.Results[k] = v
	}
	if js.job.CompletedAt != nil {
		t := *js.job.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// activity is the time used for pruning: completion, or start for running jobs.
func (js *jobState) activity() time.Time {
	js.mu.Lock()
	defer js.mu.Unlock()
	if js.job.CompletedAt != nil {
		return *js.job.CompletedAt
	}
	return js.job.InitiatedAt
}
