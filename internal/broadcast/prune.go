package broadcast

import (
	"sort"
	"time"
)

const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

// pruneStatus bounds the in-memory job map. Only finished jobs are dropped;
// their summaries stay available through the JobStore.
func (s *Service) pruneStatus(now time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	type kv struct {
		id string
		t  time.Time
	}
	finished := make([]kv, 0, len(s.status))
	for id, js := range s.status {
		if !js.done() {
			continue
		}
		t := js.activity()
		if now.Sub(t) > s.cfg.StatusTTL {
			delete(s.status, id)
			continue
		}
		finished = append(finished, kv{id: id, t: t})
	}

	excess := len(s.status) - s.cfg.StatusMax
	if excess <= 0 {
		return
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].t.Before(finished[j].t) })
	for i := 0; i < excess && i < len(finished); i++ {
		delete(s.status, finished[i].id)
	}
}
