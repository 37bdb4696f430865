package storage

import (
	"context"
	"time"
)

// AppendAudit stores an admin action. Zero At means now.
func (s *DB) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.ExecContext(ctx, s.Rebind(
		`INSERT INTO audit(at, actor_id, action, target_id, detail) VALUES(?,?,?,?,?)`),
		Millis(e.At), e.ActorID, e.Action, e.TargetID, e.Detail,
	)
	return Classify(err)
}

// RecentAudit returns up to n entries, newest first.
func (s *DB) RecentAudit(ctx context.Context, n int) ([]AuditEntry, error) {
	if n <= 0 {
		n = 20
	}
	var rows []AuditEntry
	err := s.SelectContext(ctx, &rows, s.Rebind(
		`SELECT id, at, actor_id, action, target_id, detail FROM audit ORDER BY id DESC LIMIT ?`), n)
	if err != nil {
		return nil, Classify(err)
	}
	for i := range rows {
		rows[i].At = FromMillis(rows[i].AtMS)
	}
	return rows, nil
}
