package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"stickerbot/internal/storage"
)

// JobStore persists finished job summaries.
type JobStore interface {
	SaveSummary(ctx context.Context, j Job) error
	LoadSummary(ctx context.Context, id string) (Job, error)
	RecentSummaries(ctx context.Context, n int) ([]Job, error)
}

// SQLStore keeps summaries in the broadcast_jobs table.
type SQLStore struct{ db *storage.DB }

func NewSQLStore(db *storage.DB) *SQLStore { return &SQLStore{db: db} }

const summaryColumns = `job_id, payload, initiated_by, initiated_at, completed_at, targets, delivered, failed, cancelled, skipped_banned, cancelled_by`

type summaryRow struct {
	JobID         string        `db:"job_id"`
	Payload       string        `db:"payload"`
	InitiatedBy   int64         `db:"initiated_by"`
	InitiatedAt   int64         `db:"initiated_at"`
	CompletedAt   sql.NullInt64 `db:"completed_at"`
	Targets       int           `db:"targets"`
	Delivered     int           `db:"delivered"`
	Failed        int           `db:"failed"`
	Cancelled     int           `db:"cancelled"`
	SkippedBanned int           `db:"skipped_banned"`
	CancelledBy   sql.NullInt64 `db:"cancelled_by"`
}

func (r summaryRow) job() Job {
	j := Job{
		ID:          r.JobID,
		Payload:     r.Payload,
		InitiatedBy: r.InitiatedBy,
		InitiatedAt: storage.FromMillis(r.InitiatedAt),
		Counts: Counts{
			Targets:       r.Targets,
			Delivered:     r.Delivered,
			Failed:        r.Failed,
			Cancelled:     r.Cancelled,
			SkippedBanned: r.SkippedBanned,
		},
		CancelledBy:     r.CancelledBy.Int64,
		CancelRequested: r.CancelledBy.Valid,
	}
	if r.CompletedAt.Valid {
		t := storage.FromMillis(r.CompletedAt.Int64)
		j.CompletedAt = &t
	}
	return j
}

func (s *SQLStore) SaveSummary(ctx context.Context, j Job) error {
	var completed, cancelledBy sql.NullInt64
	if j.CompletedAt != nil {
		completed = sql.NullInt64{Int64: storage.Millis(*j.CompletedAt), Valid: true}
	}
	if j.CancelRequested {
		cancelledBy = sql.NullInt64{Int64: j.CancelledBy, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO broadcast_jobs(`+summaryColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			completed_at = excluded.completed_at,
			delivered = excluded.delivered,
			failed = excluded.failed,
			cancelled = excluded.cancelled,
			cancelled_by = excluded.cancelled_by`),
		j.ID, j.Payload, j.InitiatedBy, storage.Millis(j.InitiatedAt), completed,
		j.Counts.Targets, j.Counts.Delivered, j.Counts.Failed, j.Counts.Cancelled, j.Counts.SkippedBanned, cancelledBy,
	)
	if err != nil {
		return storage.Classify(fmt.Errorf("save broadcast %s: %w", j.ID, err))
	}
	return nil
}

func (s *SQLStore) LoadSummary(ctx context.Context, id string) (Job, error) {
	var r summaryRow
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+summaryColumns+` FROM broadcast_jobs WHERE job_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, storage.Classify(fmt.Errorf("load broadcast %s: %w", id, err))
	}
	return r.job(), nil
}

func (s *SQLStore) RecentSummaries(ctx context.Context, n int) ([]Job, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+summaryColumns+` FROM broadcast_jobs ORDER BY initiated_at DESC LIMIT ?`), n)
	if err != nil {
		return nil, storage.Classify(fmt.Errorf("recent broadcasts: %w", err))
	}
	out := make([]Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.job())
	}
	return out, nil
}
