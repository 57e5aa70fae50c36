package persist

import (
	"context"
	"fmt"

	"github.com/butane/engine/internal/stats"
)

type StatsRepo struct {
	db    *DB
	runID string
}

// NewStatsRepo writes under runID, which groups the rows of one process run.
func NewStatsRepo(db *DB, runID string) *StatsRepo {
	return &StatsRepo{db: db, runID: runID}
}

// WriteFrames writes a batch of frame samples in a single transaction.
func (r *StatsRepo) WriteFrames(ctx context.Context, samples []stats.FrameSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("frame stats begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range samples {
		if _, err := tx.Exec(ctx,
			`INSERT INTO frame_stats (run_id, frame, dt, elapsed_us, live_units, pending_units, graduated,
			                          despawned, cameras, culled, draws, tasks, dispatch_worker, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			r.runID, int64(s.Frame), s.DT, s.Elapsed.Microseconds(), s.Live, s.Pending, s.Graduated,
			s.Despawned, s.Cameras, s.Culled, s.Draws, int64(s.Tasks), s.DispatchWorker, s.RecordedAt,
		); err != nil {
			return fmt.Errorf("frame stats insert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// WriteTasks upserts the per-task totals of this run.
func (r *StatsRepo) WriteTasks(ctx context.Context, tasks []stats.TaskStats) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("task stats begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range tasks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_stats (run_id, name, count, total_us, max_us)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (run_id, name) DO UPDATE
			 SET count = EXCLUDED.count, total_us = EXCLUDED.total_us, max_us = EXCLUDED.max_us`,
			r.runID, t.Name, int64(t.Count), t.Total.Microseconds(), t.Max.Microseconds(),
		); err != nil {
			return fmt.Errorf("task stats upsert: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// CountFrames returns the number of frame rows stored for this run.
func (r *StatsRepo) CountFrames(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT count(*) FROM frame_stats WHERE run_id = $1`, r.runID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count frame stats: %w", err)
	}
	return n, nil
}
