package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordRun appends a run record. An empty ID is filled with a new UUID.
// The session must already exist.
func (s *SQLiteStore) RecordRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_runs (id, session_id, task_id, task_name, queue, status, error, started_at, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SessionID, run.TaskID, run.TaskName, run.Queue, string(run.Status), run.Error,
		run.StartedAt.UnixNano(), run.Duration.Microseconds())
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.TaskID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, task_id, task_name, queue, status, error, started_at, duration_us
		FROM task_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// RunsForTask returns every run of one task in execution order. A task that
// is Reset and scheduled again keeps its ID, so there may be many.
func (s *SQLiteStore) RunsForTask(ctx context.Context, taskID string) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, task_id, task_name, queue, status, error, started_at, duration_us
		FROM task_runs
		WHERE task_id = ?
		ORDER BY started_at ASC, rowid ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// QueueStats aggregates runs per queue. An empty sessionID covers every
// session.
func (s *SQLiteStore) QueueStats(ctx context.Context, sessionID string) ([]QueueSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT queue,
			COUNT(*),
			SUM(CASE WHEN status != ? THEN 1 ELSE 0 END),
			CAST(AVG(duration_us) AS INTEGER),
			MAX(duration_us)
		FROM task_runs
		WHERE ? = '' OR session_id = ?
		GROUP BY queue
		ORDER BY queue
	`, string(RunCompleted), sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := []QueueSummary{}
	for rows.Next() {
		var q QueueSummary
		var avgUS, maxUS int64
		if err := rows.Scan(&q.Queue, &q.Runs, &q.Failed, &avgUS, &maxUS); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		q.AvgDuration = time.Duration(avgUS) * time.Microsecond
		q.MaxDuration = time.Duration(maxUS) * time.Microsecond
		stats = append(stats, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue stats: %w", err)
	}
	return stats, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	runs := []Run{}
	for rows.Next() {
		var run Run
		var status string
		var started, durationUS int64
		if err := rows.Scan(&run.ID, &run.SessionID, &run.TaskID, &run.TaskName, &run.Queue,
			&status, &run.Error, &started, &durationUS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = RunStatus(status)
		run.StartedAt = time.Unix(0, started)
		run.Duration = time.Duration(durationUS) * time.Microsecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
