package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Times are stored as unix nanoseconds, durations as microseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL DEFAULT 0,
		config TEXT NOT NULL DEFAULT '',
		discarded INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS task_runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		queue TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		duration_us INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_runs_task_id ON task_runs(task_id);

	CREATE INDEX IF NOT EXISTS idx_task_runs_session_queue
		ON task_runs(session_id, queue);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
