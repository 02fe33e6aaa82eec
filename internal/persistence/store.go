package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// RunStatus is the outcome of one task execution.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPanicked  RunStatus = "panicked"
)

// Session is one scheduler lifetime, from Init to Destroy.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   time.Time // zero while the session is live
	Config    string    // JSON snapshot of the configuration used
	Discarded int       // tasks dropped at shutdown
}

// Run is the journal record of one task execution.
type Run struct {
	ID        string
	SessionID string
	TaskID    string
	TaskName  string
	Queue     string
	Status    RunStatus
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// QueueSummary aggregates the runs recorded for one queue.
type QueueSummary struct {
	Queue       string
	Runs        int
	Failed      int
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// Store defines the persistence interface for the execution journal.
type Store interface {
	// Session operations
	SaveSession(ctx context.Context, session Session) error
	EndSession(ctx context.Context, sessionID string, endedAt time.Time, discarded int) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)

	// Run records
	RecordRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RunsForTask(ctx context.Context, taskID string) ([]Run, error)
	QueueStats(ctx context.Context, sessionID string) ([]QueueSummary, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database; the shared cache lets the pool's
// connections see the same data.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr)
}

func open(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// A single writer keeps the PRAGMA above in effect for every statement.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
