package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with task record operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the XDG data path for the hub database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "relay", "relay.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate applies the schema. It is idempotent.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS task_records (
			id           TEXT PRIMARY KEY,
			worker_id    TEXT NOT NULL,
			goal         TEXT NOT NULL,
			status       TEXT NOT NULL,
			result       TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			created_at   INTEGER NOT NULL,
			completed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_task_records_status ON task_records(status);
	`)
	if err != nil {
		return fmt.Errorf("migrate task_records: %w", err)
	}
	return nil
}

// SaveRecord inserts or replaces a task record.
func (db *DB) SaveRecord(r *TaskRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var completedAt sql.NullInt64
	if r.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: r.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO task_records
			(id, worker_id, goal, status, result, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkerID, r.Goal, r.Status, r.Result, r.Error,
		r.CreatedAt.UnixMilli(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("save record %s: %w", r.ID, err)
	}
	return nil
}

// GetRecord fetches a task record by id. Returns sql.ErrNoRows when absent.
func (db *DB) GetRecord(id string) (*TaskRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, worker_id, goal, status, result, error, created_at, completed_at
		FROM task_records WHERE id = ?`, id)
	return scanRecord(row)
}

// ListRecords returns records newest-first, up to limit (<= 0 for all).
func (db *DB) ListRecords(limit int) ([]TaskRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `
		SELECT id, worker_id, goal, status, result, error, created_at, completed_at
		FROM task_records ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*TaskRecord, error) {
	var r TaskRecord
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(&r.ID, &r.WorkerID, &r.Goal, &r.Status, &r.Result, &r.Error, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	r.CreatedAt = time.UnixMilli(createdAt)
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64)
		r.CompletedAt = &t
	}
	return &r, nil
}
