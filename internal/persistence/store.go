// Package persistence keeps the append-only archive of finished tasks.
// The live supervisor snapshot lives in the JSON state file; this archive
// powers /history and retention pruning.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_history (
	task_id            TEXT PRIMARY KEY,
	description        TEXT NOT NULL,
	final_status       TEXT NOT NULL,
	continuation_count INTEGER NOT NULL DEFAULT 0,
	started_at         TIMESTAMP NOT NULL,
	finished_at        TIMESTAMP NOT NULL,
	log_path           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_task_history_finished ON task_history(finished_at);
`

// TaskRecord is one archived task.
type TaskRecord struct {
	TaskID            string
	Description       string
	FinalStatus       string
	ContinuationCount int
	StartedAt         time.Time
	FinishedAt        time.Time
	LogPath           string
}

// Store wraps the sqlite archive.
type Store struct {
	db *sql.DB
}

// Open creates the database (and parent directory) if needed and migrates
// the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFinished archives a task after it leaves the supervisor. Recording
// the same task twice (stop after error ack, for instance) upserts.
func (s *Store) RecordFinished(ctx context.Context, rec TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (task_id, description, final_status, continuation_count, started_at, finished_at, log_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			final_status = excluded.final_status,
			continuation_count = excluded.continuation_count,
			finished_at = excluded.finished_at;
	`, rec.TaskID, rec.Description, rec.FinalStatus, rec.ContinuationCount, rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.LogPath)
	if err != nil {
		return fmt.Errorf("record finished task: %w", err)
	}
	return nil
}

// ListRecent returns the n most recently finished tasks, newest first.
func (s *Store) ListRecent(ctx context.Context, n int) ([]TaskRecord, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, description, final_status, continuation_count, started_at, finished_at, log_path
		FROM task_history ORDER BY finished_at DESC LIMIT ?;
	`, n)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		if err := rows.Scan(&rec.TaskID, &rec.Description, &rec.FinalStatus, &rec.ContinuationCount,
			&rec.StartedAt, &rec.FinishedAt, &rec.LogPath); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list history: iterate: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes archive rows finished before the cutoff and returns
// the log paths of the deleted rows so the caller can remove the files too.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_path FROM task_history WHERE finished_at < ? AND log_path != '';
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("prune history: select: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("prune history: scan: %w", err)
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prune history: iterate: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_history WHERE finished_at < ?;`, cutoff.UTC()); err != nil {
		return nil, fmt.Errorf("prune history: delete: %w", err)
	}
	return paths, nil
}
