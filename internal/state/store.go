package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store loads and saves the supervisor state snapshot as a single JSON
// document. It is single-writer; saves replace the file via a temp-file
// rename so a partial write cannot corrupt the previous snapshot.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store writing to path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the persisted state. A missing or unreadable file yields the
// default state (locked, no task) — never an error that stops startup. A task
// found RUNNING is reclassified to PAUSED: a running burst cannot have
// survived a restart, so it is treated as interrupted rather than silently
// resumed.
func (s *Store) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("state file unreadable, starting fresh", "path", s.path, "error", err)
		}
		return &State{}
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("state file corrupt, starting fresh", "path", s.path, "error", err)
		return &State{}
	}

	if st.Task != nil && st.Task.Status == StatusRunning {
		st.Task.Status = StatusPaused
		s.logger.Info("reclassified interrupted task to paused", "task_id", st.Task.ID)
	}
	return &st
}

// Save writes the state snapshot. Failure is returned for logging but leaves
// the in-memory state authoritative; the process keeps running in a degraded
// mode where the latest mutation will not survive a crash.
func (s *Store) Save(st *State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
