// Package state persists the supervisor's state across restarts.
package state

import "time"

// Status is the lifecycle state of the supervised task. Absence of a Task
// represents idle; no idle status is ever stored.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusStopped   Status = "STOPPED"
	StatusError     Status = "ERROR"
)

// Terminal reports whether the status awaits operator acknowledgement.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// RenderTarget identifies where status updates are delivered: a chat plus the
// message being edited in place. A zero MessageID means no message exists yet.
type RenderTarget struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// Task is the unit of supervised work.
type Task struct {
	ID                string       `json:"id"`
	Description       string       `json:"description"`
	Status            Status       `json:"status"`
	StartedAt         time.Time    `json:"started_at"`
	QuantumStartedAt  time.Time    `json:"quantum_started_at"`
	ContinuationCount int          `json:"continuation_count"`
	LogPath           string       `json:"log_path"`
	LastOutputTail    []string     `json:"last_output_tail,omitempty"`
	Render            RenderTarget `json:"render_target"`
}

// State is the process-wide supervisor state, persisted write-through after
// every mutation.
type State struct {
	UnlockedUntil time.Time `json:"unlocked_until"`
	Task          *Task     `json:"current_task,omitempty"`
}

// Unlocked reports whether the access gate is open at the given instant.
func (s *State) Unlocked(now time.Time) bool {
	return now.Before(s.UnlockedUntil)
}
