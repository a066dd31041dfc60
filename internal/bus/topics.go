package bus

// Task event topics.
const (
	TopicTaskStateChanged = "task.state_changed"
	TopicTaskHeartbeat    = "task.heartbeat"
	TopicTaskOutput       = "task.output"
	TopicTaskCleared      = "task.cleared"
)

// TaskStateChangedEvent is published when the supervised task's status changes.
type TaskStateChangedEvent struct {
	TaskID    string // Task ID
	OldStatus string // Previous status (e.g. RUNNING); empty on creation
	NewStatus string // New status (e.g. PAUSED)
	Reason    string // Transition reason (e.g. "quantum_expired", "operator")
}

// TaskHeartbeatEvent is published on every heartbeat tick while a burst runs.
type TaskHeartbeatEvent struct {
	TaskID string
}

// TaskOutputEvent is published for each captured output line.
type TaskOutputEvent struct {
	TaskID string
	Line   string
	Stderr bool
}
