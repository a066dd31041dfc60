package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/basket/taskpilot/internal/state"
)

// Controls indicates which affordances the command surface should offer.
type Controls string

const (
	// ControlsNormal: pause/stop/cancel while running.
	ControlsNormal Controls = "normal"
	// ControlsResume: continue/stop only, for a paused task.
	ControlsResume Controls = "resume"
	// ControlsAck: terminal task awaiting acknowledgement via a new start.
	ControlsAck Controls = "ack"
)

// Snapshot is a point-in-time view of the supervised task, pure function of
// task state, wall clock, and the current output tail.
type Snapshot struct {
	TaskID            string
	Description       string
	Status            state.Status
	Elapsed           time.Duration
	QuantumRemaining  time.Duration
	ContinuationCount int
	Tail              []string
	Render            state.RenderTarget
}

// Controls returns the affordance set for the snapshot's status.
func (s Snapshot) Controls() Controls {
	switch s.Status {
	case state.StatusPaused:
		return ControlsResume
	case state.StatusRunning:
		return ControlsNormal
	default:
		return ControlsAck
	}
}

func buildSnapshot(task *state.Task, now time.Time, quantum time.Duration, tail []string) Snapshot {
	remaining := time.Duration(0)
	if task.Status == state.StatusRunning {
		remaining = quantum - now.Sub(task.QuantumStartedAt)
		if remaining < 0 {
			remaining = 0
		}
	}
	return Snapshot{
		TaskID:            task.ID,
		Description:       task.Description,
		Status:            task.Status,
		Elapsed:           now.Sub(task.StartedAt),
		QuantumRemaining:  remaining,
		ContinuationCount: task.ContinuationCount,
		Tail:              tail,
		Render:            task.Render,
	}
}

// Text renders the snapshot for the operator, capping the output section at
// maxChars and truncating from the front with a marker when it overflows.
func (s Snapshot) Text(maxChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", statusGlyph(s.Status), s.Status)
	fmt.Fprintf(&b, "Task: %s\n", s.Description)
	fmt.Fprintf(&b, "Elapsed: %s", formatDuration(s.Elapsed))
	if s.Status == state.StatusRunning {
		fmt.Fprintf(&b, " | Quantum left: %s", formatDuration(s.QuantumRemaining))
	}
	if s.ContinuationCount > 0 {
		fmt.Fprintf(&b, " | Continuations: %d", s.ContinuationCount)
	}
	b.WriteString("\n")

	if len(s.Tail) > 0 {
		b.WriteString("\nRecent output:\n")
		b.WriteString(truncateFront(strings.Join(s.Tail, "\n"), maxChars))
		b.WriteString("\n")
	}
	return b.String()
}

func statusGlyph(st state.Status) string {
	switch st {
	case state.StatusRunning:
		return "▶"
	case state.StatusPaused:
		return "⏸"
	case state.StatusCompleted:
		return "✅"
	case state.StatusStopped:
		return "⏹"
	case state.StatusError:
		return "❌"
	default:
		return "•"
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

const truncationMarker = "…(truncated)\n"

// truncateFront keeps the most recent maxChars characters, dropping whole
// leading lines where possible.
func truncateFront(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	budget := maxChars - len(truncationMarker)
	if budget <= 0 {
		return truncationMarker
	}
	cut := text[len(text)-budget:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return truncationMarker + cut
}
