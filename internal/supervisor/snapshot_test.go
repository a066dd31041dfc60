package supervisor

import (
	"strings"
	"testing"
	"time"

	"github.com/basket/taskpilot/internal/state"
)

func TestBuildSnapshot_QuantumRemainingFloorsAtZero(t *testing.T) {
	now := time.Now()
	task := &state.Task{
		ID:               "t-1",
		Status:           state.StatusRunning,
		StartedAt:        now.Add(-10 * time.Minute),
		QuantumStartedAt: now.Add(-10 * time.Minute),
	}

	snap := buildSnapshot(task, now, 5*time.Minute, nil)
	if snap.QuantumRemaining != 0 {
		t.Fatalf("remaining = %s, want 0", snap.QuantumRemaining)
	}
	if snap.Elapsed < 10*time.Minute {
		t.Fatalf("elapsed = %s", snap.Elapsed)
	}
}

func TestBuildSnapshot_NoQuantumWhenNotRunning(t *testing.T) {
	now := time.Now()
	task := &state.Task{
		ID:               "t-1",
		Status:           state.StatusPaused,
		StartedAt:        now.Add(-time.Minute),
		QuantumStartedAt: now.Add(-time.Second),
	}

	snap := buildSnapshot(task, now, 5*time.Minute, nil)
	if snap.QuantumRemaining != 0 {
		t.Fatalf("remaining = %s, want 0 for paused task", snap.QuantumRemaining)
	}
}

func TestSnapshot_Controls(t *testing.T) {
	for status, want := range map[state.Status]Controls{
		state.StatusRunning:   ControlsNormal,
		state.StatusPaused:    ControlsResume,
		state.StatusCompleted: ControlsAck,
		state.StatusStopped:   ControlsAck,
		state.StatusError:     ControlsAck,
	} {
		if got := (Snapshot{Status: status}).Controls(); got != want {
			t.Errorf("%s: controls = %s, want %s", status, got, want)
		}
	}
}

func TestSnapshot_TextIncludesQuantumOnlyWhileRunning(t *testing.T) {
	running := Snapshot{
		Status:           state.StatusRunning,
		Description:      "build the thing",
		Elapsed:          90 * time.Second,
		QuantumRemaining: 30 * time.Second,
	}
	text := running.Text(1000)
	if !strings.Contains(text, "Quantum left") {
		t.Fatalf("running text missing quantum: %q", text)
	}

	paused := running
	paused.Status = state.StatusPaused
	if strings.Contains(paused.Text(1000), "Quantum left") {
		t.Fatal("paused text should not show quantum")
	}
}

func TestSnapshot_TextTruncatesOutputSection(t *testing.T) {
	var tail []string
	for i := 0; i < 200; i++ {
		tail = append(tail, "a long line of agent output that repeats endlessly")
	}
	snap := Snapshot{
		Status:      state.StatusRunning,
		Description: "task",
		Tail:        tail,
	}

	text := snap.Text(500)
	if !strings.Contains(text, truncationMarker) {
		t.Fatal("oversized output not truncated")
	}
	// The newest output survives.
	if !strings.HasSuffix(strings.TrimRight(text, "\n"), "endlessly") {
		t.Fatalf("tail end lost: %q", text[len(text)-80:])
	}
}

func TestTruncateFront(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"fits", "short", 100, "short"},
		{"zero max means unbounded", "anything", 0, "anything"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateFront(tt.in, tt.max); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("keeps recent lines", func(t *testing.T) {
		in := "old line one\nold line two\nrecent line"
		got := truncateFront(in, 27)
		if !strings.HasPrefix(got, truncationMarker) {
			t.Fatalf("missing marker: %q", got)
		}
		if !strings.HasSuffix(got, "recent line") {
			t.Fatalf("recent content lost: %q", got)
		}
		if len(got) > 27 {
			t.Fatalf("len = %d, over budget", len(got))
		}
	})
}

func TestFormatDuration(t *testing.T) {
	for d, want := range map[time.Duration]string{
		42 * time.Second:              "42s",
		2*time.Minute + 5*time.Second: "2m05s",
		time.Hour + 7*time.Minute:     "1h07m",
		3*time.Hour + 59*time.Minute:  "3h59m",
		500 * time.Millisecond:        "1s",
	} {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestContinuationPrompt(t *testing.T) {
	p := ContinuationPrompt("ship the release", []string{"tests green", "tagging v1.2"})
	for _, want := range []string{"do not start over", "ship the release", "tests green", "tagging v1.2"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}

	// Without a tail the output section is omitted entirely.
	p = ContinuationPrompt("ship the release", nil)
	if strings.Contains(p, "previous run:") {
		t.Fatalf("empty tail still rendered: %s", p)
	}
}
