package channels

import (
	"errors"
	"strings"
	"testing"

	"github.com/basket/taskpilot/internal/supervisor"
)

func TestRejectionText_MapsSentinelErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{supervisor.ErrLocked, "/unlock"},
		{supervisor.ErrTaskActive, "already active"},
		{supervisor.ErrNoPausedTask, "no paused task"},
		{supervisor.ErrNoRunningTask, "no running task"},
		{supervisor.ErrNoActiveTask, "No active task"},
		{supervisor.ErrEmptyDescription, "/task <description>"},
	}
	for _, tt := range tests {
		got := rejectionText(tt.err)
		if !strings.Contains(got, tt.want) {
			t.Errorf("rejectionText(%v) = %q, want substring %q", tt.err, got, tt.want)
		}
	}

	// Wrapped sentinels still map.
	wrapped := errors.Join(errors.New("context"), supervisor.ErrLocked)
	if !strings.Contains(rejectionText(wrapped), "/unlock") {
		t.Error("wrapped sentinel not recognized")
	}

	// Unknown errors surface verbatim.
	if got := rejectionText(errors.New("disk on fire")); !strings.Contains(got, "disk on fire") {
		t.Errorf("unknown error lost: %q", got)
	}
}

func TestControlsKeyboard_OffersStatusAppropriateActions(t *testing.T) {
	collect := func(c supervisor.Controls) []string {
		var data []string
		for _, row := range controlsKeyboard(c).InlineKeyboard {
			for _, btn := range row {
				data = append(data, *btn.CallbackData)
			}
		}
		return data
	}

	tests := []struct {
		controls supervisor.Controls
		want     []string
	}{
		{supervisor.ControlsResume, []string{"ctl:continue", "ctl:stop"}},
		{supervisor.ControlsNormal, []string{"ctl:pause", "ctl:stop", "ctl:cancel"}},
		{supervisor.ControlsAck, []string{"ctl:status"}},
	}
	for _, tt := range tests {
		got := collect(tt.controls)
		if len(got) != len(tt.want) {
			t.Errorf("%s: buttons = %v, want %v", tt.controls, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("%s: button %d = %q, want %q", tt.controls, i, got[i], tt.want[i])
			}
		}
	}
}

func TestHelpText_CoversEveryCommand(t *testing.T) {
	for _, cmd := range []string{"/task", "/continue", "/pause", "/stop", "/cancel", "/status", "/history", "/unlock", "/lock"} {
		if !strings.Contains(helpText, cmd) {
			t.Errorf("help text missing %s", cmd)
		}
	}
}
