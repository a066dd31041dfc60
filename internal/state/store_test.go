package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_LoadMissingFileYieldsDefault(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.json"), nil)

	st := store.Load()
	if st.Task != nil {
		t.Fatalf("task = %v, want nil", st.Task)
	}
	if st.Unlocked(time.Now()) {
		t.Fatal("default state must be locked")
	}
}

func TestStore_LoadCorruptFileYieldsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := NewStore(path, nil).Load()
	if st.Task != nil {
		t.Fatalf("task = %v, want nil", st.Task)
	}
}

func TestStore_SaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewStore(path, nil)

	now := time.Now().UTC().Truncate(time.Second)
	st := &State{
		UnlockedUntil: now.Add(time.Hour),
		Task: &Task{
			ID:                "t-1",
			Description:       "write a file",
			Status:            StatusPaused,
			StartedAt:         now,
			QuantumStartedAt:  now,
			ContinuationCount: 3,
			LogPath:           "/tmp/t-1.log",
			LastOutputTail:    []string{"a", "b"},
			Render:            RenderTarget{ChatID: 42, MessageID: 7},
		},
	}
	if err := store.Save(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := store.Load()
	if got.Task == nil {
		t.Fatal("task missing after reload")
	}
	if got.Task.ID != "t-1" || got.Task.ContinuationCount != 3 || got.Task.Status != StatusPaused {
		t.Fatalf("task = %+v", got.Task)
	}
	if got.Task.Render.ChatID != 42 || got.Task.Render.MessageID != 7 {
		t.Fatalf("render = %+v", got.Task.Render)
	}
	if !got.Unlocked(now) {
		t.Fatal("unlock window lost on reload")
	}
}

func TestStore_RunningTaskReclassifiedToPausedOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path, nil)

	st := &State{Task: &Task{ID: "t-2", Description: "x", Status: StatusRunning}}
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}

	got := store.Load()
	if got.Task.Status != StatusPaused {
		t.Fatalf("status after crash reload = %s, want %s", got.Task.Status, StatusPaused)
	}
}

func TestStore_SaveOverwritesPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewStore(path, nil)

	if err := store.Save(&State{Task: &Task{ID: "old", Status: StatusPaused}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(&State{}); err != nil {
		t.Fatal(err)
	}

	got := store.Load()
	if got.Task != nil {
		t.Fatalf("task = %+v, want nil after overwrite", got.Task)
	}
}

func TestStatus_Terminal(t *testing.T) {
	for st, want := range map[Status]bool{
		StatusRunning:   false,
		StatusPaused:    false,
		StatusStopped:   false,
		StatusCompleted: true,
		StatusError:     true,
	} {
		if st.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", st, !want, want)
		}
	}
}
