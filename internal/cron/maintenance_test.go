package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/taskpilot/internal/persistence"
)

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(Config{Schedule: "not a cron spec"})
	if err == nil {
		t.Fatal("expected error for bad cron spec")
	}
}

func TestNewScheduler_AcceptsStandardSpec(t *testing.T) {
	s, err := NewScheduler(Config{Schedule: "0 4 * * *", Retention: 24 * time.Hour})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.nextRun.IsZero() {
		t.Fatal("next run not computed")
	}
}

func TestRunOnce_PrunesRowsAndRemovesLogs(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	history, err := persistence.Open(ctx, filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()

	oldLog := filepath.Join(dir, "old.log")
	if err := os.WriteFile(oldLog, []byte("output\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	freshLog := filepath.Join(dir, "fresh.log")
	if err := os.WriteFile(freshLog, []byte("output\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	if err := history.RecordFinished(ctx, persistence.TaskRecord{
		TaskID: "old", Description: "x", FinalStatus: "COMPLETED",
		StartedAt: now.Add(-73 * time.Hour), FinishedAt: now.Add(-72 * time.Hour),
		LogPath: oldLog,
	}); err != nil {
		t.Fatal(err)
	}
	if err := history.RecordFinished(ctx, persistence.TaskRecord{
		TaskID: "fresh", Description: "y", FinalStatus: "COMPLETED",
		StartedAt: now.Add(-time.Hour), FinishedAt: now,
		LogPath: freshLog,
	}); err != nil {
		t.Fatal(err)
	}

	s, err := NewScheduler(Config{
		History:   history,
		Schedule:  "0 4 * * *",
		Retention: 24 * time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	s.RunOnce(ctx)

	if _, err := os.Stat(oldLog); !os.IsNotExist(err) {
		t.Fatal("expired log still on disk")
	}
	if _, err := os.Stat(freshLog); err != nil {
		t.Fatalf("fresh log removed: %v", err)
	}

	recs, err := history.ListRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].TaskID != "fresh" {
		t.Fatalf("survivors = %+v", recs)
	}
}

func TestRunOnce_NilHistoryIsNoop(t *testing.T) {
	s, err := NewScheduler(Config{Schedule: "* * * * *"})
	if err != nil {
		t.Fatal(err)
	}
	s.RunOnce(context.Background())
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(Config{Schedule: "0 4 * * *", Interval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
