package telemetry

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	} {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestShouldRedactKey(t *testing.T) {
	for key, want := range map[string]bool{
		"token":          true,
		"TELEGRAM_TOKEN": true,
		"api_key":        true,
		"secret_file":    true,
		"task_id":        false,
		"status":         false,
		"":               false,
	} {
		if got := shouldRedactKey(key); got != want {
			t.Errorf("shouldRedactKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestNewLogger_WritesRedactedJSONToFile(t *testing.T) {
	home := t.TempDir()
	logger, closer, err := NewLogger(home, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("daemon started", "token", "123:verysecret", "task_id", "t-1")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(home, "logs", "system.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("no log lines written")
	}
	line := scanner.Text()
	if strings.Contains(line, "verysecret") {
		t.Fatalf("secret survived into log file: %s", line)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["timestamp"] == nil {
		t.Fatalf("timestamp key missing: %v", entry)
	}
	if entry["component"] != "taskpilot" {
		t.Fatalf("component = %v", entry["component"])
	}
	if entry["task_id"] != "t-1" {
		t.Fatalf("benign attr mangled: %v", entry)
	}
}
