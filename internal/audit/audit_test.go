package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecord_WritesRedactedJSONL(t *testing.T) {
	home := t.TempDir()
	if err := Init(home); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer Close()

	before := DenyCount()
	Record("allow", "task", "started", "t-1")
	Record("deny", "unlock", "wrong_secret", "api_key=sk-verysecretvalue12345")

	if got := DenyCount() - before; got != 1 {
		t.Fatalf("deny count delta = %d, want 1", got)
	}
	if err := Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []map[string]string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e map[string]string
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad jsonl line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0]["decision"] != "allow" || entries[0]["command"] != "task" {
		t.Fatalf("first entry = %v", entries[0])
	}
	if strings.Contains(entries[1]["subject"], "sk-verysecretvalue12345") {
		t.Fatalf("secret survived into audit log: %v", entries[1])
	}
}

func TestRecord_BeforeInitDoesNotPanic(t *testing.T) {
	Record("allow", "status", "operator", "")
}
