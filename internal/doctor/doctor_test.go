package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/taskpilot/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	cfg, err := config.LoadFrom(home)
	if err != nil {
		t.Fatal(err)
	}
	// Point the agent at a binary that always exists so the check passes.
	cfg.Agent.Command = "sh"
	cfg.Agent.WorkDir = home
	if err := os.WriteFile(cfg.SecretFile, []byte("s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestRun_HealthyEnvironment(t *testing.T) {
	d := Run(context.Background(), testConfig(t), "test")

	if !d.Healthy() {
		t.Fatalf("diagnosis unhealthy: %+v", d.Results)
	}
	if len(d.Results) != 7 {
		t.Fatalf("checks = %d, want 7", len(d.Results))
	}
	if d.System.OS == "" || d.System.Go == "" {
		t.Fatalf("system info = %+v", d.System)
	}
}

func TestRun_MissingAgentBinaryFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.Command = "no-such-agent-binary-xyz"

	d := Run(context.Background(), cfg, "test")
	if d.Healthy() {
		t.Fatal("diagnosis healthy despite missing agent binary")
	}

	var found bool
	for _, r := range d.Results {
		if r.Name == "Agent binary" {
			found = true
			if r.Status != "FAIL" {
				t.Fatalf("agent check = %+v", r)
			}
		}
	}
	if !found {
		t.Fatal("agent binary check missing")
	}
}

func TestRun_MissingSecretIsWarningNotFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.SecretFile = filepath.Join(cfg.HomeDir, "nope")

	d := Run(context.Background(), cfg, "test")
	for _, r := range d.Results {
		if r.Name == "Secret file" {
			if r.Status != "WARN" {
				t.Fatalf("secret check = %+v", r)
			}
			return
		}
	}
	t.Fatal("secret check missing")
}
