// Package doctor runs environment diagnostics for the taskpilot daemon.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/taskpilot/internal/config"
	"github.com/basket/taskpilot/internal/persistence"
	"github.com/basket/taskpilot/internal/state"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Healthy reports whether no check failed.
func (d Diagnosis) Healthy() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkAgentBinary,
		checkWorkDir,
		checkHomeDir,
		checkStateFile,
		checkHistoryDB,
		checkTelegram,
		checkSecret,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkAgentBinary(_ context.Context, cfg *config.Config) CheckResult {
	path, err := exec.LookPath(cfg.Agent.Command)
	if err != nil {
		return CheckResult{
			Name:    "Agent binary",
			Status:  "FAIL",
			Message: fmt.Sprintf("%q not found in PATH", cfg.Agent.Command),
			Detail:  "Set agent.command in config.yaml or install the agent CLI",
		}
	}
	return CheckResult{Name: "Agent binary", Status: "PASS", Message: path}
}

func checkWorkDir(_ context.Context, cfg *config.Config) CheckResult {
	info, err := os.Stat(cfg.Agent.WorkDir)
	if err != nil || !info.IsDir() {
		return CheckResult{Name: "Work dir", Status: "FAIL", Message: fmt.Sprintf("%q is not a directory", cfg.Agent.WorkDir)}
	}
	return CheckResult{Name: "Work dir", Status: "PASS", Message: cfg.Agent.WorkDir}
}

func checkHomeDir(_ context.Context, cfg *config.Config) CheckResult {
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return CheckResult{Name: "Home dir", Status: "FAIL", Message: fmt.Sprintf("cannot create %s: %v", cfg.HomeDir, err)}
	}
	probe := filepath.Join(cfg.HomeDir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Home dir", Status: "FAIL", Message: fmt.Sprintf("not writable: %v", err)}
	}
	os.Remove(probe)
	return CheckResult{Name: "Home dir", Status: "PASS", Message: cfg.HomeDir}
}

func checkStateFile(_ context.Context, cfg *config.Config) CheckResult {
	if _, err := os.Stat(cfg.StateFile); os.IsNotExist(err) {
		return CheckResult{Name: "State file", Status: "PASS", Message: "absent (fresh start)"}
	}
	st := state.NewStore(cfg.StateFile, nil).Load()
	if st.Task != nil {
		return CheckResult{Name: "State file", Status: "PASS", Message: fmt.Sprintf("task %s (%s)", st.Task.ID, st.Task.Status)}
	}
	return CheckResult{Name: "State file", Status: "PASS", Message: "no active task"}
}

func checkHistoryDB(ctx context.Context, cfg *config.Config) CheckResult {
	store, err := persistence.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return CheckResult{Name: "History DB", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer store.Close()
	if _, err := store.ListRecent(ctx, 1); err != nil {
		return CheckResult{Name: "History DB", Status: "FAIL", Message: fmt.Sprintf("query failed: %v", err)}
	}
	return CheckResult{Name: "History DB", Status: "PASS", Message: "connection and schema valid"}
}

func checkTelegram(_ context.Context, cfg *config.Config) CheckResult {
	if !cfg.Telegram.Enabled {
		return CheckResult{Name: "Telegram", Status: "WARN", Message: "disabled (no command surface)"}
	}
	if cfg.Telegram.Token == "" {
		return CheckResult{Name: "Telegram", Status: "FAIL", Message: "enabled but token is empty", Detail: "Set telegram.token or TELEGRAM_BOT_TOKEN"}
	}
	if cfg.Telegram.AllowedID == 0 {
		return CheckResult{Name: "Telegram", Status: "FAIL", Message: "allowed_id not set; every command would be rejected"}
	}
	return CheckResult{Name: "Telegram", Status: "PASS", Message: "token and operator configured"}
}

func checkSecret(_ context.Context, cfg *config.Config) CheckResult {
	data, err := os.ReadFile(cfg.SecretFile)
	if err != nil {
		return CheckResult{
			Name:    "Secret file",
			Status:  "WARN",
			Message: fmt.Sprintf("unreadable: %v", err),
			Detail:  "Unlock will be impossible until the secret file exists",
		}
	}
	if len(data) == 0 {
		return CheckResult{Name: "Secret file", Status: "WARN", Message: "empty; unlock disabled"}
	}
	return CheckResult{Name: "Secret file", Status: "PASS", Message: cfg.SecretFile}
}
