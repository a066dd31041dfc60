package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for every tunable. Each option is independently overridable in
// config.yaml; a zero value falls back to the default here.
const (
	DefaultAgentCommand    = "claude"
	DefaultQuantumSeconds  = 300
	DefaultHeartbeatSecs   = 15
	DefaultUnlockMinutes   = 60
	DefaultTailLines       = 15
	DefaultRenderMaxChars  = 3000
	DefaultRetentionDays   = 30
	DefaultMaintenanceSpec = "0 4 * * *"
	DefaultRingHighWater   = 600
	DefaultRingLowWater    = 400
)

// TelegramConfig configures the command surface. Operator identity is a plain
// equality check against AllowedID; that trust boundary is intentional.
type TelegramConfig struct {
	Token     string `yaml:"token"`
	AllowedID int64  `yaml:"allowed_id"`
	Enabled   bool   `yaml:"enabled"`
}

// AgentConfig configures the external agent subprocess.
type AgentConfig struct {
	// Command is the agent executable; the prompt is always passed as a
	// single discrete argument, never through a shell.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	WorkDir string   `yaml:"work_dir"`
}

// OtelConfig configures optional tracing/metrics export.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout", "otlp-http", "none"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// MaintenanceConfig controls pruning of old task logs and archive rows.
type MaintenanceConfig struct {
	// Schedule is a 5-field cron expression (minute hour dom month dow).
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	// SecretFile holds the unlock secret; read at check time so rotation
	// does not require a restart. Defaults to <home>/secret.
	SecretFile string `yaml:"secret_file"`

	UnlockMinutes    int `yaml:"unlock_minutes"`
	QuantumSeconds   int `yaml:"quantum_seconds"`
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`

	// TailLines is how many output lines status renders and continuation
	// prompts carry.
	TailLines      int `yaml:"tail_lines"`
	RenderMaxChars int `yaml:"render_max_chars"`

	RingHighWater int `yaml:"ring_high_water"`
	RingLowWater  int `yaml:"ring_low_water"`

	// StateFile defaults to <home>/state.json, LogDir to <home>/tasks,
	// HistoryDB to <home>/history.db.
	StateFile string `yaml:"state_file"`
	LogDir    string `yaml:"log_dir"`
	HistoryDB string `yaml:"history_db"`

	Agent       AgentConfig       `yaml:"agent"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Otel        OtelConfig        `yaml:"otel"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// HomeDir resolves the data directory: $TASKPILOT_HOME or ~/.taskpilot.
func HomeDir() (string, error) {
	if env := os.Getenv("TASKPILOT_HOME"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".taskpilot"), nil
}

// Load reads <home>/config.yaml, applies env overrides, and fills defaults.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	homeDir, err := HomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(homeDir)
}

// LoadFrom loads config rooted at an explicit home directory.
func LoadFrom(homeDir string) (*Config, error) {
	cfg := &Config{HomeDir: homeDir}

	data, err := os.ReadFile(filepath.Join(homeDir, "config.yaml"))
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	cfg.HomeDir = homeDir

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
		cfg.Telegram.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_ALLOWED_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.AllowedID = id
		}
	}
	if v := os.Getenv("TASKPILOT_AGENT_COMMAND"); v != "" {
		cfg.Agent.Command = v
	}
	if v := os.Getenv("TASKPILOT_WORK_DIR"); v != "" {
		cfg.Agent.WorkDir = v
	}
	if v := os.Getenv("TASKPILOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.SecretFile == "" {
		cfg.SecretFile = filepath.Join(cfg.HomeDir, "secret")
	}
	if cfg.UnlockMinutes <= 0 {
		cfg.UnlockMinutes = DefaultUnlockMinutes
	}
	if cfg.QuantumSeconds <= 0 {
		cfg.QuantumSeconds = DefaultQuantumSeconds
	}
	if cfg.HeartbeatSeconds <= 0 {
		cfg.HeartbeatSeconds = DefaultHeartbeatSecs
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	if cfg.RenderMaxChars <= 0 {
		cfg.RenderMaxChars = DefaultRenderMaxChars
	}
	if cfg.RingHighWater <= 0 {
		cfg.RingHighWater = DefaultRingHighWater
	}
	if cfg.RingLowWater <= 0 {
		cfg.RingLowWater = DefaultRingLowWater
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cfg.HomeDir, "state.json")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.HomeDir, "tasks")
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = filepath.Join(cfg.HomeDir, "history.db")
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = DefaultAgentCommand
	}
	if cfg.Agent.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Agent.WorkDir = wd
		}
	}
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = DefaultMaintenanceSpec
	}
	if cfg.Maintenance.RetentionDays <= 0 {
		cfg.Maintenance.RetentionDays = DefaultRetentionDays
	}
	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = "taskpilot"
	}
	if cfg.Otel.Exporter == "" {
		cfg.Otel.Exporter = "stdout"
	}
}

// QuantumDuration returns the execution quantum as a Duration.
func (c *Config) QuantumDuration() time.Duration {
	return time.Duration(c.QuantumSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat cadence as a Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// UnlockDuration returns how long an unlock grant lasts.
func (c *Config) UnlockDuration() time.Duration {
	return time.Duration(c.UnlockMinutes) * time.Minute
}
