package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/taskpilot/internal/audit"
	"github.com/basket/taskpilot/internal/buffer"
	"github.com/basket/taskpilot/internal/bus"
	"github.com/basket/taskpilot/internal/channels"
	"github.com/basket/taskpilot/internal/config"
	"github.com/basket/taskpilot/internal/cron"
	"github.com/basket/taskpilot/internal/doctor"
	otelpkg "github.com/basket/taskpilot/internal/otel"
	"github.com/basket/taskpilot/internal/persistence"
	"github.com/basket/taskpilot/internal/runner"
	"github.com/basket/taskpilot/internal/state"
	"github.com/basket/taskpilot/internal/supervisor"
	"github.com/basket/taskpilot/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

  %s                      Run the daemon (Telegram command surface)
  %s status               Summarize persisted state and recent history
  %s doctor [-json]       Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TASKPILOT_HOME          Data directory (default: ~/.taskpilot)
  TELEGRAM_BOT_TOKEN      Bot token (enables the Telegram surface)
  TELEGRAM_ALLOWED_ID     Operator's Telegram user id
  TASKPILOT_AGENT_COMMAND Agent executable (default: claude)
  TASKPILOT_WORK_DIR      Working directory for spawned tasks
`)
}

func main() {
	quiet := flag.Bool("quiet", false, "log to file only, not stdout")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			return
		case "status":
			os.Exit(runStatusCommand(ctx, cfg))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, cfg, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	os.Exit(runDaemon(ctx, cfg, *quiet))
}

func runDaemon(ctx context.Context, cfg *config.Config, quiet bool) int {
	if err := audit.Init(cfg.HomeDir); err != nil {
		fmt.Fprintln(os.Stderr, "audit init failed:", err)
		return 1
	}
	defer func() { _ = audit.Close() }()

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		return 1
	}
	defer logCloser.Close()

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("taskpilot %s — home %s, agent %q\n", Version, cfg.HomeDir, cfg.Agent.Command)
	}

	provider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:     cfg.Otel.Enabled,
		Exporter:    cfg.Otel.Exporter,
		Endpoint:    cfg.Otel.Endpoint,
		ServiceName: cfg.Otel.ServiceName,
		SampleRate:  cfg.Otel.SampleRate,
	})
	if err != nil {
		logger.Error("otel init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	metrics, err := otelpkg.NewMetrics(provider.Meter)
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}

	history, err := persistence.Open(ctx, cfg.HistoryDB)
	if err != nil {
		logger.Error("history db open failed", "error", err)
		return 1
	}
	defer history.Close()

	eventBus := bus.New()
	ring := buffer.New(cfg.RingHighWater, cfg.RingLowWater)
	procRunner := runner.New(cfg.Agent.Command, cfg.Agent.Args, cfg.Agent.WorkDir, ring, eventBus, logger)

	sup := supervisor.New(supervisor.Config{
		Quantum:        cfg.QuantumDuration(),
		Heartbeat:      cfg.HeartbeatInterval(),
		UnlockFor:      cfg.UnlockDuration(),
		TailLines:      cfg.TailLines,
		LogDir:         cfg.LogDir,
		SecretFile:     cfg.SecretFile,
		RenderMaxChars: cfg.RenderMaxChars,
	}, supervisor.Deps{
		Store:   state.NewStore(cfg.StateFile, logger),
		Ring:    ring,
		Runner:  supervisor.WrapRunner(procRunner),
		Bus:     eventBus,
		History: history,
		Logger:  logger,
		Metrics: metrics,
		Tracer:  provider.Tracer,
	})

	go func() {
		sub := eventBus.Subscribe(bus.TopicTaskOutput)
		defer eventBus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Ch():
				if !ok {
					return
				}
				metrics.OutputLines.Add(context.Background(), 1)
			}
		}
	}()

	maint, err := cron.NewScheduler(cron.Config{
		History:   history,
		Logger:    logger,
		Schedule:  cfg.Maintenance.Schedule,
		Retention: time.Duration(cfg.Maintenance.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		logger.Error("bad maintenance schedule", "schedule", cfg.Maintenance.Schedule, "error", err)
		return 1
	}
	maint.Start(ctx)
	defer maint.Stop()

	watcher := config.NewWatcher(cfg.HomeDir, cfg.SecretFile, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for ev := range watcher.Events() {
				if ev.Path == cfg.SecretFile {
					// The supervisor re-reads the secret on every unlock, so
					// rotation needs no action here.
					logger.Info("unlock secret rotated", "path", ev.Path)
				} else {
					logger.Warn("config.yaml changed; restart to apply", "path", ev.Path)
				}
			}
		}()
	}

	if !cfg.Telegram.Enabled || cfg.Telegram.Token == "" {
		logger.Error("telegram is not configured; the daemon has no command surface",
			"hint", "set telegram.token in config.yaml or TELEGRAM_BOT_TOKEN")
		return 1
	}

	tg := channels.NewTelegramChannel(cfg.Telegram.Token, cfg.Telegram.AllowedID, sup, history, eventBus, cfg.RenderMaxChars, logger)
	logger.Info("taskpilot daemon starting", "version", Version,
		"quantum", cfg.QuantumDuration(), "heartbeat", cfg.HeartbeatInterval(),
		"workdir", cfg.Agent.WorkDir)

	errCh := make(chan error, 1)
	go func() { errCh <- tg.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("telegram channel failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sup.Shutdown(shutdownCtx)
	logger.Info("taskpilot daemon stopped")
	return 0
}

func runStatusCommand(ctx context.Context, cfg *config.Config) int {
	st := state.NewStore(cfg.StateFile, nil).Load()
	if st.Task == nil {
		fmt.Println("Idle: no active task.")
	} else {
		t := st.Task
		fmt.Printf("Task %s [%s]\n  %s\n  started %s, continuations %d\n  log: %s\n",
			t.ID, t.Status, t.Description, t.StartedAt.Local().Format(time.RFC1123), t.ContinuationCount, t.LogPath)
	}
	if st.UnlockedUntil.After(time.Now()) {
		fmt.Printf("Unlocked until %s\n", st.UnlockedUntil.Local().Format(time.Kitchen))
	} else {
		fmt.Println("Locked.")
	}

	history, err := persistence.Open(ctx, cfg.HistoryDB)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history unavailable:", err)
		return 0
	}
	defer history.Close()
	recs, err := history.ListRecent(ctx, 5)
	if err == nil && len(recs) > 0 {
		fmt.Println("\nRecent tasks:")
		for _, rec := range recs {
			fmt.Printf("  [%s] %s (%s)\n", rec.FinalStatus, rec.Description, rec.FinishedAt.Local().Format("Jan 2 15:04"))
		}
	}
	return 0
}

func runDoctorCommand(ctx context.Context, cfg *config.Config, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "emit JSON")
	_ = fs.Parse(args)

	d := doctor.Run(ctx, cfg, Version)

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(d)
	} else {
		fmt.Printf("taskpilot %s on %s/%s (%s)\n\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
		for _, r := range d.Results {
			fmt.Printf("%-5s %-14s %s\n", r.Status, r.Name, r.Message)
			if r.Detail != "" {
				fmt.Printf("      %s\n", r.Detail)
			}
		}
	}

	if !d.Healthy() {
		return 1
	}
	return 0
}
