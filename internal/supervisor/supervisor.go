// Package supervisor owns the task lifecycle state machine. All mutations of
// supervisor state funnel through one mutex, so operator commands, timer
// firings, and subprocess termination events are applied strictly in the
// order they reach the sequence point.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/taskpilot/internal/buffer"
	"github.com/basket/taskpilot/internal/bus"
	otelpkg "github.com/basket/taskpilot/internal/otel"
	"github.com/basket/taskpilot/internal/persistence"
	"github.com/basket/taskpilot/internal/runner"
	"github.com/basket/taskpilot/internal/state"
)

// Rejection reasons, mapped to operator-facing text by the command surface.
var (
	ErrLocked           = errors.New("access is locked")
	ErrTaskActive       = errors.New("a task is already active")
	ErrNoPausedTask     = errors.New("no paused task")
	ErrNoRunningTask    = errors.New("no running task")
	ErrNoActiveTask     = errors.New("no active task")
	ErrEmptyDescription = errors.New("empty task description")
	ErrBadSecret        = errors.New("wrong secret")
)

// BurstHandle is the supervisor's view of one running burst.
type BurstHandle interface {
	Done() <-chan runner.ExitStatus
	Terminate(runner.Signal)
}

// BurstRunner spawns execution bursts.
type BurstRunner interface {
	Run(taskID, prompt, logPath string) BurstHandle
}

// WrapRunner adapts the concrete process runner to the BurstRunner interface.
func WrapRunner(r *runner.Runner) BurstRunner {
	return runnerAdapter{r}
}

type runnerAdapter struct{ r *runner.Runner }

func (a runnerAdapter) Run(taskID, prompt, logPath string) BurstHandle {
	return a.r.Run(taskID, prompt, logPath)
}

// Config holds the supervisor's tunables.
type Config struct {
	Quantum        time.Duration
	Heartbeat      time.Duration
	UnlockFor      time.Duration
	TailLines      int
	LogDir         string
	SecretFile     string
	RenderMaxChars int
}

// Deps are the supervisor's collaborators. History, Metrics, and Tracer are
// optional; nil disables them.
type Deps struct {
	Store   *state.Store
	Ring    *buffer.Ring
	Runner  BurstRunner
	Bus     *bus.Bus
	History *persistence.Store
	Logger  *slog.Logger
	Metrics *otelpkg.Metrics
	Tracer  trace.Tracer
}

// Supervisor is the single-task execution supervisor.
type Supervisor struct {
	mu sync.Mutex

	cfg  Config
	deps Deps
	st   *state.State

	sched  *QuantumScheduler
	handle BurstHandle

	// burstSeq distinguishes the live burst from stale timer and exit
	// events; the loser of any race is a guarded no-op.
	burstSeq  int
	burstSpan trace.Span

	// lastExited closes when the live burst's process is confirmed gone,
	// kept for Shutdown's best-effort wait.
	lastExited <-chan struct{}

	now func() time.Time
}

// New loads persisted state and builds the supervisor. A task interrupted by
// a crash comes back as PAUSED (reclassified by the store on load).
func New(cfg Config, deps Deps) *Supervisor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Supervisor{
		cfg:   cfg,
		deps:  deps,
		st:    deps.Store.Load(),
		sched: &QuantumScheduler{},
		now:   time.Now,
	}
	return s
}

// Start creates a new task and begins its first execution burst.
func (s *Supervisor) Start(description string, render state.RenderTarget) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	description = strings.TrimSpace(description)
	if description == "" {
		return Snapshot{}, ErrEmptyDescription
	}
	if !s.st.Unlocked(s.now()) {
		return Snapshot{}, ErrLocked
	}
	if t := s.st.Task; t != nil {
		if t.Status == state.StatusRunning || t.Status == state.StatusPaused {
			return Snapshot{}, ErrTaskActive
		}
		// Terminal task: starting a new one is the acknowledgement.
		s.st.Task = nil
	}

	now := s.now()
	id := uuid.NewString()
	task := &state.Task{
		ID:               id,
		Description:      description,
		Status:           state.StatusRunning,
		StartedAt:        now,
		QuantumStartedAt: now,
		LogPath:          filepath.Join(s.cfg.LogDir, id+".log"),
		Render:           render,
	}
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		s.deps.Logger.Warn("task log dir create failed", "error", err)
	}
	s.st.Task = task

	s.deps.Ring.Reset()
	s.persistLocked()
	s.publishTransitionLocked("", state.StatusRunning, "start")
	s.startBurstLocked(description)

	s.deps.Logger.Info("task started", "task_id", id)
	return s.snapshotLocked(), nil
}

// Continue resumes a paused task with a continuation prompt built from the
// description and the previous burst's tail.
func (s *Supervisor) Continue() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.st.Unlocked(s.now()) {
		return Snapshot{}, ErrLocked
	}
	t := s.st.Task
	if t == nil || t.Status != state.StatusPaused {
		return Snapshot{}, ErrNoPausedTask
	}

	t.ContinuationCount++
	t.QuantumStartedAt = s.now()
	prev := t.Status
	t.Status = state.StatusRunning

	s.deps.Ring.Reset()
	s.persistLocked()
	s.publishTransitionLocked(prev, state.StatusRunning, "continue")
	s.startBurstLocked(ContinuationPrompt(t.Description, t.LastOutputTail))

	s.deps.Logger.Info("task continued", "task_id", t.ID, "continuation", t.ContinuationCount)
	return s.snapshotLocked(), nil
}

// Pause suspends the running burst at operator request. Always permitted.
func (s *Supervisor) Pause() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.st.Task
	if t == nil || t.Status != state.StatusRunning {
		return Snapshot{}, ErrNoRunningTask
	}
	s.pauseLocked("operator")
	return s.snapshotLocked(), nil
}

// Stop terminates the task gracefully and clears it. Always permitted.
func (s *Supervisor) Stop() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.st.Task
	if t == nil {
		return Snapshot{}, ErrNoActiveTask
	}

	prev := t.Status
	s.endBurstLocked("stop")
	if s.handle != nil {
		s.handle.Terminate(runner.Graceful)
		s.handle = nil
	}
	if prev == state.StatusRunning {
		t.LastOutputTail = s.deps.Ring.Tail(s.cfg.TailLines)
	}
	t.Status = state.StatusStopped
	s.persistLocked()
	s.publishTransitionLocked(prev, state.StatusStopped, "operator")
	s.archiveLocked(t)
	snap := s.snapshotLocked()

	s.st.Task = nil
	s.persistLocked()
	s.deps.Logger.Info("task stopped", "task_id", t.ID)
	return snap, nil
}

// Cancel kills the task immediately and clears it without a final status
// broadcast. Always permitted.
func (s *Supervisor) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.st.Task
	if t == nil {
		return ErrNoActiveTask
	}

	s.endBurstLocked("cancel")
	if s.handle != nil {
		s.handle.Terminate(runner.Forceful)
		s.handle = nil
	}
	s.st.Task = nil
	s.persistLocked()
	s.deps.Bus.Publish(bus.TopicTaskCleared, bus.TaskStateChangedEvent{
		TaskID: t.ID, OldStatus: string(t.Status), Reason: "cancel",
	})
	s.archiveWithStatusLocked(t, "CANCELED")
	s.deps.Logger.Info("task canceled", "task_id", t.ID)
	return nil
}

// Status returns the current snapshot, or false when idle.
func (s *Supervisor) Status() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Task == nil {
		return Snapshot{}, false
	}
	return s.snapshotLocked(), true
}

// Unlocked reports whether the access gate is currently open.
func (s *Supervisor) Unlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Unlocked(s.now())
}

// Unlock compares the secret against the secret file and opens the gate for
// the configured duration. The file is read on every attempt so a rotated
// secret takes effect without a restart.
func (s *Supervisor) Unlock(secret string) error {
	data, err := os.ReadFile(s.cfg.SecretFile)
	if err != nil {
		s.deps.Logger.Warn("secret file unreadable", "error", err)
		return ErrBadSecret
	}
	want := strings.TrimSpace(string(data))
	if want == "" || strings.TrimSpace(secret) != want {
		return ErrBadSecret
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.UnlockedUntil = s.now().Add(s.cfg.UnlockFor)
	s.persistLocked()
	s.deps.Logger.Info("access unlocked", "until", s.st.UnlockedUntil)
	return nil
}

// Lock closes the access gate immediately. Always succeeds.
func (s *Supervisor) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.UnlockedUntil = time.Time{}
	s.persistLocked()
	s.deps.Logger.Info("access locked")
}

// BindRender records where status updates for the current task are delivered.
func (s *Supervisor) BindRender(render state.RenderTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Task == nil {
		return
	}
	s.st.Task.Render = render
	s.persistLocked()
}

// Shutdown pauses any running burst and saves state so the task resumes as
// PAUSED after restart.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	t := s.st.Task
	if t == nil || t.Status != state.StatusRunning {
		s.persistLocked()
		s.mu.Unlock()
		return
	}
	s.pauseLocked("shutdown")
	exited := s.lastExited
	s.mu.Unlock()

	// Best-effort wait for the agent to die so its output is flushed.
	if exited != nil {
		select {
		case <-exited:
		case <-ctx.Done():
		case <-time.After(3 * time.Second):
		}
	}
}

// --- internal transitions (s.mu held) ---

func (s *Supervisor) pauseLocked(reason string) {
	t := s.st.Task

	s.endBurstLocked(reason)
	if s.handle != nil {
		s.handle.Terminate(runner.Graceful)
		s.handle = nil
	}

	prev := t.Status
	t.LastOutputTail = s.deps.Ring.Tail(s.cfg.TailLines)
	t.Status = state.StatusPaused
	s.persistLocked()
	s.publishTransitionLocked(prev, state.StatusPaused, reason)
	s.deps.Logger.Info("task paused", "task_id", t.ID, "reason", reason)
}

func (s *Supervisor) startBurstLocked(prompt string) {
	s.burstSeq++
	seq := s.burstSeq
	t := s.st.Task

	if s.deps.Tracer != nil {
		_, span := s.deps.Tracer.Start(context.Background(), "burst",
			trace.WithAttributes(
				attribute.String("task_id", t.ID),
				attribute.Int("continuation", t.ContinuationCount),
			))
		s.burstSpan = span
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.BurstsStarted.Add(context.Background(), 1)
	}

	h := s.deps.Runner.Run(t.ID, prompt, t.LogPath)
	s.handle = h
	exited := make(chan struct{})
	s.lastExited = exited

	s.sched.Start(s.cfg.Heartbeat, s.cfg.Quantum,
		func() { s.onHeartbeat(seq) },
		func() { s.onQuantumExpiry(seq) },
	)

	go func() {
		es := <-h.Done()
		s.onExit(seq, es)
		close(exited)
	}()
}

func (s *Supervisor) endBurstLocked(reason string) {
	s.sched.Stop()
	if s.burstSpan != nil {
		s.burstSpan.SetAttributes(attribute.String("end_reason", reason))
		s.burstSpan.End()
		s.burstSpan = nil
	}
	if s.deps.Metrics != nil && s.st.Task != nil && s.st.Task.Status == state.StatusRunning {
		dur := s.now().Sub(s.st.Task.QuantumStartedAt).Seconds()
		s.deps.Metrics.BurstDuration.Record(context.Background(), dur)
	}
}

// onHeartbeat pushes a status snapshot while running. Stale heartbeats from a
// previous burst are dropped by the sequence check.
func (s *Supervisor) onHeartbeat(seq int) {
	s.mu.Lock()
	if seq != s.burstSeq || s.st.Task == nil || s.st.Task.Status != state.StatusRunning {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.Heartbeats.Add(context.Background(), 1)
	}
	s.deps.Bus.Publish(bus.TopicTaskHeartbeat, snap)
}

// onQuantumExpiry pauses the burst when its time quantum runs out. An
// operator pause that reached the sequence point first makes this a no-op.
func (s *Supervisor) onQuantumExpiry(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.burstSeq || s.st.Task == nil || s.st.Task.Status != state.StatusRunning {
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.QuantumTimeouts.Add(context.Background(), 1)
	}
	s.pauseLocked("quantum_expired")
}

// onExit handles subprocess termination, including spawn failures. Exits
// observed after the task already left RUNNING (pause/stop raced ahead) do
// not drive transitions.
func (s *Supervisor) onExit(seq int, es runner.ExitStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.burstSeq || s.st.Task == nil || s.st.Task.Status != state.StatusRunning {
		return
	}

	t := s.st.Task
	prev := t.Status
	t.LastOutputTail = s.deps.Ring.Tail(s.cfg.TailLines)

	var next state.Status
	reason := "exit"
	switch {
	case es.SpawnErr != nil:
		next = state.StatusError
		reason = "spawn_failed"
		s.deps.Logger.Error("agent spawn failed", "task_id", t.ID, "error", es.SpawnErr)
	case es.Code == 0:
		next = state.StatusCompleted
	default:
		next = state.StatusError
		s.deps.Logger.Warn("agent exited nonzero", "task_id", t.ID, "exit_code", es.Code)
	}

	s.endBurstLocked(reason)
	s.handle = nil
	t.Status = next
	s.persistLocked()
	s.publishTransitionLocked(prev, next, reason)
	s.archiveLocked(t)
	if s.deps.Metrics != nil {
		s.deps.Metrics.TaskOutcomes.Add(context.Background(), 1)
	}
	s.deps.Logger.Info("task finished burst", "task_id", t.ID, "status", next)
}

// --- helpers (s.mu held) ---

func (s *Supervisor) snapshotLocked() Snapshot {
	t := s.st.Task
	tail := t.LastOutputTail
	if t.Status == state.StatusRunning {
		tail = s.deps.Ring.Tail(s.cfg.TailLines)
	}
	return buildSnapshot(t, s.now(), s.cfg.Quantum, tail)
}

// persistLocked is write-through: every mutation is saved before the
// operation returns. Save failure degrades to in-memory-only state.
func (s *Supervisor) persistLocked() {
	if err := s.deps.Store.Save(s.st); err != nil {
		s.deps.Logger.Error("state save failed, running degraded", "error", err)
	}
}

func (s *Supervisor) publishTransitionLocked(from, to state.Status, reason string) {
	s.deps.Bus.Publish(bus.TopicTaskStateChanged, bus.TaskStateChangedEvent{
		TaskID:    s.st.Task.ID,
		OldStatus: string(from),
		NewStatus: string(to),
		Reason:    reason,
	})
}

func (s *Supervisor) archiveLocked(t *state.Task) {
	s.archiveWithStatusLocked(t, string(t.Status))
}

func (s *Supervisor) archiveWithStatusLocked(t *state.Task, finalStatus string) {
	if s.deps.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rec := persistence.TaskRecord{
		TaskID:            t.ID,
		Description:       t.Description,
		FinalStatus:       finalStatus,
		ContinuationCount: t.ContinuationCount,
		StartedAt:         t.StartedAt,
		FinishedAt:        s.now(),
		LogPath:           t.LogPath,
	}
	if err := s.deps.History.RecordFinished(ctx, rec); err != nil {
		s.deps.Logger.Warn("task archive failed", "task_id", t.ID, "error", err)
	}
}
