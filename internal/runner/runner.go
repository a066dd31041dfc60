// Package runner spawns the external agent process for one execution burst
// and streams its output into the ring buffer and the task's log file.
package runner

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/basket/taskpilot/internal/buffer"
	"github.com/basket/taskpilot/internal/bus"
)

const (
	// maxLineBytes bounds a single captured output line.
	maxLineBytes = 1 << 20

	// StderrMarker prefixes log-file lines that came from the error stream.
	StderrMarker = "[stderr] "
)

// SpawnExitCode is the distinguished exit code reported when the process
// never started (executable missing, permission denied).
const SpawnExitCode = -1

// ExitStatus describes how a burst ended.
type ExitStatus struct {
	Code     int
	SpawnErr error // non-nil when the process failed to start
}

// Signal selects the termination variant.
type Signal int

const (
	// Graceful requests cooperative exit (SIGTERM).
	Graceful Signal = iota
	// Forceful kills immediately (SIGKILL).
	Forceful
)

// Handle is the supervisor's grip on one running burst. It is owned by a
// single burst and discarded when the termination event fires.
type Handle struct {
	cmd  *exec.Cmd
	done chan ExitStatus

	termMu sync.Mutex
	termed bool
}

// Done delivers exactly one ExitStatus when the process exits or fails to
// spawn. The channel is buffered; the runner never blocks on it.
func (h *Handle) Done() <-chan ExitStatus {
	return h.done
}

// Terminate signals the process. Graceful sends SIGTERM, Forceful SIGKILL.
// Repeated calls after the first are no-ops so the supervisor can pile a
// forceful cancel on top of a pending graceful stop without double-signaling.
func (h *Handle) Terminate(sig Signal) {
	h.termMu.Lock()
	defer h.termMu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	if h.termed && sig == Graceful {
		return
	}
	h.termed = true
	switch sig {
	case Forceful:
		_ = h.cmd.Process.Kill()
	default:
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Runner spawns agent bursts. The prompt is passed as a discrete argv element,
// never through a shell.
type Runner struct {
	command  string
	baseArgs []string
	workDir  string
	ring     *buffer.Ring
	eventBus *bus.Bus
	logger   *slog.Logger
}

// New creates a Runner. command is the agent executable, baseArgs are
// prepended before the prompt argument.
func New(command string, baseArgs []string, workDir string, ring *buffer.Ring, eventBus *bus.Bus, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		command:  command,
		baseArgs: baseArgs,
		workDir:  workDir,
		ring:     ring,
		eventBus: eventBus,
		logger:   logger,
	}
}

// Run starts one burst for taskID with the given prompt, appending every
// captured line to the ring buffer and to logPath. Spawn failure is reported
// through the handle's Done channel, not returned, so the caller has a single
// termination path.
func (r *Runner) Run(taskID, prompt, logPath string) *Handle {
	h := &Handle{done: make(chan ExitStatus, 1)}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		r.logger.Error("task log open failed", "task_id", taskID, "path", logPath, "error", err)
		h.done <- ExitStatus{Code: SpawnExitCode, SpawnErr: fmt.Errorf("open task log: %w", err)}
		return h
	}

	args := append(append([]string{}, r.baseArgs...), prompt)
	cmd := exec.Command(r.command, args...)
	cmd.Dir = r.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logFile.Close()
		h.done <- ExitStatus{Code: SpawnExitCode, SpawnErr: fmt.Errorf("stdout pipe: %w", err)}
		return h
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		logFile.Close()
		h.done <- ExitStatus{Code: SpawnExitCode, SpawnErr: fmt.Errorf("stderr pipe: %w", err)}
		return h
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		r.logger.Error("agent spawn failed", "task_id", taskID, "command", r.command, "error", err)
		h.done <- ExitStatus{Code: SpawnExitCode, SpawnErr: fmt.Errorf("spawn %s: %w", r.command, err)}
		return h
	}
	h.cmd = cmd

	r.logger.Info("agent burst started", "task_id", taskID, "pid", cmd.Process.Pid, "workdir", r.workDir)

	var logMu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go r.capture(taskID, stdout, logFile, &logMu, false, &wg)
	go r.capture(taskID, stderr, logFile, &logMu, true, &wg)

	go func() {
		wg.Wait()
		err := cmd.Wait()
		logFile.Close()

		code := 0
		if err != nil {
			code = SpawnExitCode
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		r.logger.Info("agent burst exited", "task_id", taskID, "exit_code", code)
		h.done <- ExitStatus{Code: code}
	}()

	return h
}

// capture reads one stream line by line. Every line goes to the ring buffer
// and the log file; stderr lines carry a marker prefix in the log.
func (r *Runner) capture(taskID string, stream io.Reader, logFile *os.File, logMu *sync.Mutex, isStderr bool, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Text()
		r.ring.Append(line)

		logLine := line
		if isStderr {
			logLine = StderrMarker + line
		}
		logMu.Lock()
		_, werr := logFile.WriteString(logLine + "\n")
		logMu.Unlock()
		if werr != nil {
			r.logger.Warn("task log write failed", "task_id", taskID, "error", werr)
		}

		if r.eventBus != nil {
			r.eventBus.Publish(bus.TopicTaskOutput, bus.TaskOutputEvent{
				TaskID: taskID,
				Line:   line,
				Stderr: isStderr,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn("output stream read failed", "task_id", taskID, "stderr", isStderr, "error", err)
	}
}
