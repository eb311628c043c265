package tools

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	handleAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	// DefaultKillGrace is how long a process group gets between SIGTERM and
	// SIGKILL.
	DefaultKillGrace = 2 * time.Second
)

// Process is a background command started by spawn_process or
// run_until_file.
type Process struct {
	ID         string    `json:"id" yaml:"id"`
	PID        int       `json:"pid" yaml:"pid"`
	Command    string    `json:"command" yaml:"command"`
	Dir        string    `json:"dir" yaml:"dir"`
	StdoutPath string    `json:"stdout_path" yaml:"stdout_path"`
	StderrPath string    `json:"stderr_path" yaml:"stderr_path"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`

	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode is valid once Running returns false.
func (p *Process) ExitCode() int {
	<-p.done
	return p.exitCode
}

// Done is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ProcessInfo is a point-in-time view of a Process.
type ProcessInfo struct {
	ID      string        `json:"id" yaml:"id"`
	PID     int           `json:"pid" yaml:"pid"`
	Command string        `json:"command" yaml:"command"`
	Running bool          `json:"running" yaml:"running"`
	Uptime  time.Duration `json:"uptime" yaml:"uptime"`
}

func (p *Process) info() ProcessInfo {
	return ProcessInfo{
		ID:      p.ID,
		PID:     p.PID,
		Command: p.Command,
		Running: p.Running(),
		Uptime:  time.Since(p.StartedAt).Round(time.Millisecond),
	}
}

// ProcessManager tracks background processes for one run. Every process runs
// in its own process group so the whole tree can be terminated.
type ProcessManager struct {
	mu     sync.Mutex
	procs  map[string]*Process
	ws     *Workspace
	logDir string
	logger zerolog.Logger
}

// NewProcessManager creates a manager that writes process logs to logDir
// (a temporary directory when empty).
func NewProcessManager(ws *Workspace, logDir string, logger zerolog.Logger) *ProcessManager {
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), "top-agent-procs")
	}
	return &ProcessManager{
		procs:  make(map[string]*Process),
		ws:     ws,
		logDir: logDir,
		logger: logger,
	}
}

// Spawn starts command in the background. Empty log paths default to files
// under the manager's log directory.
func (m *ProcessManager) Spawn(command, dir, stdoutPath, stderrPath string) (*Process, error) {
	id, err := gonanoid.Generate(handleAlphabet, 8)
	if err != nil {
		return nil, fmt.Errorf("failed to generate process id: %w", err)
	}
	id = "proc_" + id

	if stdoutPath == "" {
		stdoutPath = filepath.Join(m.logDir, id+".out.log")
	}
	if stderrPath == "" {
		stderrPath = filepath.Join(m.logDir, id+".err.log")
	}
	stdout, err := openLog(m.ws.Resolve(stdoutPath))
	if err != nil {
		return nil, err
	}
	stderr, err := openLog(m.ws.Resolve(stderrPath))
	if err != nil {
		stdout.Close()
		return nil, err
	}

	cmd := m.ws.BackgroundCommand(command, dir)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("spawn failed: %w", err)
	}

	p := &Process{
		ID:         id,
		PID:        cmd.Process.Pid,
		Command:    command,
		Dir:        cmd.Dir,
		StdoutPath: stdout.Name(),
		StderrPath: stderr.Name(),
		StartedAt:  time.Now(),
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		p.exitCode = exitCode(err)
		close(p.done)
		m.logger.Debug().Str("id", p.ID).Int("pid", p.PID).Int("exit_code", p.exitCode).Msg("Background process exited")
	}()

	m.mu.Lock()
	m.procs[id] = p
	m.mu.Unlock()

	m.logger.Info().Str("id", id).Int("pid", p.PID).Str("command", command).Msg("Background process started")
	return p, nil
}

// Get finds a process by handle or by PID.
func (m *ProcessManager) Get(ref string) (*Process, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.procs[ref]; ok {
		return p, true
	}
	if pid, err := strconv.Atoi(ref); err == nil {
		for _, p := range m.procs {
			if p.PID == pid {
				return p, true
			}
		}
	}
	return nil, false
}

// Kill terminates the process group: SIGTERM, then SIGKILL after grace. A
// zero grace sends SIGKILL immediately. The process is forgotten afterwards.
func (m *ProcessManager) Kill(ref string, grace time.Duration) error {
	p, ok := m.Get(ref)
	if !ok {
		return fmt.Errorf("%w: no process %q", ErrNotFound, ref)
	}
	err := terminate(p, grace)

	m.mu.Lock()
	delete(m.procs, p.ID)
	m.mu.Unlock()
	return err
}

// List returns every tracked process, oldest first.
func (m *ProcessManager) List() []ProcessInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ProcessInfo, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Uptime > out[j].Uptime })
	return out
}

// Running returns the tracked processes that have not exited.
func (m *ProcessManager) Running() []ProcessInfo {
	var running []ProcessInfo
	for _, info := range m.List() {
		if info.Running {
			running = append(running, info)
		}
	}
	return running
}

// Shutdown terminates every process still running and returns them. A
// non-empty result means the run left processes behind.
func (m *ProcessManager) Shutdown(grace time.Duration) []ProcessInfo {
	leaks := m.Running()
	for _, info := range leaks {
		if err := m.Kill(info.ID, grace); err != nil {
			m.logger.Warn().Err(err).Str("id", info.ID).Msg("Failed to terminate background process")
		}
	}
	return leaks
}

func terminate(p *Process, grace time.Duration) error {
	if !p.Running() {
		return nil
	}
	if grace > 0 {
		if err := killGroup(p.cmd, syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to signal process %s: %w", p.ID, err)
		}
		select {
		case <-p.done:
			return nil
		case <-time.After(grace):
		}
	}
	if err := killGroup(p.cmd, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process %s: %w", p.ID, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(DefaultKillGrace):
		return fmt.Errorf("process %s did not exit after SIGKILL", p.ID)
	}
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
