package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// waitDelay bounds how long Wait keeps reading pipes after the process group
// has been killed; grandchildren may hold them open.
const waitDelay = 2 * time.Second

// ExecResult holds the outcome of a foreground command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Workspace is the directory tools operate in. Relative paths in tool
// arguments resolve against Root.
type Workspace struct {
	Root string
}

// NewWorkspace returns a workspace rooted at dir, or the current directory.
func NewWorkspace(dir string) (*Workspace, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Workspace{Root: abs}, nil
}

// Resolve makes path absolute relative to the workspace root.
func (w *Workspace) Resolve(path string) string {
	if path == "" {
		return w.Root
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(w.Root, path)
}

// Platform describes the host for the system prompt.
func (w *Workspace) Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// Command builds a shell command running in its own process group. When ctx
// ends the whole group is killed, not just the shell.
func (w *Workspace) Command(ctx context.Context, command, dir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, shellPath(), "-c", command)
	w.prepare(cmd, dir)
	cmd.Cancel = func() error {
		return killGroup(cmd, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// BackgroundCommand builds a shell command that is not tied to a context.
func (w *Workspace) BackgroundCommand(command, dir string) *exec.Cmd {
	cmd := exec.Command(shellPath(), "-c", command)
	w.prepare(cmd, dir)
	return cmd
}

func (w *Workspace) prepare(cmd *exec.Cmd, dir string) {
	cmd.Dir = w.Resolve(dir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(filterEnvironment(), "TERM=dumb")
}

// Exec runs command to completion or until ctx ends.
func (w *Workspace) Exec(ctx context.Context, command, dir string) (*ExecResult, error) {
	cmd := w.Command(ctx, command, dir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return nil, fmt.Errorf("failed to run command: %w", err)
}

func killGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return cmd.Process.Signal(sig)
	}
	return nil
}

func shellPath() string {
	if p, err := exec.LookPath("bash"); err == nil {
		return p
	}
	return "/bin/sh"
}

// Variables with these suffixes are withheld from tool subprocesses.
var sensitiveEnvSuffixes = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

func filterEnvironment() []string {
	var filtered []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || isSensitiveEnvVar(name) {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
