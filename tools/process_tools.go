package tools

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultWaitTimeout     = 15 * time.Second
	defaultRunUntilTimeout = 30 * time.Second
	// Slack between a tool's own deadline and the registry timeout.
	waitSlack = 5 * time.Second
)

// secondsParamTimeout lets tools with a timeout_sec argument outlive the
// default registry timeout.
func secondsParamTimeout(def time.Duration) func(Params) time.Duration {
	return func(p Params) time.Duration {
		return p.Seconds("timeout_sec", def) + p.Seconds("terminate_grace_sec", 0) + waitSlack
	}
}

// SpawnProcessTool starts a long-running background command.
func SpawnProcessTool(pm *ProcessManager) Tool {
	return New(Definition{
		Name:        "spawn_process",
		Description: "Start a long-running process (server, watcher) in the background. Returns a process id and log paths. Use wait_for_port to confirm a service is up and kill_process to stop it.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command":     map[string]interface{}{"type": "string", "description": "Command to run through the shell."},
				"cwd":         map[string]interface{}{"type": "string", "description": "Working directory (default: workspace)."},
				"stdout_path": map[string]interface{}{"type": "string", "description": "File for stdout (default: a log file in the process log directory)."},
				"stderr_path": map[string]interface{}{"type": "string", "description": "File for stderr (default: a log file in the process log directory)."},
			},
			"required": []string{"command"},
		},
		Mutating: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		command, _ := params.String("command")
		if strings.TrimSpace(command) == "" {
			return Result{}, fmt.Errorf("%w: 'command' must not be empty", ErrInvalidParams)
		}
		p, err := pm.Spawn(command, params.StringOr("cwd", ""), params.StringOr("stdout_path", ""), params.StringOr("stderr_path", ""))
		if err != nil {
			return Result{}, err
		}
		return Textf("id: %s\npid: %d\ncommand: %s\ncwd: %s\nstdout_path: %s\nstderr_path: %s",
			p.ID, p.PID, p.Command, p.Dir, p.StdoutPath, p.StderrPath), nil
	})
}

// KillProcessTool terminates a background process group.
func KillProcessTool(pm *ProcessManager) Tool {
	return New(Definition{
		Name:        "kill_process",
		Description: "Terminate a background process started with spawn_process, by id or pid. TERM waits briefly before escalating to KILL.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":     map[string]interface{}{"type": "string", "description": "Process id returned by spawn_process."},
				"pid":    map[string]interface{}{"type": "integer", "description": "Process id number, as an alternative to id."},
				"signal": map[string]interface{}{"type": "string", "enum": []string{"TERM", "KILL"}, "description": "TERM (default) or KILL."},
			},
		},
		Mutating: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		ref := params.StringOr("id", "")
		if ref == "" {
			if pid := params.Int("pid", 0); pid > 0 {
				ref = strconv.Itoa(pid)
			}
		}
		if ref == "" {
			return Result{}, fmt.Errorf("%w: provide 'id' or 'pid'", ErrInvalidParams)
		}

		p, ok := pm.Get(ref)
		if !ok {
			return Result{}, fmt.Errorf("%w: no background process %q (use list_processes)", ErrNotFound, ref)
		}
		if !p.Running() {
			_ = pm.Kill(ref, 0)
			return Textf("%s (pid %d): already exited with code %d", p.ID, p.PID, p.ExitCode()), nil
		}

		grace := DefaultKillGrace
		signal := strings.ToUpper(params.StringOr("signal", "TERM"))
		if signal == "KILL" {
			grace = 0
		}
		if err := pm.Kill(ref, grace); err != nil {
			return Result{}, err
		}
		return Textf("%s (pid %d): terminated with %s", p.ID, p.PID, signal), nil
	})
}

// ListProcessesTool reports the tracked background processes.
func ListProcessesTool(pm *ProcessManager) Tool {
	return New(Definition{
		Name:        "list_processes",
		Description: "List background processes started in this run with their status.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}, func(ctx context.Context, params Params) (Result, error) {
		procs := pm.List()
		if len(procs) == 0 {
			return Text("No background processes."), nil
		}
		var sb strings.Builder
		for _, p := range procs {
			state := "exited"
			if p.Running {
				state = "running"
			}
			fmt.Fprintf(&sb, "%s pid=%d %s uptime=%s: %s\n", p.ID, p.PID, state, p.Uptime, p.Command)
		}
		return Text(strings.TrimRight(sb.String(), "\n")), nil
	})
}

// WaitForPortTool polls until host:port accepts TCP connections.
func WaitForPortTool() Tool {
	return New(Definition{
		Name:        "wait_for_port",
		Description: "Wait until a TCP host:port is accepting connections.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"host":              map[string]interface{}{"type": "string", "description": "Host (default: 127.0.0.1)."},
				"port":              map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 65535},
				"timeout_sec":       map[string]interface{}{"type": "number", "description": "Give up after this many seconds (default: 15)."},
				"poll_interval_sec": map[string]interface{}{"type": "number", "description": "Seconds between attempts (default: 0.2)."},
			},
			"required": []string{"port"},
		},
		ParamTimeout: secondsParamTimeout(defaultWaitTimeout),
	}, func(ctx context.Context, params Params) (Result, error) {
		addr := net.JoinHostPort(params.StringOr("host", "127.0.0.1"), strconv.Itoa(params.Int("port", 0)))
		timeout := params.Seconds("timeout_sec", defaultWaitTimeout)
		interval := params.Seconds("poll_interval_sec", 200*time.Millisecond)

		deadline := time.Now().Add(timeout)
		dialer := net.Dialer{Timeout: time.Second}
		var lastErr error
		for {
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err == nil {
				conn.Close()
				return Textf("%s ready=true", addr), nil
			}
			lastErr = err
			if time.Now().Add(interval).After(deadline) {
				break
			}
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(interval):
			}
		}
		return Result{}, fmt.Errorf("%w: %s not accepting connections after %s: %v", ErrTimeout, addr, timeout, lastErr)
	})
}

// WaitForFileTool waits until a path exists with at least min_size_bytes.
func WaitForFileTool(ws *Workspace) Tool {
	return New(Definition{
		Name:        "wait_for_file",
		Description: "Wait until a file exists (optionally with a minimum size).",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":              map[string]interface{}{"type": "string"},
				"timeout_sec":       map[string]interface{}{"type": "number", "description": "Give up after this many seconds (default: 15)."},
				"poll_interval_sec": map[string]interface{}{"type": "number", "description": "Seconds between checks (default: 0.1)."},
				"min_size_bytes":    map[string]interface{}{"type": "integer", "description": "Minimum size before the file counts as ready (default: 0)."},
			},
			"required": []string{"path"},
		},
		ParamTimeout: secondsParamTimeout(defaultWaitTimeout),
	}, func(ctx context.Context, params Params) (Result, error) {
		path := ws.Resolve(params.StringOr("path", ""))
		timeout := params.Seconds("timeout_sec", defaultWaitTimeout)
		interval := params.Seconds("poll_interval_sec", 100*time.Millisecond)
		minSize := int64(params.Int("min_size_bytes", 0))

		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		info, err := waitForFile(wctx, path, minSize, interval)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, fmt.Errorf("%w: waiting for %s after %s", ErrTimeout, path, timeout)
		}
		return Textf("path=%s exists=true size_bytes=%d mtime=%s", path, info.Size(), info.ModTime().Format(time.RFC3339)), nil
	})
}

// waitForFile watches the parent directory with fsnotify and also polls, as
// some filesystems do not deliver events.
func waitForFile(ctx context.Context, path string, minSize int64, interval time.Duration) (os.FileInfo, error) {
	ready := func() (os.FileInfo, bool) {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() < minSize {
			return nil, false
		}
		return info, true
	}
	if info, ok := ready(); ok {
		return info, nil
	}

	var events <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if watcher.Add(filepath.Dir(path)) == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
		case <-ticker.C:
		}
		if info, ok := ready(); ok {
			return info, nil
		}
	}
}

// RunUntilFileTool runs a command until it produces a file, then stops it.
// The process is always terminated before the tool returns.
func RunUntilFileTool(pm *ProcessManager, ws *Workspace) Tool {
	return New(Definition{
		Name:        "run_until_file",
		Description: "Run a command in the background until it creates file_path (with at least min_size_bytes), then terminate it. Fails if the file does not appear within timeout_sec.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command":             map[string]interface{}{"type": "string"},
				"file_path":           map[string]interface{}{"type": "string"},
				"cwd":                 map[string]interface{}{"type": "string"},
				"timeout_sec":         map[string]interface{}{"type": "number", "description": "Default: 30."},
				"poll_interval_sec":   map[string]interface{}{"type": "number", "description": "Default: 0.1."},
				"min_size_bytes":      map[string]interface{}{"type": "integer", "description": "Default: 1."},
				"terminate_grace_sec": map[string]interface{}{"type": "number", "description": "Seconds between TERM and KILL. Default: 2."},
			},
			"required": []string{"command", "file_path"},
		},
		Mutating:     true,
		ParamTimeout: secondsParamTimeout(defaultRunUntilTimeout),
	}, func(ctx context.Context, params Params) (Result, error) {
		command, _ := params.String("command")
		target := ws.Resolve(params.StringOr("file_path", ""))
		timeout := params.Seconds("timeout_sec", defaultRunUntilTimeout)
		interval := params.Seconds("poll_interval_sec", 100*time.Millisecond)
		grace := params.Seconds("terminate_grace_sec", DefaultKillGrace)
		minSize := int64(params.Int("min_size_bytes", 1))

		p, err := pm.Spawn(command, params.StringOr("cwd", ""), "", "")
		if err != nil {
			return Result{}, err
		}
		started := time.Now()

		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		// Stop waiting as soon as the process exits on its own.
		go func() {
			select {
			case <-p.Done():
				// Give a just-written file one more check.
				time.Sleep(interval)
				cancel()
			case <-wctx.Done():
			}
		}()
		_, waitErr := waitForFile(wctx, target, minSize, interval)
		exited := !p.Running()

		killErr := pm.Kill(p.ID, grace)
		summary := fmt.Sprintf("id=%s\npid=%d\nfile_path=%s\nfound=%t\nduration_sec=%.2f\nexit_code=%d\nstdout_path=%s\nstderr_path=%s",
			p.ID, p.PID, target, waitErr == nil, time.Since(started).Seconds(), exitCodeOrNone(p), p.StdoutPath, p.StderrPath)

		switch {
		case killErr != nil:
			return Text(summary), killErr
		case waitErr == nil:
			return Text(summary), nil
		case ctx.Err() != nil:
			return Text(summary), ctx.Err()
		case exited:
			return Text(summary), fmt.Errorf("process exited before %s appeared", target)
		default:
			return Text(summary), fmt.Errorf("%w: %s did not appear within %s; process terminated", ErrTimeout, target, timeout)
		}
	})
}

func exitCodeOrNone(p *Process) int {
	if p.Running() {
		return -1
	}
	return p.ExitCode()
}
