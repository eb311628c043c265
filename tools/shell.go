package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const maxCommandTimeout = 180 * time.Second

const shellTimeoutTemplate = `Command timed out after %s and was terminated.

Consider:
1. Increasing timeout_ms if the operation legitimately needs more time
2. Checking whether the command waits for input (use -y flags, heredocs, etc.)
3. Running long-lived services with spawn_process instead
4. Breaking the command into smaller steps

Partial output before timeout:
%s`

// ShellTool runs a foreground command through the workspace shell.
func ShellTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "shell_command",
		Description: "Runs a shell command and returns its output.\n" +
			"Always set the `workdir` param when using this tool. Do not use `cd` unless absolutely necessary.\n" +
			"Use `rg` (ripgrep) for searching text or files as it is much faster than grep.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "The shell command to execute",
				},
				"workdir": map[string]interface{}{
					"type":        "string",
					"description": "The working directory to execute the command in",
				},
				"timeout_ms": map[string]interface{}{
					"type":        "number",
					"description": "Timeout in milliseconds (default: 60000, max: 180000). Split longer work into several commands.",
				},
			},
			"required": []string{"command"},
		},
		Mutating:     true,
		ParamTimeout: shellTimeout,
	}, func(ctx context.Context, params Params) (Result, error) {
		command, _ := params.String("command")
		if strings.TrimSpace(command) == "" {
			return Result{}, fmt.Errorf("%w: 'command' must not be empty. Usage: shell_command(command: str, workdir?: str, timeout_ms?: int)", ErrInvalidParams)
		}

		limit := "its deadline"
		if deadline, ok := ctx.Deadline(); ok {
			limit = formatSeconds(time.Until(deadline).Round(time.Second))
		}

		res, err := ws.Exec(ctx, command, params.StringOr("workdir", ""))
		if err != nil {
			return Result{}, err
		}
		output := formatShellOutput(res)
		if res.TimedOut {
			return Text(fmt.Sprintf(shellTimeoutTemplate, limit, output)), ErrTimeout
		}
		return Text(output), nil
	})
}

// shellTimeout honors timeout_ms, capped at three minutes.
func shellTimeout(params Params) time.Duration {
	ms := params.Int("timeout_ms", 0)
	if ms <= 0 {
		return 0
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		d = time.Second
	}
	if d > maxCommandTimeout {
		d = maxCommandTimeout
	}
	return d
}

func formatShellOutput(res *ExecResult) string {
	var sb strings.Builder
	sb.WriteString(res.Stdout)
	if res.Stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\nstderr:\n")
		}
		sb.WriteString(res.Stderr)
	}
	output := strings.TrimSpace(sb.String())

	if res.ExitCode != 0 && !res.TimedOut {
		if output != "" {
			output += "\n\n"
		}
		output += fmt.Sprintf("Exit code: %d", res.ExitCode)
	}
	if output == "" {
		output = "(no output)"
	}
	return output
}
