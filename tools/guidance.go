package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Error classes handlers wrap so the registry can pick remediation text.
var (
	ErrInvalidParams = errors.New("invalid parameters")
	ErrNotFound      = errors.New("not found")
	ErrPermission    = errors.New("permission denied")
	ErrTimeout       = errors.New("execution timed out")
	ErrUnknownTool   = errors.New("unknown tool")
)

const failureGuidance = `
---
[TOOL CALL FAILED] The tool '%s' did not execute successfully.
%s
Please analyze and fix:
1. Read the error message above and work out what it indicates
2. Verify all required parameters were provided correctly
3. For a file or path problem: check that the path exists and is spelled correctly
4. For a command problem: check the command syntax
5. For missing parameters: review the tool's required parameters

Next action: fix the issue and retry with a corrected tool call, or take a different approach.`

const invalidParamsGuidance = `
---
[INVALID TOOL PARAMETERS] The tool '%s' was called with invalid or missing parameters.

%s

Return the corrected tool call with every required parameter properly specified.`

// hint returns a one-line remediation for well-known error classes.
func hint(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTool):
		return "Hint: only the tools listed in your tool specification exist. Check the tool name spelling."
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return "Hint: the path does not exist. Check the path casing, or list the parent directory with list_dir first."
	case errors.Is(err, ErrPermission), errors.Is(err, fs.ErrPermission):
		return "Hint: permission was denied. Check file modes or write to a location you own."
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "Hint: the call ran out of time and was terminated. Use a longer timeout, split the work into smaller steps, or run it in the background with spawn_process."
	}
	return ""
}

// FailureGuidance is appended to every failed result except parameter
// validation failures.
func FailureGuidance(tool string, err error) string {
	h := hint(err)
	if h != "" {
		h = "\n" + h + "\n"
	}
	return fmt.Sprintf(failureGuidance, tool, h)
}

// InvalidParamsGuidance is appended when arguments fail validation.
func InvalidParamsGuidance(tool string, details string) string {
	return fmt.Sprintf(invalidParamsGuidance, tool, strings.TrimSpace(details))
}
