package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	patchBegin     = "*** Begin Patch"
	patchEnd       = "*** End Patch"
	patchAdd       = "*** Add File: "
	patchDelete    = "*** Delete File: "
	patchUpdate    = "*** Update File: "
	patchMove      = "*** Move to: "
	patchEndOfFile = "*** End of File"
)

type hunkLine struct {
	op   byte // ' ' context, '-' removed, '+' added
	text string
}

type hunk struct {
	anchor string
	lines  []hunkLine
}

// before and after are the hunk's view of the file around the edit.
func (h hunk) before() []string {
	var out []string
	for _, l := range h.lines {
		if l.op != '+' {
			out = append(out, l.text)
		}
	}
	return out
}

func (h hunk) after() []string {
	var out []string
	for _, l := range h.lines {
		if l.op != '-' {
			out = append(out, l.text)
		}
	}
	return out
}

// trimTrailingBlank drops blank context lines at the end of a hunk; they
// usually separate sections rather than describe the file.
func (h *hunk) trimTrailingBlank() {
	for len(h.lines) > 0 {
		last := h.lines[len(h.lines)-1]
		if last.op != ' ' || last.text != "" {
			return
		}
		h.lines = h.lines[:len(h.lines)-1]
	}
}

type fileChange struct {
	kind   string // add, delete, update
	path   string
	moveTo string
	added  []string
	hunks  []hunk
}

// ApplyPatchTool edits files with the Begin/End Patch envelope format.
func ApplyPatchTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "apply_patch",
		Description: "Apply a patch to create, delete, move or edit files.\n" +
			"Format:\n" +
			"*** Begin Patch\n" +
			"*** Add File: path\n+line\n" +
			"*** Delete File: path\n" +
			"*** Update File: path\n*** Move to: new_path (optional)\n" +
			"@@ optional anchor line\n context\n-removed\n+added\n" +
			"*** End Patch\n" +
			"Include about 3 lines of unchanged context around each change.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"patch": map[string]interface{}{
					"type":        "string",
					"description": "The full patch text, including the Begin and End markers.",
				},
			},
			"required": []string{"patch"},
		},
		Mutating: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		changes, err := parsePatch(params.StringOr("patch", ""))
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		var summary []string
		for _, c := range changes {
			if err := ctx.Err(); err != nil {
				return Text(strings.Join(summary, "\n")), err
			}
			line, err := applyChange(ws, c)
			if err != nil {
				return Text(strings.Join(summary, "\n")), err
			}
			summary = append(summary, line)
		}
		if len(summary) == 0 {
			return Text("No changes in patch."), nil
		}
		return Text(strings.Join(summary, "\n")), nil
	})
}

func parsePatch(text string) ([]fileChange, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) || strings.TrimSpace(lines[start]) != patchBegin {
		return nil, fmt.Errorf("patch must start with %q", patchBegin)
	}

	var changes []fileChange
	var cur *fileChange
	flush := func() {
		if cur != nil {
			for i := range cur.hunks {
				cur.hunks[i].trimTrailingBlank()
			}
			changes = append(changes, *cur)
			cur = nil
		}
	}

	ended := false
	for _, raw := range lines[start+1:] {
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == patchEnd:
			ended = true
		case strings.HasPrefix(trimmed, patchAdd):
			flush()
			cur = &fileChange{kind: "add", path: strings.TrimPrefix(trimmed, patchAdd)}
		case strings.HasPrefix(trimmed, patchDelete):
			flush()
			cur = &fileChange{kind: "delete", path: strings.TrimPrefix(trimmed, patchDelete)}
		case strings.HasPrefix(trimmed, patchUpdate):
			flush()
			cur = &fileChange{kind: "update", path: strings.TrimPrefix(trimmed, patchUpdate)}
		case strings.HasPrefix(trimmed, patchMove):
			if cur == nil || cur.kind != "update" {
				return nil, fmt.Errorf("%q outside an Update File section", trimmed)
			}
			cur.moveTo = strings.TrimPrefix(trimmed, patchMove)
		case trimmed == patchEndOfFile:
		case cur == nil:
			if trimmed != "" {
				return nil, fmt.Errorf("unexpected line outside a file section: %q", raw)
			}
		case cur.kind == "add":
			if strings.HasPrefix(raw, "+") {
				cur.added = append(cur.added, raw[1:])
			} else if trimmed != "" {
				return nil, fmt.Errorf("added file %s: line must start with '+': %q", cur.path, raw)
			}
		case cur.kind == "update":
			if strings.HasPrefix(trimmed, "@@") {
				cur.hunks = append(cur.hunks, hunk{anchor: strings.TrimSpace(strings.TrimPrefix(trimmed, "@@"))})
				continue
			}
			if len(cur.hunks) == 0 {
				cur.hunks = append(cur.hunks, hunk{})
			}
			h := &cur.hunks[len(cur.hunks)-1]
			switch {
			case raw == "":
				h.lines = append(h.lines, hunkLine{op: ' '})
			case raw[0] == ' ' || raw[0] == '-' || raw[0] == '+':
				h.lines = append(h.lines, hunkLine{op: raw[0], text: raw[1:]})
			default:
				return nil, fmt.Errorf("updated file %s: line must start with ' ', '-' or '+': %q", cur.path, raw)
			}
		case trimmed != "":
			return nil, fmt.Errorf("deleted file %s: unexpected content %q", cur.path, raw)
		}
		if ended {
			break
		}
	}
	flush()
	if !ended {
		return nil, fmt.Errorf("patch must end with %q", patchEnd)
	}
	for _, c := range changes {
		if c.path == "" {
			return nil, fmt.Errorf("file section without a path")
		}
	}
	return changes, nil
}

func applyChange(ws *Workspace, c fileChange) (string, error) {
	path := ws.Resolve(c.path)
	switch c.kind {
	case "add":
		if err := writeLines(path, c.added, true); err != nil {
			return "", err
		}
		return "A " + c.path, nil

	case "delete":
		if _, err := statPath(path); err != nil {
			return "", err
		}
		if err := os.Remove(path); err != nil {
			return "", fmt.Errorf("failed to delete %s: %w", c.path, err)
		}
		return "D " + c.path, nil
	}

	if _, err := statPath(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", c.path, err)
	}
	content := string(data)
	trailingNewline := strings.HasSuffix(content, "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}

	lines, err = applyHunks(lines, c.hunks)
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.path, err)
	}

	if c.moveTo == "" {
		if err := writeLines(path, lines, trailingNewline); err != nil {
			return "", err
		}
		return "M " + c.path, nil
	}
	if err := writeLines(ws.Resolve(c.moveTo), lines, trailingNewline); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove %s after move: %w", c.path, err)
	}
	return fmt.Sprintf("M %s -> %s", c.path, c.moveTo), nil
}

// applyHunks applies hunks in file order. Each hunk is located at or after
// the end of the previous one.
func applyHunks(lines []string, hunks []hunk) ([]string, error) {
	cursor := 0
	for i, h := range hunks {
		if h.anchor != "" {
			if at := findLines(lines, []string{h.anchor}, cursor); at >= 0 {
				cursor = at + 1
			}
		}
		before, after := h.before(), h.after()
		if len(before) == 0 {
			// Pure insertion appends to the end of the file.
			lines = append(lines, after...)
			cursor = len(lines)
			continue
		}
		at := findLines(lines, before, cursor)
		if at < 0 {
			return nil, fmt.Errorf("%w: hunk %d context not found: %q", ErrNotFound, i+1, before[0])
		}
		updated := make([]string, 0, len(lines)-len(before)+len(after))
		updated = append(updated, lines[:at]...)
		pos := at
		for _, l := range h.lines {
			switch l.op {
			case ' ':
				// Context keeps the file's own text, whitespace included.
				updated = append(updated, lines[pos])
				pos++
			case '-':
				pos++
			case '+':
				updated = append(updated, l.text)
			}
		}
		updated = append(updated, lines[pos:]...)
		lines = updated
		cursor = at + len(after)
	}
	return lines, nil
}

// findLines searches for want starting at from, first exactly, then ignoring
// trailing whitespace, then ignoring surrounding whitespace.
func findLines(lines, want []string, from int) int {
	normalizers := []func(string) string{
		func(s string) string { return s },
		func(s string) string { return strings.TrimRight(s, " \t") },
		strings.TrimSpace,
	}
	for _, norm := range normalizers {
		for i := from; i+len(want) <= len(lines); i++ {
			match := true
			for j, w := range want {
				if norm(lines[i+j]) != norm(w) {
					match = false
					break
				}
			}
			if match {
				return i
			}
		}
	}
	return -1
}

func writeLines(path string, lines []string, trailingNewline bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	content := strings.Join(lines, "\n")
	if trailingNewline && len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
