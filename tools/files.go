package tools

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	defaultReadLimit = 2000
	defaultListLimit = 50
	defaultListDepth = 2
	defaultGrepLimit = 100
)

// statPath maps os errors onto the tool error classes.
func statPath(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil:
		return info, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermission, path)
	default:
		return nil, err
	}
}

// ReadFileTool returns file contents with L{n} line prefixes.
func ReadFileTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "read_file",
		Description: "Reads a local file with 1-indexed line numbers.\n" +
			"Returns file content with line numbers in format 'L{number}: {content}'.\n" +
			"Supports reading specific ranges with offset and limit parameters.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute or relative path to the file",
				},
				"offset": map[string]interface{}{
					"type":        "number",
					"description": "The line number to start reading from (1-indexed, default: 1)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "The maximum number of lines to return (default: 2000)",
				},
			},
			"required": []string{"file_path"},
		},
		Cacheable: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		path := ws.Resolve(params.StringOr("file_path", ""))
		info, err := statPath(path)
		if err != nil {
			return Result{}, err
		}
		if info.IsDir() {
			return Result{}, fmt.Errorf("%w: %s is a directory, use list_dir", ErrInvalidParams, path)
		}

		offset := params.Int("offset", 1)
		if offset < 1 {
			offset = 1
		}
		limit := params.Int("limit", defaultReadLimit)
		if limit < 1 {
			limit = defaultReadLimit
		}
		return readLines(path, offset, limit)
	})
}

func readLines(path string, offset, limit int) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line, remaining := 0, 0
	end := offset + limit - 1
	for scanner.Scan() {
		line++
		switch {
		case line < offset:
		case line <= end:
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "L%d: %s", line, strings.TrimRight(scanner.Text(), " \t\r"))
		default:
			remaining++
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	if remaining > 0 {
		fmt.Fprintf(&sb, "\n\n[... %d more lines ...]", remaining)
	}
	if sb.Len() == 0 {
		if line == 0 {
			return Text("(empty file)"), nil
		}
		return Textf("(offset %d is past the end of the file, which has %d lines)", offset, line), nil
	}
	return Text(sb.String()), nil
}

// WriteFileTool creates or overwrites a file.
func WriteFileTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "write_file",
		Description: "Write content to a file.\n" +
			"Creates the file if it doesn't exist, or overwrites if it does.\n" +
			"Parent directories are created automatically.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Content to write to the file",
				},
			},
			"required": []string{"file_path", "content"},
		},
		Mutating: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		path := ws.Resolve(params.StringOr("file_path", ""))
		content, _ := params.String("content")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Result{}, fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return Result{}, fmt.Errorf("%w: %s", ErrPermission, path)
			}
			return Result{}, fmt.Errorf("failed to write file: %w", err)
		}
		return Textf("Wrote %d bytes to %s", len(content), path), nil
	})
}

// ListDirTool lists a directory tree, directories first.
func ListDirTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "list_dir",
		Description: "Lists entries in a local directory with type indicators.\n" +
			"Directories are marked with '/', symlinks with '@'.\n" +
			"Supports recursive listing with configurable depth.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"dir_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute or relative path to the directory to list",
				},
				"offset": map[string]interface{}{
					"type":        "number",
					"description": "The entry number to start listing from (1-indexed, default: 1)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "The maximum number of entries to return (default: 50)",
				},
				"depth": map[string]interface{}{
					"type":        "number",
					"description": "The maximum directory depth to traverse (default: 2)",
				},
			},
			"required": []string{"dir_path"},
		},
		Cacheable: true,
	}, func(ctx context.Context, params Params) (Result, error) {
		root := ws.Resolve(params.StringOr("dir_path", "."))
		info, err := statPath(root)
		if err != nil {
			return Result{}, err
		}
		if !info.IsDir() {
			return Result{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidParams, root)
		}

		offset := params.Int("offset", 1)
		if offset < 1 {
			offset = 1
		}
		limit := params.Int("limit", defaultListLimit)
		if limit < 1 {
			limit = defaultListLimit
		}
		depth := params.Int("depth", defaultListDepth)

		// Collect one entry beyond the window to know whether more exist.
		var entries []string
		listRecursive(root, root, depth, 0, offset+limit, &entries)
		if len(entries) == 0 {
			return Text("(empty directory)"), nil
		}
		if offset > len(entries) {
			return Textf("(offset %d is past the last entry)", offset), nil
		}
		window := entries[offset-1:]
		more := false
		if len(window) > limit {
			window = window[:limit]
			more = true
		}
		out := strings.Join(window, "\n")
		if more {
			out += "\n\n[... more entries; raise offset or limit to see them ...]"
		}
		return Text(out), nil
	})
}

func listRecursive(base, dir string, maxDepth, depth, maxEntries int, out *[]string) {
	if depth > maxDepth || len(*out) >= maxEntries {
		return
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir() != items[j].IsDir() {
			return items[i].IsDir()
		}
		return strings.ToLower(items[i].Name()) < strings.ToLower(items[j].Name())
	})
	for _, item := range items {
		if len(*out) >= maxEntries {
			return
		}
		full := filepath.Join(dir, item.Name())
		rel, _ := filepath.Rel(base, full)
		switch {
		case item.Type()&fs.ModeSymlink != 0:
			*out = append(*out, rel+"@")
		case item.IsDir():
			*out = append(*out, rel+"/")
			listRecursive(base, full, maxDepth, depth+1, maxEntries, out)
		default:
			*out = append(*out, rel)
		}
	}
}

// GrepFilesTool lists files whose contents match a pattern, newest first.
func GrepFilesTool(ws *Workspace) Tool {
	return New(Definition{
		Name: "grep_files",
		Description: "Finds files whose contents match the pattern.\n" +
			"Uses ripgrep (rg) when available.\n" +
			"Returns file paths sorted by modification time.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern": map[string]interface{}{
					"type":        "string",
					"description": "Regular expression pattern to search for",
				},
				"include": map[string]interface{}{
					"type":        "string",
					"description": "Optional glob to filter which files are searched (e.g., '*.py')",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Directory or file path to search. Defaults to working directory.",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of file paths to return (default: 100)",
				},
			},
			"required": []string{"pattern"},
		},
		Cacheable: true,
		Timeout:   30 * time.Second,
	}, func(ctx context.Context, params Params) (Result, error) {
		pattern, _ := params.String("pattern")
		if pattern == "" {
			return Result{}, fmt.Errorf("%w: 'pattern' must not be empty", ErrInvalidParams)
		}
		root := ws.Resolve(params.StringOr("path", "."))
		if _, err := statPath(root); err != nil {
			return Result{}, err
		}
		include := params.StringOr("include", "")
		limit := params.Int("limit", defaultGrepLimit)
		if limit < 1 {
			limit = defaultGrepLimit
		}

		files, err := ripgrepFiles(ctx, ws.Root, pattern, include, root)
		if errors.Is(err, exec.ErrNotFound) {
			files, err = walkGrepFiles(ctx, pattern, include, root)
		}
		if err != nil {
			return Result{}, err
		}
		if len(files) == 0 {
			return Text("No matches found"), nil
		}
		out := strings.Join(files[:min(limit, len(files))], "\n")
		if len(files) > limit {
			out += fmt.Sprintf("\n\n[... %d more files ...]", len(files)-limit)
		}
		return Text(out), nil
	})
}

func ripgrepFiles(ctx context.Context, dir, pattern, include, root string) ([]string, error) {
	rg, err := exec.LookPath("rg")
	if err != nil {
		return nil, err
	}
	args := []string{"-l", "--color=never", "--sortr=modified"}
	if include != "" {
		args = append(args, "-g", include)
	}
	args = append(args, "-e", pattern, root)

	cmd := exec.CommandContext(ctx, rg, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		// Exit status 1 means no matches.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(stderr.String()))
	}
	return splitLines(stdout.String()), nil
}

var skipDirs = map[string]bool{".git": true, "node_modules": true, "__pycache__": true, ".venv": true}

// walkGrepFiles is the fallback used when ripgrep is not installed.
func walkGrepFiles(ctx context.Context, pattern, include, root string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern: %v", ErrInvalidParams, err)
	}

	type match struct {
		path string
		mod  time.Time
	}
	var matches []match
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if include != "" {
			if ok, _ := filepath.Match(include, d.Name()); !ok {
				return nil
			}
		}
		data, err := os.ReadFile(path)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		if re.Match(data) {
			info, _ := d.Info()
			m := match{path: path}
			if info != nil {
				m.mod = info.ModTime()
			}
			matches = append(matches, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].mod.After(matches[j].mod) })
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = m.path
	}
	return files, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
