package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/PlatformNetwork/top-agent/tools"
)

const maxProjectDocBytes = 32 * 1024

const corePrompt = `You are an autonomous coding agent running headless in a terminal environment.
You complete the task you are given by calling tools; nobody will answer questions, so never ask for input or confirmation.

How to work:
- Explore before you change anything: list directories, read files, check what is installed.
- Keep a short plan with update_plan for anything that takes more than a few steps.
- Prefer apply_patch for edits to existing files and write_file for new ones.
- Run what you build. A change is not done until you have seen it work.
- Long-running servers go through spawn_process; wait for them with wait_for_port or wait_for_file and kill them when finished.
- Tool output may be truncated in the middle. Narrow the command (grep, head, tail, offset/limit) when you need the elided part.
- When a tool fails, read the error and the guidance after it, then correct the call instead of repeating it.

When you believe the task is complete, reply without calling any tools. You will then be asked to verify your work.`

// SystemPromptOptions parameterizes BuildSystemPrompt.
type SystemPromptOptions struct {
	Workspace *tools.Workspace
	Model     string
	Provider  string
	ToolNames []string
	// Override replaces the core prompt; environment and project docs are
	// still appended.
	Override string
}

// BuildSystemPrompt assembles the core prompt, the environment block, git
// state and project instruction files.
func BuildSystemPrompt(opts SystemPromptOptions) string {
	core := corePrompt
	if opts.Override != "" {
		core = opts.Override
	}
	sections := []string{core}
	if len(opts.ToolNames) > 0 {
		sections = append(sections, "Available tools: "+strings.Join(opts.ToolNames, ", "))
	}
	if opts.Workspace != nil {
		sections = append(sections, BuildEnvironmentContext(opts.Workspace, opts.Model))
		if git := GetGitContext(opts.Workspace.Root); git != "" {
			sections = append(sections, git)
		}
		if docs := DiscoverProjectDocs(opts.Workspace.Root, opts.Provider); docs != "" {
			sections = append(sections, "<project_instructions>\n"+docs+"\n</project_instructions>")
		}
	}
	return strings.Join(sections, "\n\n")
}

// BuildEnvironmentContext describes the workspace the tools run in.
func BuildEnvironmentContext(ws *tools.Workspace, model string) string {
	isGitRepo := isGitRepository(ws.Root)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", ws.Root)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if isGitRepo {
		if branch := gitBranch(ws.Root); branch != "" {
			fmt.Fprintf(&sb, "Git branch: %s\n", branch)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s\n", ws.Platform())
	if v := osVersion(); v != "" {
		fmt.Fprintf(&sb, "OS version: %s\n", v)
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md files, plus the provider's own
// instruction file, from the git root down to workingDir. The combined text
// is capped at 32KB.
func DiscoverProjectDocs(workingDir, provider string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	names := []string{"AGENTS.md"}
	switch provider {
	case "anthropic":
		names = append(names, "CLAUDE.md")
	case "openai", "openrouter":
		names = append(names, ".codex/instructions.md")
	}

	var docs []string
	total := 0
	for _, dir := range pathHierarchy(root, workingDir) {
		for _, name := range names {
			content, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				continue
			}
			remaining := maxProjectDocBytes - total
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}
			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}
			docs = append(docs, fmt.Sprintf("# %s (from %s)\n\n%s", name, dir, text))
			total += len(text)
		}
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// GetGitContext summarizes branch, dirty files and recent commits.
func GetGitContext(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("<git_context>\n")
	if branch := gitBranch(root); branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", branch)
	}
	if status := strings.TrimSpace(runGit(root, "status", "--short")); status != "" {
		fmt.Fprintf(&sb, "Modified/untracked files: %d\n", len(strings.Split(status, "\n")))
	}
	if log := runGit(root, "log", "--oneline", "-10"); log != "" {
		sb.WriteString("Recent commits:\n")
		sb.WriteString(log)
		if !strings.HasSuffix(log, "\n") {
			sb.WriteString("\n")
		}
	}
	sb.WriteString("</git_context>")
	return sb.String()
}

// pathHierarchy lists directories from root down to target, inclusive. A
// target outside root yields just root.
func pathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--is-inside-work-tree")) == "true"
}

func gitRoot(dir string) string {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--show-toplevel"))
}

func gitBranch(dir string) string {
	return strings.TrimSpace(runGit(dir, "rev-parse", "--abbrev-ref", "HEAD"))
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return string(out)
}

func osVersion() string {
	out, err := exec.Command("uname", "-sr").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
