package tools

import "fmt"

// Builtins bundles the state the built-in tools share within one run.
type Builtins struct {
	Workspace *Workspace
	Processes *ProcessManager
	Plan      *Plan
}

// Tools returns every built-in tool.
func (b Builtins) Tools() []Tool {
	return []Tool{
		ShellTool(b.Workspace),
		ReadFileTool(b.Workspace),
		WriteFileTool(b.Workspace),
		ListDirTool(b.Workspace),
		GrepFilesTool(b.Workspace),
		ApplyPatchTool(b.Workspace),
		ViewImageTool(b.Workspace),
		UpdatePlanTool(b.Plan),
		SpawnProcessTool(b.Processes),
		KillProcessTool(b.Processes),
		ListProcessesTool(b.Processes),
		WaitForPortTool(),
		WaitForFileTool(b.Workspace),
		RunUntilFileTool(b.Processes, b.Workspace),
	}
}

// RegisterBuiltins registers the built-in tool set on r.
func RegisterBuiltins(r *Registry, b Builtins) error {
	if b.Workspace == nil || b.Processes == nil || b.Plan == nil {
		return fmt.Errorf("builtins need a workspace, a process manager and a plan")
	}
	for _, t := range b.Tools() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
