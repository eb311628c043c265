// Package agentloop drives a headless coding agent: one task, one
// transcript, a closed set of tools, until the model's work is verified or
// a limit ends the run.
//
// Each iteration of the Controller compacts the transcript if it is over
// the token ceiling, marks prompt-cache breakpoints, calls the model and
// either executes the requested tool calls through a tools.Registry or, when
// the model made none, advances the completion handshake (Verifier). The run
// ends with an Outcome whose Status is complete, iteration_limit, cost_limit
// or fatal_error.
//
// # Quick start
//
//	cfg := config.Default()
//	ws, _ := tools.NewWorkspace("")
//	procs := tools.NewProcessManager(ws, "", logger)
//	registry := tools.NewRegistry(cfg.Tools)
//	_ = tools.RegisterBuiltins(registry, tools.Builtins{Workspace: ws, Processes: procs, Plan: &tools.Plan{}})
//
//	ctrl := agentloop.NewController(cfg, client, registry, ws, procs)
//	outcome := ctrl.Run(ctx, "Create hello.py that prints hello")
//	_ = outcome.WriteReport(os.Stdout)
package agentloop
