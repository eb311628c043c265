package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PlatformNetwork/top-agent/agentloop"
	"github.com/PlatformNetwork/top-agent/config"
	"github.com/PlatformNetwork/top-agent/logging"
	"github.com/PlatformNetwork/top-agent/metrics"
	"github.com/PlatformNetwork/top-agent/tools"
	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// Exit codes for runs that end without completing the task.
const (
	exitFatal = 1
	exitLimit = 2
)

type runOptions struct {
	*rootOptions

	instructionFile string
	workdir         string
	provider        string
	model           string
	maxIterations   int
	costLimit       float64
	noVerify        bool
	parallel        bool
	jsonEvents      bool
	reportPath      string
	transcriptPath  string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	return (&runOptions{rootOptions: root}).command()
}

func (o *runOptions) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [instruction]",
		Short: "Run one task to completion",
		Long: `Run one task to completion. The instruction is taken from the argument,
from --instruction-file, or from stdin when the argument is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.instructionFile, "instruction-file", "f", "", "read the instruction from a file")
	f.StringVarP(&o.workdir, "workdir", "C", "", "workspace directory (default: current directory)")
	f.StringVar(&o.provider, "provider", "", "LLM provider")
	f.StringVarP(&o.model, "model", "m", "", "model name")
	f.IntVar(&o.maxIterations, "max-iterations", 0, "iteration limit")
	f.Float64Var(&o.costLimit, "cost-limit", 0, "cost limit in USD")
	f.BoolVar(&o.noVerify, "no-verify", false, "accept the first completion claim")
	f.BoolVar(&o.parallel, "parallel-tools", false, "run read-only tool batches concurrently")
	f.BoolVar(&o.jsonEvents, "json", false, "stream run events to stdout as JSON lines")
	f.StringVar(&o.reportPath, "report", "", "write the YAML report to this file")
	f.StringVar(&o.transcriptPath, "transcript", "", "write the final transcript to this file as JSON lines")
	return cmd
}

// applyFlags overrides cfg with the flags that were set explicitly.
func (o *runOptions) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("workdir") {
		cfg.Tools.Workdir = o.workdir
	}
	if f.Changed("provider") {
		cfg.LLM.Provider = o.provider
	}
	if f.Changed("model") {
		cfg.LLM.Model = o.model
	}
	if f.Changed("max-iterations") {
		cfg.Loop.MaxIterations = o.maxIterations
	}
	if f.Changed("cost-limit") {
		cfg.Loop.CostLimit = o.costLimit
	}
	if o.noVerify {
		cfg.Loop.Verify = false
	}
	if o.parallel {
		cfg.Loop.ParallelToolCalls = true
	}
	// A window larger than the model's own would only delay compaction
	// until the provider rejects the request. The protected tail shrinks
	// with it.
	if w, ok := unifiedllm.ContextWindow(cfg.LLM.Model); ok && w < cfg.Context.Window {
		cfg.Context.ProtectTokens = cfg.Context.ProtectTokens * w / cfg.Context.Window
		cfg.Context.Window = w
	}
	return cfg.Validate()
}

func (o *runOptions) instruction(cmd *cobra.Command, args []string) (string, error) {
	var raw []byte
	var err error
	switch {
	case o.instructionFile != "":
		raw, err = os.ReadFile(o.instructionFile)
	case len(args) == 1 && args[0] == "-":
		raw, err = io.ReadAll(cmd.InOrStdin())
	case len(args) == 1:
		raw = []byte(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("read instruction: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", errors.New("an instruction is required")
	}
	return text, nil
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	instruction, err := o.instruction(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if err := o.applyFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()
	log.Logger = logger.Logger

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	if cfg.Metrics.ListenAddr != "" {
		stop := serveMetrics(cfg.Metrics.ListenAddr, m, logger.Logger)
		defer stop()
	}

	adapter, err := unifiedllm.NewAdapter(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return fmt.Errorf("create %s adapter: %w", cfg.LLM.Provider, err)
	}
	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.LLM.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.LLM.Provider),
		unifiedllm.WithMiddleware(m.Middleware()),
	)
	defer client.Close()

	ws, err := tools.NewWorkspace(cfg.Tools.Workdir)
	if err != nil {
		return err
	}
	procs := tools.NewProcessManager(ws, cfg.Tools.ProcessLogDir, logger.With().Str("component", "processes").Logger())
	registry := tools.NewRegistry(cfg.Tools,
		tools.WithObserver(m),
		tools.WithLogger(logger.With().Str("component", "tools").Logger()),
	)
	if err := tools.RegisterBuiltins(registry, tools.Builtins{Workspace: ws, Processes: procs, Plan: &tools.Plan{}}); err != nil {
		return err
	}

	ctrl := agentloop.NewController(cfg, client, registry, ws, procs,
		agentloop.WithLogger(logger.Logger),
		agentloop.WithRecorder(m),
	)

	events := make(chan struct{})
	go func() {
		defer close(events)
		streamEvents(ctrl.Events(), cmd.OutOrStdout(), o.jsonEvents)
	}()
	outcome := ctrl.Run(ctx, instruction)
	<-events

	if err := o.writeOutputs(cmd, outcome); err != nil {
		return err
	}

	switch outcome.Status {
	case agentloop.StatusComplete:
		return nil
	case agentloop.StatusFatal:
		return &exitError{code: exitFatal, status: string(outcome.Status)}
	default:
		return &exitError{code: exitLimit, status: string(outcome.Status)}
	}
}

// streamEvents drains the event channel, writing each event as one JSON line
// when enabled.
func streamEvents(events <-chan agentloop.Event, w io.Writer, enabled bool) {
	enc := json.NewEncoder(w)
	for e := range events {
		if !enabled {
			continue
		}
		if err := enc.Encode(e); err != nil {
			log.Warn().Err(err).Msg("Failed to write event")
		}
	}
}

func (o *runOptions) writeOutputs(cmd *cobra.Command, outcome *agentloop.Outcome) error {
	// JSON event output owns stdout; the report then goes to stderr.
	var report io.Writer = cmd.OutOrStdout()
	if o.jsonEvents {
		report = cmd.ErrOrStderr()
	}
	if o.reportPath != "" {
		f, err := os.Create(o.reportPath)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		report = f
	}
	if err := outcome.WriteReport(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if o.transcriptPath == "" {
		return nil
	}
	f, err := os.Create(o.transcriptPath)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	defer f.Close()
	if err := outcome.WriteTranscript(f); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

// serveMetrics exposes /metrics until the returned function is called.
func serveMetrics(addr string, m *metrics.Metrics, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("Metrics server listening")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
