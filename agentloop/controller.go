package agentloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/PlatformNetwork/top-agent/config"
	"github.com/PlatformNetwork/top-agent/tools"
	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

const (
	snapshotCommand = "pwd && ls -la"
	snapshotTimeout = 10 * time.Second
)

// Recorder receives loop-level measurements. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveIteration(contextTokens int)
	ObserveCost(dollars float64)
	ObserveCompaction(strategy string, n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIteration(int)          {}
func (nopRecorder) ObserveCost(float64)           {}
func (nopRecorder) ObserveCompaction(string, int) {}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithSummarizer replaces the LLM summarizer used by compaction.
func WithSummarizer(s Summarizer) Option {
	return func(c *Controller) { c.summarizer = s }
}

// WithSystemPrompt replaces the built-in core prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) { c.systemPrompt = prompt }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.eventBuffer = n }
}

// Controller runs one task to completion: compaction, cache marking, the
// model call, tool execution and the completion handshake, until the task
// completes or a limit is hit.
type Controller struct {
	cfg          *config.Config
	llm          unifiedllm.Completer
	registry     *tools.Registry
	ws           *tools.Workspace
	procs        *tools.ProcessManager
	summarizer   Summarizer
	compactor    *Compactor
	emitter      *EventEmitter
	recorder     Recorder
	logger       zerolog.Logger
	systemPrompt string
	eventBuffer  int
	runID        string
}

// NewController wires a controller. ws and procs may be nil; then there is
// no workspace snapshot and no leak check.
func NewController(cfg *config.Config, llm unifiedllm.Completer, registry *tools.Registry, ws *tools.Workspace, procs *tools.ProcessManager, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		llm:      llm,
		registry: registry,
		ws:       ws,
		procs:    procs,
		recorder: nopRecorder{},
		logger:   zerolog.Nop(),
		runID:    uuid.New().String(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.summarizer == nil {
		policy := c.retryPolicy()
		c.summarizer = &LLMSummarizer{
			Client:    llm,
			Model:     cfg.LLM.Model,
			Provider:  cfg.LLM.Provider,
			MaxTokens: cfg.Context.SummaryMaxTokens,
			Retry:     &policy,
			Timeout:   cfg.LLM.Timeout,
		}
	}
	c.logger = c.logger.With().Str("run_id", c.runID).Logger()
	c.compactor = NewCompactor(cfg.Context, c.summarizer, c.logger)
	c.emitter = NewEventEmitter(c.runID, c.eventBuffer)
	return c
}

// RunID identifies the run in logs, events and the report.
func (c *Controller) RunID() string { return c.runID }

// Events streams run events. The channel closes when Run returns.
func (c *Controller) Events() <-chan Event { return c.emitter.Events() }

// run is the mutable state of one Run call.
type run struct {
	out        *Outcome
	transcript *Transcript
	verifier   *Verifier
}

// Run executes instruction and reports how it ended. It never panics on
// model or tool failures; those end up in the Outcome.
func (c *Controller) Run(ctx context.Context, instruction string) *Outcome {
	start := time.Now()
	r := &run{
		out:      &Outcome{RunID: c.runID},
		verifier: NewVerifier(instruction, c.cfg.Loop.Verify),
	}
	r.transcript = NewTranscript(
		unifiedllm.SystemMessage(c.buildSystemPrompt()),
		unifiedllm.UserMessage(instruction),
	)
	if snap := c.snapshot(ctx); snap != "" {
		r.transcript.Append(unifiedllm.UserMessage(formatSnapshot(snap)))
	}

	c.logger.Info().
		Str("model", c.cfg.LLM.Model).
		Str("provider", c.cfg.LLM.Provider).
		Int("max_iterations", c.cfg.Loop.MaxIterations).
		Float64("cost_limit", c.cfg.Loop.CostLimit).
		Msg("Run started")
	c.emitter.Emit(EventRunStart, map[string]interface{}{
		"instruction": instruction,
		"model":       c.cfg.LLM.Model,
		"provider":    c.cfg.LLM.Provider,
	})

	status, reason, err := c.loop(ctx, r)
	return c.finish(r, status, reason, err, start)
}

func (c *Controller) loop(ctx context.Context, r *run) (Status, string, error) {
	limit := c.cfg.Loop.MaxIterations
	for limit <= 0 || r.out.Iterations < limit {
		if err := ctx.Err(); err != nil {
			return StatusFatal, "run cancelled", err
		}
		r.out.Iterations++

		msgs := c.compact(ctx, r)
		msgs = MarkCache(msgs, c.cfg.Cache.PromptCaching)
		tokens := EstimateTokens(msgs)
		c.recorder.ObserveIteration(tokens)
		c.emitter.Emit(EventIteration, map[string]interface{}{
			"iteration":      r.out.Iterations,
			"context_tokens": tokens,
			"state":          string(r.verifier.State()),
		})

		resp, err := c.complete(ctx, msgs)
		if err != nil {
			c.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return StatusFatal, "LLM request failed", err
		}
		c.addUsage(r.out, resp.Usage)

		assistant := resp.Message
		assistant.Role = unifiedllm.RoleAssistant
		assistant.CacheControl = false
		r.transcript.Append(assistant)
		calls := assistant.ToolCalls()
		c.emitter.Emit(EventAssistantMessage, map[string]interface{}{
			"text":       assistant.TextContent(),
			"reasoning":  resp.Reasoning(),
			"tool_calls": len(calls),
		})

		if len(calls) == 0 {
			if c.overCostLimit(r.out) {
				return StatusCostLimit, c.costReason(r.out), nil
			}
			d := r.verifier.Advance(assistant.TextContent())
			c.logger.Info().
				Str("from", string(d.From)).
				Str("to", string(d.State)).
				Int("iteration", r.out.Iterations).
				Msg("Verifier advanced")
			c.emitter.Emit(EventVerification, map[string]interface{}{
				"from": string(d.From),
				"to":   string(d.State),
			})
			if d.Done {
				return StatusComplete, "task complete", nil
			}
			r.transcript.Append(unifiedllm.UserMessage(d.Prompt))
			continue
		}

		r.verifier.ToolActivity()
		c.runTools(ctx, r, calls)

		if w := c.cfg.Loop.LoopDetectionWindow; w > 0 && DetectLoop(r.transcript.Messages(), w) {
			warning := fmt.Sprintf(loopWarning, w)
			r.transcript.Append(unifiedllm.UserMessage(warning))
			c.logger.Warn().Int("window", w).Msg("Tool call loop detected")
			c.emitter.Emit(EventLoopDetection, map[string]interface{}{"message": warning})
		}

		if c.overCostLimit(r.out) {
			return StatusCostLimit, c.costReason(r.out), nil
		}
	}
	return StatusIterationLimit, fmt.Sprintf("iteration limit exceeded (%d)", limit), nil
}

// compact runs the compactor and installs its result. Staying over budget
// is only a warning; the request goes out anyway.
func (c *Controller) compact(ctx context.Context, r *run) []unifiedllm.Message {
	msgs, rep := c.compactor.Compact(ctx, r.transcript.Messages())
	c.addUsage(r.out, rep.Usage)
	if rep.Changed() {
		r.transcript.Replace(msgs)
		r.out.Compactions++
		c.recorder.ObserveCompaction(rep.Strategy(), 1)
		event := c.logger.Info()
		if rep.SummaryErr != nil {
			event = event.AnErr("summary_error", rep.SummaryErr)
		}
		event.Str("strategy", rep.Strategy()).Int("before", rep.Before).Int("after", rep.After).Int("ceiling", rep.Ceiling).Msg("Context compacted")
		c.emitter.Emit(EventCompaction, map[string]interface{}{"strategy": rep.Strategy(), "before": rep.Before, "after": rep.After, "over_budget": rep.OverBudget})
		// Seq numbers may have been assigned to new messages.
		msgs = r.transcript.Messages()
	}
	if rep.OverBudget {
		c.logger.Warn().Bool("over_budget", true).Int("tokens", rep.After).Int("ceiling", rep.Ceiling).Msg("Context still over budget after compaction")
		c.emitter.Emit(EventWarning, map[string]interface{}{
			"message": fmt.Sprintf("context still over budget after compaction (%d > %d tokens)", rep.After, rep.Ceiling),
		})
	}
	return msgs
}

func (c *Controller) complete(ctx context.Context, msgs []unifiedllm.Message) (*unifiedllm.Response, error) {
	req := unifiedllm.Request{
		Model:           c.cfg.LLM.Model,
		Provider:        c.cfg.LLM.Provider,
		Messages:        msgs,
		ToolDefs:        c.registry.Definitions(),
		ToolChoice:      &unifiedllm.ToolChoice{Mode: "auto"},
		Temperature:     c.cfg.LLM.Temperature,
		ReasoningEffort: c.cfg.LLM.ReasoningEffort,
	}
	if c.cfg.LLM.MaxTokens > 0 {
		maxTokens := c.cfg.LLM.MaxTokens
		req.MaxTokens = &maxTokens
	}

	start := time.Now()
	resp, err := unifiedllm.Retry(ctx, c.retryPolicy(), func(ctx context.Context) (*unifiedllm.Response, error) {
		if c.cfg.LLM.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.LLM.Timeout)
			defer cancel()
		}
		return c.llm.Complete(ctx, req)
	})
	if err != nil {
		c.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("LLM request failed")
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("LLM returned no response")
	}
	c.logger.Debug().
		Str("model", resp.Model).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Str("finish_reason", resp.FinishReason.Reason).
		Dur("duration", time.Since(start)).
		Msg("LLM response")
	return resp, nil
}

func (c *Controller) retryPolicy() unifiedllm.RetryPolicy {
	policy := unifiedllm.DefaultRetryPolicy()
	policy.MaxRetries = c.cfg.LLM.MaxRetries
	if d := c.cfg.LLM.RetryBaseDelay; d > 0 {
		policy.BaseDelay = d
	}
	if d := c.cfg.LLM.RetryMaxDelay; d > 0 {
		policy.MaxDelay = d
	}
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying LLM request")
	}
	return policy
}

// runTools executes calls and appends, in order: one tool message per call,
// a nudge for each call with invalid parameters, then one user message
// carrying the images the tools returned.
func (c *Controller) runTools(ctx context.Context, r *run, calls []unifiedllm.ToolCallData) {
	batch := make([]tools.Call, len(calls))
	for i, tc := range calls {
		batch[i] = tools.CallFromLLM(tc)
		c.emitter.Emit(EventToolCallStart, map[string]interface{}{
			"call_id":   tc.ID,
			"tool":      tc.Name,
			"arguments": string(tc.Arguments),
		})
	}

	results := c.registry.ExecuteBatch(ctx, batch, c.cfg.Loop.ParallelToolCalls)

	var nudges []string
	var images []unifiedllm.ContentPart
	attached := 0
	imageCap := c.cfg.Loop.MaxImagesPerTurn
	for i, res := range results {
		call := batch[i]
		msg := unifiedllm.ToolResultMessage(call.ID, res.Output, !res.Success)
		msg.Name = call.Name
		r.transcript.Append(msg)

		c.emitter.Emit(EventToolCallEnd, map[string]interface{}{
			"call_id":  call.ID,
			"tool":     call.Name,
			"success":  res.Success,
			"cached":   res.Cached,
			"bytes":    res.Size,
			"elided":   res.Elided,
			"duration": res.Duration.String(),
		})

		if res.InvalidParams {
			nudges = append(nudges, fmt.Sprintf(invalidParamsNudge, call.Name))
		}
		for _, img := range res.Images {
			if imageCap > 0 && attached >= imageCap {
				c.logger.Warn().Str("tool", call.Name).Int("cap", imageCap).Msg("Image dropped, per-turn cap reached")
				break
			}
			images = append(images,
				unifiedllm.TextPart("Image from "+call.Name+":"),
				unifiedllm.ImagePart(img),
			)
			attached++
		}
	}

	for _, n := range nudges {
		r.transcript.Append(unifiedllm.UserMessage(n))
	}
	if len(images) > 0 {
		r.transcript.Append(unifiedllm.Message{Role: unifiedllm.RoleUser, Content: images})
	}
}

func (c *Controller) addUsage(out *Outcome, usage unifiedllm.Usage) {
	if usage == (unifiedllm.Usage{}) {
		return
	}
	out.Usage = out.Usage.Add(usage)
	cost, known := c.cost(usage)
	if known {
		out.CostKnown = true
	}
	out.Cost += cost
	c.recorder.ObserveCost(cost)
}

// cost prices usage from the configured override, else the model catalog.
func (c *Controller) cost(usage unifiedllm.Usage) (float64, bool) {
	llm := c.cfg.LLM
	if llm.InputCostPerMillion > 0 || llm.OutputCostPerMillion > 0 {
		return unifiedllm.PriceCost(llm.InputCostPerMillion, llm.OutputCostPerMillion, usage), true
	}
	return unifiedllm.Cost(llm.Model, usage)
}

func (c *Controller) overCostLimit(out *Outcome) bool {
	return c.cfg.Loop.CostLimit > 0 && out.Cost > c.cfg.Loop.CostLimit
}

func (c *Controller) costReason(out *Outcome) string {
	return fmt.Sprintf("cost limit exceeded ($%.4f > $%.2f)", out.Cost, c.cfg.Loop.CostLimit)
}

func (c *Controller) buildSystemPrompt() string {
	return BuildSystemPrompt(SystemPromptOptions{
		Workspace: c.ws,
		Model:     c.cfg.LLM.Model,
		Provider:  c.cfg.LLM.Provider,
		ToolNames: c.registry.Names(),
		Override:  c.systemPrompt,
	})
}

// snapshot lists the working directory so the first turn does not have to.
func (c *Controller) snapshot(ctx context.Context) string {
	if c.ws == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	res, err := c.ws.Exec(ctx, snapshotCommand, "")
	if err != nil || res.TimedOut {
		c.logger.Warn().Err(err).Msg("Workspace snapshot failed")
		return ""
	}
	text, _ := tools.MiddleOut(res.Stdout, c.cfg.Tools.MaxOutputBytes)
	return text
}

func (c *Controller) finish(r *run, status Status, reason string, err error, start time.Time) *Outcome {
	out := r.out
	out.Status = status
	out.Reason = reason
	out.Err = err
	out.Verification = r.verifier.State()
	out.ToolStats = c.registry.Stats()

	if c.procs != nil {
		out.Leaks = c.procs.Shutdown(tools.DefaultKillGrace)
		for _, p := range out.Leaks {
			c.logger.Warn().Str("process", p.ID).Int("pid", p.PID).Str("command", p.Command).Msg("Background process still running at exit, terminated")
			c.emitter.Emit(EventWarning, map[string]interface{}{
				"message": "background process leaked: " + p.Command,
				"process": p.ID,
			})
		}
	}
	out.Transcript = r.transcript.Messages()
	out.Duration = time.Since(start)

	event := c.logger.Info()
	if status != StatusComplete {
		event = c.logger.Error().Err(err)
	}
	event.Str("status", string(status)).
		Str("reason", reason).
		Int("iterations", out.Iterations).
		Float64("cost", out.Cost).
		Dur("duration", out.Duration).
		Msg("Run finished")

	data := map[string]interface{}{
		"status":     string(status),
		"reason":     reason,
		"iterations": out.Iterations,
		"cost":       out.Cost,
		"leaks":      len(out.Leaks),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	c.emitter.Emit(EventRunEnd, data)
	c.emitter.Close()
	if n := c.emitter.Dropped(); n > 0 {
		c.logger.Warn().Int("dropped", n).Msg("Events dropped, no reader kept up")
	}
	return out
}
