package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/PlatformNetwork/top-agent/config"
	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

const (
	fallbackTimeout = 60 * time.Second
	// Extra time a handler gets to report partial output after its context
	// expired.
	timeoutGrace = 3 * time.Second
)

type registeredTool struct {
	tool   Tool
	def    Definition
	schema *gojsonschema.Schema
}

// Registry dispatches tool calls by name. It owns the run's result cache and
// statistics; create one per run.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	cfg    config.ToolsConfig
	cache  *Cache
	stats  *statsRecorder
	flight singleflight.Group

	observer Observer
	logger   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver forwards every invocation to o.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.ToolsConfig, opts ...Option) *Registry {
	r := &Registry{
		tools:  make(map[string]*registeredTool),
		cfg:    cfg,
		cache:  NewCache(),
		stats:  newStatsRecorder(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. The parameter schema is compiled once here; a name
// may only be registered once.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return errors.New("tool definition has no name")
	}
	params := def.Parameters
	if params == nil {
		params = map[string]interface{}{"type": "object"}
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s is already registered", def.Name)
	}
	r.tools[def.Name] = &registeredTool{tool: t, def: def, schema: schema}
	return nil
}

// Get returns the definition of a registered tool.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return rt.def, true
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tool specification list sent to the model, in a
// stable order so the request prefix stays cacheable.
func (r *Registry) Definitions() []unifiedllm.ToolDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(names))
	for _, name := range names {
		def := r.tools[name].def
		defs = append(defs, unifiedllm.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return defs
}

// Stats returns a copy of the per-tool counters.
func (r *Registry) Stats() StatsSnapshot {
	return r.stats.snapshot()
}

// Cache exposes the run's result cache.
func (r *Registry) Cache() *Cache {
	return r.cache
}

// Execute runs one call. It never fails: every problem, including a handler
// panic, becomes a Result with Success false and remediation text appended.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	start := time.Now()

	r.mu.RLock()
	rt, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: %q (available: %s)", ErrUnknownTool, call.Name, strings.Join(r.Names(), ", "))
		return r.record(call.Name, start, r.finish(call.Name, Result{}, err), false)
	}

	params, err := parseParams(call.Arguments)
	if err == nil {
		err = validate(rt.schema, params)
	}
	if err != nil {
		res := r.finish(call.Name, Result{}, err)
		return r.record(call.Name, start, res, false)
	}

	if !rt.def.Cacheable || !r.cfg.CacheEnabled {
		res := r.run(ctx, rt, params)
		if res.Success && rt.def.Mutating && r.cfg.InvalidateCacheOnMutation {
			if n := r.cache.Invalidate(); n > 0 {
				r.logger.Debug().Str("tool", call.Name).Int("entries", n).Msg("Tool cache invalidated")
			}
		}
		return r.record(call.Name, start, res, false)
	}

	key := Fingerprint(call.Name, params)
	if cached, ok := r.cache.Get(key); ok {
		cached.Cached = true
		cached.Duration = 0
		return r.record(call.Name, start, cached, true)
	}

	// Identical concurrent calls in a parallel batch share one execution.
	ran := false
	v, _, _ := r.flight.Do(key, func() (interface{}, error) {
		ran = true
		res := r.run(ctx, rt, params)
		if res.Success {
			r.cache.Put(key, res)
		}
		return res, nil
	})
	res := v.(Result)
	if !ran {
		res.Cached = true
	}
	return r.record(call.Name, start, res, !ran)
}

// ExecuteBatch runs calls and returns results in request order. With
// parallel set, read-only batches run concurrently up to
// tools.max_concurrent; a batch containing a mutating tool always runs
// sequentially.
func (r *Registry) ExecuteBatch(ctx context.Context, calls []Call, parallel bool) []Result {
	results := make([]Result, len(calls))
	if !parallel || len(calls) < 2 || r.anyMutating(calls) {
		for i, call := range calls {
			results[i] = r.Execute(ctx, call)
		}
		return results
	}

	var g errgroup.Group
	limit := r.cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = r.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Registry) anyMutating(calls []Call) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, call := range calls {
		if rt, ok := r.tools[call.Name]; ok && rt.def.Mutating {
			return true
		}
	}
	return false
}

// run invokes the handler under its timeout and post-processes the result.
func (r *Registry) run(ctx context.Context, rt *registeredTool, params Params) Result {
	timeout := r.timeoutFor(rt.def, params)
	res, err := invoke(ctx, rt.tool, params, timeout)
	return r.finish(rt.def.Name, res, err)
}

type invocation struct {
	res Result
	err error
}

func invoke(ctx context.Context, t Tool, params Params, timeout time.Duration) (Result, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: fmt.Errorf("tool panicked: %v", p)}
			}
		}()
		res, err := t.Invoke(tctx, params)
		done <- invocation{res: res, err: err}
	}()

	var out invocation
	timedOut := false
	select {
	case out = <-done:
	case <-tctx.Done():
		timedOut = true
		// Handlers kill their processes when the context ends; give them a
		// moment to hand back partial output.
		select {
		case out = <-done:
		case <-time.After(timeoutGrace):
		}
	}

	if (timedOut || out.err != nil) && ctx.Err() != nil {
		return out.res, fmt.Errorf("execution cancelled: %w", ctx.Err())
	}
	if timedOut || (errors.Is(out.err, context.DeadlineExceeded) && !errors.Is(out.err, ErrTimeout)) {
		return out.res, fmt.Errorf("%w after %s", ErrTimeout, formatSeconds(timeout))
	}
	return out.res, out.err
}

func (r *Registry) timeoutFor(def Definition, params Params) time.Duration {
	if d := r.cfg.TimeoutFor(def.Name); d > 0 {
		return d
	}
	if def.ParamTimeout != nil {
		if d := def.ParamTimeout(params); d > 0 {
			return d
		}
	}
	if def.Timeout > 0 {
		return def.Timeout
	}
	if r.cfg.DefaultTimeout > 0 {
		return r.cfg.DefaultTimeout
	}
	return fallbackTimeout
}

// finish turns a handler outcome into the text the model sees: truncation
// first, then failure guidance, which is never truncated.
func (r *Registry) finish(name string, res Result, err error) Result {
	res.Success = err == nil
	body := res.Output
	if err != nil {
		res.Error = err.Error()
		res.InvalidParams = errors.Is(err, ErrInvalidParams)
		if body != "" {
			body += "\n\n"
		}
		body += "Error: " + err.Error()
	}

	body, tr := MiddleOut(body, r.cfg.MaxOutputBytes)
	res.Elided = tr.Elided

	if err != nil {
		if res.InvalidParams {
			body += InvalidParamsGuidance(name, err.Error())
		} else {
			body += FailureGuidance(name, err)
		}
	}
	res.Output = body
	res.Size = len(body)
	return res
}

func (r *Registry) record(name string, start time.Time, res Result, cached bool) Result {
	elapsed := time.Since(start)
	if !cached {
		res.Duration = elapsed
	}
	failed := !res.Success
	r.stats.record(name, elapsed, cached, failed)
	if r.observer != nil {
		r.observer.ObserveTool(name, elapsed, cached, failed)
	}

	event := r.logger.Debug()
	if failed {
		event = r.logger.Warn().Str("error", res.Error)
	}
	event.Str("tool", name).
		Bool("cached", cached).
		Int("bytes", res.Size).
		Dur("duration", elapsed).
		Msg("Tool executed")
	return res
}

func validate(schema *gojsonschema.Schema, params Params) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(params)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidParams, strings.Join(msgs, "; "))
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}
