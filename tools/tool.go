// Package tools implements the closed tool registry used by the agent loop:
// tool capabilities, parameter validation, the per-run result cache,
// statistics, output truncation and the built-in tool handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// Definition describes a tool to the model and to the registry.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema of the argument object

	// Cacheable tools are read-only; identical calls within a run are served
	// from the result cache.
	Cacheable bool
	// Mutating tools change the workspace. A successful call clears the cache
	// when invalidation is enabled.
	Mutating bool
	// Timeout overrides the configured default for this tool.
	Timeout time.Duration
	// ParamTimeout derives a timeout from the call's own arguments, e.g. a
	// shell command's timeout_ms. Zero means no request.
	ParamTimeout func(Params) time.Duration
}

// Tool is the capability every registered tool implements.
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, params Params) (Result, error)
}

// HandlerFunc is the function form of Tool.Invoke.
type HandlerFunc func(ctx context.Context, params Params) (Result, error)

type funcTool struct {
	def Definition
	fn  HandlerFunc
}

// New builds a Tool from a definition and a handler.
func New(def Definition, fn HandlerFunc) Tool {
	return &funcTool{def: def, fn: fn}
}

func (t *funcTool) Definition() Definition { return t.def }

func (t *funcTool) Invoke(ctx context.Context, params Params) (Result, error) {
	return t.fn(ctx, params)
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// CallFromLLM converts a tool call from an assistant message.
func CallFromLLM(tc unifiedllm.ToolCallData) Call {
	return Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
}

// Result is the outcome of one invocation. Handlers only fill Output (and
// Images); the registry sets the remaining fields.
type Result struct {
	Success       bool                   `json:"success"`
	Output        string                 `json:"output"`
	Error         string                 `json:"error,omitempty"`
	Images        []unifiedllm.ImageData `json:"-"`
	Size          int                    `json:"size"`
	Elided        int                    `json:"elided,omitempty"`
	Cached        bool                   `json:"cached,omitempty"`
	InvalidParams bool                   `json:"invalid_params,omitempty"`
	Duration      time.Duration          `json:"duration"`
}

// Text wraps output in a Result.
func Text(output string) Result {
	return Result{Output: output}
}

// Textf is Text with formatting.
func Textf(format string, args ...interface{}) Result {
	return Result{Output: fmt.Sprintf(format, args...)}
}

// Params is the decoded argument object of a call.
type Params map[string]interface{}

// String returns a string argument.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr returns a string argument or def when absent or empty.
func (p Params) StringOr(key, def string) string {
	if s, ok := p.String(key); ok && s != "" {
		return s
	}
	return def
}

// Int returns an integer argument or def. JSON numbers decode as float64.
func (p Params) Int(key string, def int) int {
	switch n := p[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// Float returns a numeric argument or def.
func (p Params) Float(key string, def float64) float64 {
	switch n := p[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return def
}

// Bool returns a boolean argument, false when absent.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Seconds returns a duration given in seconds, or def.
func (p Params) Seconds(key string, def time.Duration) time.Duration {
	if _, ok := p[key]; !ok {
		return def
	}
	f := p.Float(key, -1)
	if f <= 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func parseParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Params{}, nil
	}
	var params Params
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: arguments are not a JSON object: %v", ErrInvalidParams, err)
	}
	if params == nil {
		params = Params{}
	}
	return params, nil
}
