package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/top-agent/config"
)

func testToolsConfig() config.ToolsConfig {
	return config.Default().Tools
}

func call(name string, args interface{}) Call {
	data, _ := json.Marshal(args)
	return Call{ID: "call_" + name, Name: name, Arguments: data}
}

func objectSchema(required ...string) map[string]interface{} {
	props := map[string]interface{}{}
	for _, r := range required {
		props[r] = map[string]interface{}{"type": "string"}
	}
	return map[string]interface{}{"type": "object", "properties": props, "required": required}
}

type countingTool struct {
	def   Definition
	calls atomic.Int32
	fn    HandlerFunc
}

func (c *countingTool) Definition() Definition { return c.def }

func (c *countingTool) Invoke(ctx context.Context, p Params) (Result, error) {
	c.calls.Add(1)
	return c.fn(ctx, p)
}

func newCounting(def Definition, fn HandlerFunc) *countingTool {
	return &countingTool{def: def, fn: fn}
}

func echo(ctx context.Context, p Params) (Result, error) {
	return Text("echo " + p.StringOr("path", "")), nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	def := Definition{Name: "read_file", Parameters: objectSchema("path")}
	require.NoError(t, r.Register(New(def, echo)))
	err := r.Register(New(def, echo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestDefinitionsAreSorted(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	for _, name := range []string{"write_file", "list_dir", "read_file"} {
		require.NoError(t, r.Register(New(Definition{Name: name}, echo)))
	}
	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "list_dir", defs[0].Name)
	assert.Equal(t, "read_file", defs[1].Name)
	assert.Equal(t, "write_file", defs[2].Name)
}

func TestCacheableToolHitsCache(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	tool := newCounting(Definition{Name: "read_file", Parameters: objectSchema("path"), Cacheable: true}, echo)
	require.NoError(t, r.Register(tool))

	first := r.Execute(context.Background(), call("read_file", map[string]string{"path": "a.txt"}))
	second := r.Execute(context.Background(), call("read_file", map[string]string{"path": "a.txt"}))

	require.True(t, first.Success)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Output, second.Output)
	assert.EqualValues(t, 1, tool.calls.Load())

	stats := r.Stats()["read_file"]
	assert.Equal(t, 2, stats.Invocations)
	assert.Equal(t, 1, stats.CacheHits)
}

func TestFailedResultsAreNotCached(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	tool := newCounting(Definition{Name: "read_file", Cacheable: true}, func(ctx context.Context, p Params) (Result, error) {
		return Result{}, ErrNotFound
	})
	require.NoError(t, r.Register(tool))

	r.Execute(context.Background(), call("read_file", map[string]string{}))
	res := r.Execute(context.Background(), call("read_file", map[string]string{}))
	assert.False(t, res.Cached)
	assert.EqualValues(t, 2, tool.calls.Load())
}

func TestMutatingToolNeverCachedAndInvalidates(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	reader := newCounting(Definition{Name: "read_file", Parameters: objectSchema("path"), Cacheable: true}, echo)
	writer := newCounting(Definition{Name: "write_file", Mutating: true}, func(ctx context.Context, p Params) (Result, error) {
		return Text("wrote"), nil
	})
	require.NoError(t, r.Register(reader))
	require.NoError(t, r.Register(writer))

	read := call("read_file", map[string]string{"path": "a.txt"})
	r.Execute(context.Background(), read)
	assert.Equal(t, 1, r.Cache().Len())

	for i := 0; i < 2; i++ {
		res := r.Execute(context.Background(), call("write_file", map[string]string{"content": "x"}))
		assert.False(t, res.Cached)
	}
	assert.EqualValues(t, 2, writer.calls.Load())
	assert.Equal(t, 0, r.Cache().Len())

	res := r.Execute(context.Background(), read)
	assert.False(t, res.Cached)
	assert.EqualValues(t, 2, reader.calls.Load())
}

func TestUnknownToolIsFailedResult(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	require.NoError(t, r.Register(New(Definition{Name: "read_file"}, echo)))

	res := r.Execute(context.Background(), call("launch_rocket", map[string]string{}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "unknown tool")
	assert.Contains(t, res.Output, "read_file")
	assert.Contains(t, res.Output, "[TOOL CALL FAILED]")
	assert.Equal(t, 1, r.Stats()["launch_rocket"].Failures)
}

func TestInvalidParamsSkipHandler(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	tool := newCounting(Definition{Name: "read_file", Parameters: objectSchema("path"), Cacheable: true}, echo)
	require.NoError(t, r.Register(tool))

	res := r.Execute(context.Background(), call("read_file", map[string]string{"other": "x"}))
	assert.False(t, res.Success)
	assert.True(t, res.InvalidParams)
	assert.Contains(t, res.Output, "[INVALID TOOL PARAMETERS]")
	assert.EqualValues(t, 0, tool.calls.Load())

	res = r.Execute(context.Background(), Call{Name: "read_file", Arguments: json.RawMessage(`{not json`)})
	assert.True(t, res.InvalidParams)
}

func TestPanicBecomesFailure(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	require.NoError(t, r.Register(New(Definition{Name: "boom"}, func(ctx context.Context, p Params) (Result, error) {
		panic("kaboom")
	})))

	res := r.Execute(context.Background(), call("boom", map[string]string{}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Output, "kaboom")
}

func TestTimeoutTerminatesHandler(t *testing.T) {
	cfg := testToolsConfig()
	cfg.Timeouts = map[string]time.Duration{"slow": 50 * time.Millisecond}
	r := NewRegistry(cfg)
	require.NoError(t, r.Register(New(Definition{Name: "slow"}, func(ctx context.Context, p Params) (Result, error) {
		<-ctx.Done()
		return Text("partial"), ctx.Err()
	})))

	res := r.Execute(context.Background(), call("slow", map[string]string{}))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrTimeout.Error())
	assert.Contains(t, res.Output, "partial")
	assert.Contains(t, res.Output, "Hint: the call ran out of time")
}

func TestTimeoutPrecedence(t *testing.T) {
	cfg := testToolsConfig()
	cfg.Timeouts = map[string]time.Duration{"pinned": 5 * time.Second}
	r := NewRegistry(cfg)

	fromParams := Definition{Name: "shell_command", Timeout: time.Second, ParamTimeout: shellTimeout}
	assert.Equal(t, 90*time.Second, r.timeoutFor(fromParams, Params{"timeout_ms": float64(90000)}))
	assert.Equal(t, time.Second, r.timeoutFor(fromParams, Params{}))
	assert.Equal(t, maxCommandTimeout, r.timeoutFor(fromParams, Params{"timeout_ms": float64(10_000_000)}))

	pinned := Definition{Name: "pinned", ParamTimeout: shellTimeout}
	assert.Equal(t, 5*time.Second, r.timeoutFor(pinned, Params{"timeout_ms": float64(90000)}))

	assert.Equal(t, cfg.DefaultTimeout, r.timeoutFor(Definition{Name: "other"}, Params{}))
}

func TestBatchPreservesOrder(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	require.NoError(t, r.Register(New(Definition{Name: "sleep_echo", Cacheable: true}, func(ctx context.Context, p Params) (Result, error) {
		d := time.Duration(p.Int("ms", 0)) * time.Millisecond
		time.Sleep(d)
		return Textf("slept %d", p.Int("ms", 0)), nil
	})))

	calls := []Call{
		call("sleep_echo", map[string]int{"ms": 60}),
		call("sleep_echo", map[string]int{"ms": 1}),
		call("sleep_echo", map[string]int{"ms": 30}),
	}
	results := r.ExecuteBatch(context.Background(), calls, true)
	require.Len(t, results, 3)
	assert.Equal(t, "slept 60", results[0].Output)
	assert.Equal(t, "slept 1", results[1].Output)
	assert.Equal(t, "slept 30", results[2].Output)
}

func TestBatchWithMutationRunsSequentially(t *testing.T) {
	r := NewRegistry(testToolsConfig())
	var active, maxActive atomic.Int32
	handler := func(ctx context.Context, p Params) (Result, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return Text("ok"), nil
	}
	require.NoError(t, r.Register(New(Definition{Name: "read_file", Cacheable: true}, handler)))
	require.NoError(t, r.Register(New(Definition{Name: "write_file", Mutating: true}, handler)))

	r.ExecuteBatch(context.Background(), []Call{
		call("read_file", map[string]int{"n": 1}),
		call("write_file", map[string]int{"n": 2}),
		call("read_file", map[string]int{"n": 3}),
	}, true)
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestOutputIsTruncatedBeforeGuidance(t *testing.T) {
	cfg := testToolsConfig()
	cfg.MaxOutputBytes = 200
	r := NewRegistry(cfg)
	require.NoError(t, r.Register(New(Definition{Name: "loud"}, func(ctx context.Context, p Params) (Result, error) {
		return Text(strings.Repeat("x", 5000)), errors.New("exit status 2")
	})))

	res := r.Execute(context.Background(), call("loud", map[string]string{}))
	assert.False(t, res.Success)
	assert.Greater(t, res.Elided, 0)
	assert.Contains(t, res.Output, "bytes elided")
	assert.True(t, strings.HasSuffix(res.Output, FailureGuidance("loud", errors.New("exit status 2"))))
	assert.Equal(t, len(res.Output), res.Size)
}

type recordingObserver struct {
	calls []string
}

func (o *recordingObserver) ObserveTool(name string, d time.Duration, cached, failed bool) {
	o.calls = append(o.calls, name)
}

func TestObserverSeesEveryCall(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRegistry(testToolsConfig(), WithObserver(obs))
	require.NoError(t, r.Register(New(Definition{Name: "read_file", Cacheable: true}, echo)))

	r.Execute(context.Background(), call("read_file", map[string]string{}))
	r.Execute(context.Background(), call("read_file", map[string]string{}))
	assert.Equal(t, []string{"read_file", "read_file"}, obs.calls)
	assert.Equal(t, 2, r.Stats().Total().Invocations)
}
