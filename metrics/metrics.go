// Package metrics exposes Prometheus instruments for the agent loop, its
// tools and the LLM client.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// Metrics holds every instrument on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ToolInvocationsTotal *prometheus.CounterVec
	ToolDuration         *prometheus.HistogramVec

	LLMRequestsTotal *prometheus.CounterVec
	LLMDuration      *prometheus.HistogramVec
	LLMTokensTotal   *prometheus.CounterVec

	IterationsTotal  prometheus.Counter
	CostDollarsTotal prometheus.Counter
	ContextTokens    prometheus.Gauge
	CompactionsTotal *prometheus.CounterVec
}

// New creates and registers all instruments.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topagent_tool_invocations_total",
				Help: "Tool invocations by tool and outcome (ok, error, cached).",
			},
			[]string{"tool", "outcome"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "topagent_tool_duration_seconds",
				Help:    "Wall time of tool handlers.",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
			},
			[]string{"tool"},
		),

		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topagent_llm_requests_total",
				Help: "LLM requests by provider and status.",
			},
			[]string{"provider", "status"},
		),
		LLMDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "topagent_llm_request_duration_seconds",
				Help:    "Latency of LLM requests.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider"},
		),
		LLMTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topagent_llm_tokens_total",
				Help: "Tokens consumed by kind (input, output, cache_read).",
			},
			[]string{"kind"},
		),

		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topagent_iterations_total",
			Help: "Loop iterations executed.",
		}),
		CostDollarsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "topagent_cost_dollars_total",
			Help: "Accumulated LLM spend in US dollars.",
		}),
		ContextTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "topagent_context_tokens",
			Help: "Estimated transcript size after the last compaction check.",
		}),
		CompactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "topagent_compactions_total",
				Help: "Compaction passes by strategy (prune, summarize, drop, images).",
			},
			[]string{"strategy"},
		),
	}

	registry.MustRegister(
		m.ToolInvocationsTotal,
		m.ToolDuration,
		m.LLMRequestsTotal,
		m.LLMDuration,
		m.LLMTokensTotal,
		m.IterationsTotal,
		m.CostDollarsTotal,
		m.ContextTokens,
		m.CompactionsTotal,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTool records one tool invocation. Cache hits carry no duration.
func (m *Metrics) ObserveTool(name string, d time.Duration, cached, failed bool) {
	outcome := "ok"
	switch {
	case cached:
		outcome = "cached"
	case failed:
		outcome = "error"
	}
	m.ToolInvocationsTotal.WithLabelValues(name, outcome).Inc()
	if !cached {
		m.ToolDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

// ObserveIteration records one loop iteration and the current context size.
func (m *Metrics) ObserveIteration(contextTokens int) {
	m.IterationsTotal.Inc()
	m.ContextTokens.Set(float64(contextTokens))
}

// ObserveCost adds spend. Negative amounts are ignored.
func (m *Metrics) ObserveCost(dollars float64) {
	if dollars > 0 {
		m.CostDollarsTotal.Add(dollars)
	}
}

// ObserveCompaction counts a compaction strategy that changed the transcript.
func (m *Metrics) ObserveCompaction(strategy string, n int) {
	if n > 0 {
		m.CompactionsTotal.WithLabelValues(strategy).Add(float64(n))
	}
}

// Middleware instruments every LLM request made through a unifiedllm.Client.
func (m *Metrics) Middleware() unifiedllm.Middleware {
	return func(ctx context.Context, req unifiedllm.Request, next func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error)) (*unifiedllm.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		m.LLMDuration.WithLabelValues(req.Provider).Observe(time.Since(start).Seconds())
		if err != nil {
			m.LLMRequestsTotal.WithLabelValues(req.Provider, errorStatus(err)).Inc()
			return nil, err
		}
		m.LLMRequestsTotal.WithLabelValues(req.Provider, "ok").Inc()
		m.LLMTokensTotal.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
		m.LLMTokensTotal.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
		if resp.Usage.CacheReadTokens != nil {
			m.LLMTokensTotal.WithLabelValues("cache_read").Add(float64(*resp.Usage.CacheReadTokens))
		}
		return resp, nil
	}
}

func errorStatus(err error) string {
	var (
		rateLimit *unifiedllm.RateLimitError
		server    *unifiedllm.ServerError
		overflow  *unifiedllm.ContextLengthError
		timeout   *unifiedllm.RequestTimeoutError
	)
	switch {
	case errors.As(err, &rateLimit):
		return "rate_limited"
	case errors.As(err, &overflow):
		return "context_length"
	case errors.As(err, &server):
		return "server_error"
	case errors.As(err, &timeout):
		return "timeout"
	default:
		return "error"
	}
}
