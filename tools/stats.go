package tools

import (
	"sort"
	"sync"
	"time"
)

// ToolStats are the counters kept per tool name.
type ToolStats struct {
	Invocations int           `json:"invocations" yaml:"invocations"`
	CacheHits   int           `json:"cache_hits" yaml:"cache_hits"`
	Failures    int           `json:"failures" yaml:"failures"`
	WallTime    time.Duration `json:"wall_time" yaml:"wall_time"`
}

// Add returns the sum of s and o.
func (s ToolStats) Add(o ToolStats) ToolStats {
	return ToolStats{
		Invocations: s.Invocations + o.Invocations,
		CacheHits:   s.CacheHits + o.CacheHits,
		Failures:    s.Failures + o.Failures,
		WallTime:    s.WallTime + o.WallTime,
	}
}

// StatsSnapshot is a read-only copy of the per-tool counters.
type StatsSnapshot map[string]ToolStats

// Total sums every tool.
func (s StatsSnapshot) Total() ToolStats {
	var total ToolStats
	for _, ts := range s {
		total = total.Add(ts)
	}
	return total
}

// Names returns the tool names in sorted order.
func (s StatsSnapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Observer receives every recorded invocation, e.g. for Prometheus.
type Observer interface {
	ObserveTool(name string, d time.Duration, cached, failed bool)
}

type statsRecorder struct {
	mu     sync.Mutex
	byTool map[string]*ToolStats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{byTool: make(map[string]*ToolStats)}
}

func (s *statsRecorder) record(name string, d time.Duration, cached, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.byTool[name]
	if !ok {
		ts = &ToolStats{}
		s.byTool[name] = ts
	}
	ts.Invocations++
	if cached {
		ts.CacheHits++
	}
	if failed {
		ts.Failures++
	}
	ts.WallTime += d
}

func (s *statsRecorder) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(StatsSnapshot, len(s.byTool))
	for name, ts := range s.byTool {
		out[name] = *ts
	}
	return out
}
