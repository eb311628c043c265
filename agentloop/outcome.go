package agentloop

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PlatformNetwork/top-agent/tools"
	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// Status is how a run ended.
type Status string

const (
	StatusComplete       Status = "complete"
	StatusIterationLimit Status = "iteration_limit"
	StatusCostLimit      Status = "cost_limit"
	StatusFatal          Status = "fatal_error"
)

// Outcome is everything a finished run reports.
type Outcome struct {
	RunID        string
	Status       Status
	Reason       string
	Err          error
	Transcript   []unifiedllm.Message
	ToolStats    tools.StatsSnapshot
	Cost         float64
	CostKnown    bool
	Usage        unifiedllm.Usage
	Verification VerificationState
	Iterations   int
	Compactions  int
	Leaks        []tools.ProcessInfo
	Duration     time.Duration
}

// Success reports whether the run completed.
func (o *Outcome) Success() bool {
	return o.Status == StatusComplete
}

type outcomeReport struct {
	RunID        string                     `yaml:"run_id"`
	Status       Status                     `yaml:"status"`
	Reason       string                     `yaml:"reason,omitempty"`
	Error        string                     `yaml:"error,omitempty"`
	Verification VerificationState          `yaml:"verification"`
	Iterations   int                        `yaml:"iterations"`
	Compactions  int                        `yaml:"compactions"`
	Messages     int                        `yaml:"messages"`
	Cost         string                     `yaml:"cost"`
	Usage        unifiedllm.Usage           `yaml:"usage"`
	Duration     time.Duration              `yaml:"duration"`
	Tools        map[string]tools.ToolStats `yaml:"tools,omitempty"`
	Leaks        []tools.ProcessInfo        `yaml:"leaked_processes,omitempty"`
}

// WriteReport writes a YAML summary of the run.
func (o *Outcome) WriteReport(w io.Writer) error {
	r := outcomeReport{
		RunID:        o.RunID,
		Status:       o.Status,
		Reason:       o.Reason,
		Verification: o.Verification,
		Iterations:   o.Iterations,
		Compactions:  o.Compactions,
		Messages:     len(o.Transcript),
		Cost:         fmt.Sprintf("$%.4f", o.Cost),
		Usage:        o.Usage,
		Duration:     o.Duration.Round(time.Millisecond),
		Tools:        o.ToolStats,
		Leaks:        o.Leaks,
	}
	if !o.CostKnown && o.Cost == 0 {
		r.Cost = "unknown"
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	return enc.Close()
}

// WriteTranscript writes the final transcript as JSON lines.
func (o *Outcome) WriteTranscript(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, m := range o.Transcript {
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("failed to encode message %d: %w", m.Seq, err)
		}
	}
	return nil
}
