package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// PlanStep is one entry of the agent's working plan.
type PlanStep struct {
	Description string `json:"description" yaml:"description"`
	Status      string `json:"status" yaml:"status"`
}

// Plan holds the latest plan published through update_plan.
type Plan struct {
	mu    sync.Mutex
	steps []PlanStep
}

// Steps returns a copy of the current plan.
func (p *Plan) Steps() []PlanStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PlanStep(nil), p.steps...)
}

func (p *Plan) set(steps []PlanStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = steps
}

var planMarks = map[string]string{
	"pending":     "[ ]",
	"in_progress": "[>]",
	"completed":   "[x]",
}

// UpdatePlanTool replaces the plan and echoes it back.
func UpdatePlanTool(plan *Plan) Tool {
	return New(Definition{
		Name: "update_plan",
		Description: "Updates the task plan to track progress.\n" +
			"Use this to lay out your planned steps and mark them as completed.\n" +
			"Keep each step to a few words.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"steps": map[string]interface{}{
					"type":        "array",
					"description": "List of plan steps with their status",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"description": map[string]interface{}{"type": "string"},
							"status": map[string]interface{}{
								"type": "string",
								"enum": []string{"pending", "in_progress", "completed"},
							},
						},
						"required": []string{"description", "status"},
					},
				},
				"explanation": map[string]interface{}{
					"type":        "string",
					"description": "Optional explanation of why the plan changed",
				},
			},
			"required": []string{"steps"},
		},
	}, func(ctx context.Context, params Params) (Result, error) {
		raw, _ := params["steps"].([]interface{})
		steps := make([]PlanStep, 0, len(raw))
		for _, item := range raw {
			m, _ := item.(map[string]interface{})
			desc, _ := m["description"].(string)
			status, _ := m["status"].(string)
			steps = append(steps, PlanStep{Description: desc, Status: status})
		}
		plan.set(steps)

		var sb strings.Builder
		sb.WriteString("Plan updated:")
		for i, step := range steps {
			mark, ok := planMarks[step.Status]
			if !ok {
				mark = "[ ]"
			}
			fmt.Fprintf(&sb, "\n  %s %d. %s", mark, i+1, step.Description)
		}
		if explanation := params.StringOr("explanation", ""); explanation != "" {
			fmt.Fprintf(&sb, "\n\nReason: %s", explanation)
		}
		return Text(sb.String()), nil
	})
}
