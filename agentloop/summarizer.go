package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PlatformNetwork/top-agent/tools"
	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// summaryBlockBytes bounds each rendered message block handed to the
// summarizer.
const summaryBlockBytes = 4000

// Summarizer condenses a message range into handoff text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []unifiedllm.Message) (string, unifiedllm.Usage, error)
}

// LLMSummarizer asks a model for the summary. The range is rendered as a
// plain-text transcript in one user message, so the request has no tool
// messages whose pairing could be broken.
type LLMSummarizer struct {
	Client    unifiedllm.Completer
	Model     string
	Provider  string
	MaxTokens int
	Retry     *unifiedllm.RetryPolicy
	Timeout   time.Duration
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, msgs []unifiedllm.Message) (string, unifiedllm.Usage, error) {
	if len(msgs) == 0 {
		return "", unifiedllm.Usage{}, errors.New("nothing to summarize")
	}
	var maxTokens *int
	if s.MaxTokens > 0 {
		maxTokens = &s.MaxTokens
	}
	prompt := "Conversation so far:\n\n" + renderTranscript(msgs) + "\n\n" + compactionPrompt
	res, err := unifiedllm.Generate(ctx, s.Client, unifiedllm.GenerateOptions{
		Model:       s.Model,
		Provider:    s.Provider,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		RetryPolicy: s.Retry,
		Timeout:     s.Timeout,
	})
	if err != nil {
		return "", unifiedllm.Usage{}, fmt.Errorf("summarize %d messages: %w", len(msgs), err)
	}
	return strings.TrimSpace(res.Text), res.Usage, nil
}

// renderTranscript writes messages as role-headed text blocks. Tool results
// are labelled with the tool that produced them.
func renderTranscript(msgs []unifiedllm.Message) string {
	callNames := map[string]string{}
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		var body strings.Builder
		switch m.Role {
		case unifiedllm.RoleTool:
			name := m.Name
			if name == "" {
				name = callNames[m.ToolCallID]
			}
			fmt.Fprintf(&sb, "[tool result: %s]\n", orUnknown(name))
			body.WriteString(m.ToolResultText())
		default:
			fmt.Fprintf(&sb, "[%s]\n", m.Role)
			body.WriteString(m.TextContent())
			for _, tc := range m.ToolCalls() {
				callNames[tc.ID] = tc.Name
				if body.Len() > 0 {
					body.WriteString("\n")
				}
				fmt.Fprintf(&body, "-> %s(%s)", tc.Name, string(tc.Arguments))
			}
			if n := len(m.Images()); n > 0 {
				fmt.Fprintf(&body, "\n[%d image(s)]", n)
			}
		}
		text, _ := tools.MiddleOut(body.String(), summaryBlockBytes)
		sb.WriteString(text)
	}
	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
