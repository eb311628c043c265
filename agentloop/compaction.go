package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/PlatformNetwork/top-agent/config"
	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

const (
	imagePlaceholder      = "[Old image content cleared]"
	toolResultPlaceholder = "[Old tool result content cleared: %d bytes from %s]"
	orphanPrefix          = "[Previous tool output]\n"
)

// Compaction strategies, as reported to metrics and events.
const (
	StrategyNone      = "none"
	StrategyImages    = "images"
	StrategyPrune     = "prune"
	StrategySummarize = "summarize"
	StrategyDrop      = "drop"
)

// Report describes what one Compact call did. Token counts are estimates.
type Report struct {
	Before       int              `json:"before" yaml:"before"`
	After        int              `json:"after" yaml:"after"`
	Ceiling      int              `json:"ceiling" yaml:"ceiling"`
	ImagesPruned int              `json:"images_pruned,omitempty" yaml:"images_pruned,omitempty"`
	Pruned       int              `json:"pruned,omitempty" yaml:"pruned,omitempty"`
	Summarized   int              `json:"summarized,omitempty" yaml:"summarized,omitempty"`
	Dropped      int              `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	Repaired     int              `json:"repaired,omitempty" yaml:"repaired,omitempty"`
	OverBudget   bool             `json:"over_budget,omitempty" yaml:"over_budget,omitempty"`
	Usage        unifiedllm.Usage `json:"-" yaml:"-"`
	SummaryErr   error            `json:"-" yaml:"-"`
}

// Changed reports whether any message was altered or removed.
func (r Report) Changed() bool {
	return r.ImagesPruned+r.Pruned+r.Summarized+r.Dropped+r.Repaired > 0
}

// Strategy names the strongest step that ran.
func (r Report) Strategy() string {
	switch {
	case r.Dropped > 0:
		return StrategyDrop
	case r.Summarized > 0:
		return StrategySummarize
	case r.Pruned > 0:
		return StrategyPrune
	case r.ImagesPruned > 0:
		return StrategyImages
	}
	return StrategyNone
}

// Compactor keeps a transcript under the configured token ceiling. It
// never touches the leading system message, the first user message or the
// protect window at the end of the transcript.
type Compactor struct {
	cfg        config.ContextConfig
	summarizer Summarizer
	logger     zerolog.Logger
}

// NewCompactor returns a compactor. A nil summarizer makes the drop
// fallback the only second step.
func NewCompactor(cfg config.ContextConfig, summarizer Summarizer, logger zerolog.Logger) *Compactor {
	return &Compactor{cfg: cfg, summarizer: summarizer, logger: logger}
}

// Compact returns msgs, shortened if it has reached the ceiling. The input is
// never modified. When nothing needs doing the same slice is returned.
// Report.OverBudget is set when the result is still over the ceiling; that
// is not an error.
func (c *Compactor) Compact(ctx context.Context, msgs []unifiedllm.Message) ([]unifiedllm.Message, Report) {
	rep := Report{Before: EstimateTokens(msgs), Ceiling: c.cfg.Ceiling()}

	out, n := pruneImages(msgs, c.cfg.ImageCap)
	rep.ImagesPruned = n
	total := EstimateTokens(out)
	if rep.Ceiling <= 0 || total < rep.Ceiling {
		rep.After = total
		return out, rep
	}

	head := protectedHead(out)
	start := c.protectStart(out, head)

	out, total = c.pruneToolResults(out, head, start, total, rep.Ceiling, &rep)
	if total < rep.Ceiling {
		rep.After = total
		return out, rep
	}

	if start > head {
		if summary, err := c.summarize(ctx, out[head:start], &rep); err == nil {
			merged := make([]unifiedllm.Message, 0, head+1+len(out)-start)
			merged = append(merged, out[:head]...)
			// The summary takes the place, and the Seq, of the oldest
			// message it covers.
			m := summaryMessage(summary)
			m.Seq = out[head].Seq
			merged = append(merged, m)
			merged = append(merged, out[start:]...)
			rep.Summarized = start - head
			out = merged
		} else {
			rep.SummaryErr = err
			c.logger.Warn().Err(err).Int("messages", start-head).Msg("Summarization failed, dropping oldest messages")
			out, rep.Dropped = dropOldest(out, head, start, total, rep.Ceiling)
		}
	}

	out, rep.Repaired = repairOrphans(out)
	rep.After = EstimateTokens(out)
	rep.OverBudget = rep.After > rep.Ceiling
	return out, rep
}

func (c *Compactor) summarize(ctx context.Context, msgs []unifiedllm.Message, rep *Report) (string, error) {
	if c.summarizer == nil {
		return "", errors.New("no summarizer configured")
	}
	text, usage, err := c.summarizer.Summarize(ctx, msgs)
	rep.Usage = rep.Usage.Add(usage)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("summarizer returned empty text")
	}
	return text, nil
}

func summaryMessage(text string) unifiedllm.Message {
	m := unifiedllm.UserMessage(summaryPrefix + text)
	m.Name = SummaryName
	return m
}

// protectedHead is the number of leading messages that are never
// compacted: the system message and the task instruction after it.
func protectedHead(msgs []unifiedllm.Message) int {
	head := 0
	if head < len(msgs) && msgs[head].Role == unifiedllm.RoleSystem {
		head++
	}
	if head < len(msgs) && msgs[head].Role == unifiedllm.RoleUser {
		head++
	}
	return head
}

// protectStart returns the index where the protect window begins. The window
// holds at least ProtectTokens of the newest messages, always includes the
// most recent user/assistant exchange, and never begins on a tool message,
// so no tool result is separated from the call that produced it.
func (c *Compactor) protectStart(msgs []unifiedllm.Message, head int) int {
	start := len(msgs)
	acc := 0
	for i := len(msgs) - 1; i >= head; i-- {
		acc += EstimateMessage(msgs[i])
		if acc > c.cfg.ProtectTokens {
			break
		}
		start = i
	}

	if ex := lastExchange(msgs); ex >= 0 && ex < start {
		start = ex
	}
	for start > head && start < len(msgs) && msgs[start].Role == unifiedllm.RoleTool {
		start--
	}
	if start < head {
		start = head
	}
	return start
}

// lastExchange is the index of the final assistant message, or of the user
// message directly before it. It is -1 for a transcript without assistant
// messages.
func lastExchange(msgs []unifiedllm.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != unifiedllm.RoleAssistant {
			continue
		}
		if i > 0 && msgs[i-1].Role == unifiedllm.RoleUser {
			return i - 1
		}
		return i
	}
	return -1
}

// pruneToolResults replaces large tool results in [head, start), oldest
// first, until total is below ceiling.
func (c *Compactor) pruneToolResults(msgs []unifiedllm.Message, head, start, total, ceiling int, rep *Report) ([]unifiedllm.Message, int) {
	names := toolCallNames(msgs)
	out := msgs
	copied := false
	for i := head; i < start && total >= ceiling; i++ {
		m := out[i]
		if m.Role != unifiedllm.RoleTool {
			continue
		}
		content := m.ToolResultText()
		if len(content) < c.cfg.PruneMinBytes && len(m.Images()) == 0 {
			continue
		}
		if strings.HasPrefix(content, "[Old tool result content cleared") {
			continue
		}
		if !copied {
			out = append([]unifiedllm.Message(nil), msgs...)
			copied = true
		}

		name := m.Name
		if name == "" {
			name = names[m.ToolCallID]
		}
		isError := false
		for _, part := range m.Content {
			if part.Kind == unifiedllm.ContentToolResult && part.ToolResult != nil {
				isError = part.ToolResult.IsError
			}
		}
		pruned := m
		pruned.Content = []unifiedllm.ContentPart{
			unifiedllm.ToolResultPart(m.ToolCallID, fmt.Sprintf(toolResultPlaceholder, len(content), orUnknown(name)), isError),
		}
		total += EstimateMessage(pruned) - EstimateMessage(m)
		out[i] = pruned
		rep.Pruned++
	}
	return out, total
}

// dropOldest removes whole units from [head, start) until total is
// below ceiling. A unit is a message plus the tool results that follow it.
func dropOldest(msgs []unifiedllm.Message, head, start, total, ceiling int) ([]unifiedllm.Message, int) {
	i := head
	for i < start && total >= ceiling {
		j := i + 1
		for j < start && msgs[j].Role == unifiedllm.RoleTool {
			j++
		}
		total -= EstimateTokens(msgs[i:j])
		i = j
	}
	if i == head {
		return msgs, 0
	}
	out := make([]unifiedllm.Message, 0, len(msgs)-(i-head))
	out = append(out, msgs[:head]...)
	out = append(out, msgs[i:]...)
	return out, i - head
}

// repairOrphans turns tool messages whose call is no longer in the
// transcript into plain user messages so the provider accepts them.
func repairOrphans(msgs []unifiedllm.Message) ([]unifiedllm.Message, int) {
	seen := map[string]bool{}
	out := msgs
	copied := false
	repaired := 0
	for i, m := range msgs {
		if m.Role == unifiedllm.RoleAssistant {
			for _, tc := range m.ToolCalls() {
				seen[tc.ID] = true
			}
			continue
		}
		if m.Role != unifiedllm.RoleTool || seen[m.ToolCallID] {
			continue
		}
		if !copied {
			out = append([]unifiedllm.Message(nil), msgs...)
			copied = true
		}
		fixed := unifiedllm.UserMessage(orphanPrefix + m.ToolResultText())
		fixed.Seq = m.Seq
		out[i] = fixed
		repaired++
	}
	return out, repaired
}

// pruneImages replaces the oldest images with a placeholder until at most
// limit remain. A limit of zero disables pruning.
func pruneImages(msgs []unifiedllm.Message, limit int) ([]unifiedllm.Message, int) {
	if limit <= 0 {
		return msgs, 0
	}
	count := 0
	for _, m := range msgs {
		count += len(m.Images())
	}
	excess := count - limit
	if excess <= 0 {
		return msgs, 0
	}

	out := append([]unifiedllm.Message(nil), msgs...)
	pruned := 0
	for i := range out {
		if pruned == excess {
			break
		}
		if len(out[i].Images()) == 0 {
			continue
		}
		m := out[i].Clone()
		for j, part := range m.Content {
			if pruned == excess {
				break
			}
			if part.Kind == unifiedllm.ContentImage {
				m.Content[j] = unifiedllm.TextPart(imagePlaceholder)
				pruned++
			}
		}
		out[i] = m
	}
	return out, pruned
}

func toolCallNames(msgs []unifiedllm.Message) map[string]string {
	names := map[string]string{}
	for _, m := range msgs {
		for _, tc := range m.ToolCalls() {
			names[tc.ID] = tc.Name
		}
	}
	return names
}
