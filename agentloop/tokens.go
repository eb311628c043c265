package agentloop

import "github.com/PlatformNetwork/top-agent/unifiedllm"

const (
	charsPerToken      = 4
	messageOverhead    = 4
	toolCallOverhead   = 8
	imageTokenEstimate = 1000
)

// estimateText rounds up so that the estimate never undercounts short
// strings.
func estimateText(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// EstimateMessage approximates the tokens one message costs.
func EstimateMessage(m unifiedllm.Message) int {
	n := messageOverhead
	for _, part := range m.Content {
		switch part.Kind {
		case unifiedllm.ContentText:
			n += estimateText(part.Text)
		case unifiedllm.ContentImage:
			n += imageTokenEstimate
		case unifiedllm.ContentToolCall:
			if part.ToolCall != nil {
				n += toolCallOverhead + estimateText(part.ToolCall.Name+string(part.ToolCall.Arguments))
			}
		case unifiedllm.ContentToolResult:
			if part.ToolResult != nil {
				n += estimateText(part.ToolResult.Content)
			}
		case unifiedllm.ContentThinking:
			if part.Thinking != nil {
				n += estimateText(part.Thinking.Text)
			}
		}
	}
	return n
}

// EstimateTokens sums EstimateMessage over msgs.
func EstimateTokens(msgs []unifiedllm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
