package agentloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

func TestLLMSummarizer(t *testing.T) {
	llm := &scriptedLLM{responses: []*unifiedllm.Response{textResponse("  - built the parser\n")}}
	s := &LLMSummarizer{Client: llm, Model: "test-model", Provider: "test", MaxTokens: 512}

	msgs := []unifiedllm.Message{
		unifiedllm.UserMessage("write a parser"),
		assistantCalling(toolCall("c1", "write_file", map[string]string{"path": "parser.go"})),
		toolMessage("c1", "write_file", "wrote 120 bytes"),
	}
	text, usage, err := s.Summarize(context.Background(), msgs)
	require.NoError(t, err)
	assert.Equal(t, "- built the parser", text)
	assert.Equal(t, 10, usage.InputTokens)

	require.Equal(t, 1, llm.calls())
	req := llm.request(0)
	assert.Empty(t, req.ToolDefs)
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, 512, *req.MaxTokens)
	require.Len(t, req.Messages, 1)
	prompt := req.Messages[0].TextContent()
	assert.Contains(t, prompt, "[tool result: write_file]\nwrote 120 bytes")
	assert.Contains(t, prompt, "CONTEXT CHECKPOINT COMPACTION")
	for _, m := range req.Messages {
		assert.NotEqual(t, unifiedllm.RoleTool, m.Role)
	}
}

func TestLLMSummarizerErrors(t *testing.T) {
	s := &LLMSummarizer{Client: &scriptedLLM{}}
	_, _, err := s.Summarize(context.Background(), nil)
	assert.Error(t, err)

	authErr := unifiedllm.ErrorFromStatusCode(401, "bad key", "test", "", nil, nil)
	s = &LLMSummarizer{Client: &scriptedLLM{errs: []error{authErr}}}
	_, _, err = s.Summarize(context.Background(), []unifiedllm.Message{unifiedllm.UserMessage("x")})
	assert.ErrorContains(t, err, "summarize 1 messages")
}
