package agentloop

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/PlatformNetwork/top-agent/unifiedllm"
)

// scriptedLLM replays responses in order. Once the script runs out it
// answers with plain text.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*unifiedllm.Response
	errs      []error
	requests  []unifiedllm.Request
}

func (s *scriptedLLM) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return textResponse("nothing left to do"), nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedLLM) request(i int) unifiedllm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

func textResponse(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Model:   "test-model",
		Message: unifiedllm.AssistantMessage(text),
		Usage:   unifiedllm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolResponse(calls ...unifiedllm.ToolCallData) *unifiedllm.Response {
	msg := unifiedllm.Message{Role: unifiedllm.RoleAssistant}
	for _, c := range calls {
		msg.Content = append(msg.Content, unifiedllm.ToolCallPart(c.ID, c.Name, c.Arguments))
	}
	return &unifiedllm.Response{
		Model:   "test-model",
		Message: msg,
		Usage:   unifiedllm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func toolCall(id, name string, args interface{}) unifiedllm.ToolCallData {
	data, _ := json.Marshal(args)
	return unifiedllm.ToolCallData{ID: id, Name: name, Arguments: data}
}

func assistantCalling(calls ...unifiedllm.ToolCallData) unifiedllm.Message {
	return toolResponse(calls...).Message
}

func toolMessage(id, name, content string) unifiedllm.Message {
	m := unifiedllm.ToolResultMessage(id, content, false)
	m.Name = name
	return m
}

// fakeSummarizer returns a fixed summary or error and records its input.
type fakeSummarizer struct {
	text  string
	err   error
	usage unifiedllm.Usage
	calls int
	got   []unifiedllm.Message
}

func (f *fakeSummarizer) Summarize(ctx context.Context, msgs []unifiedllm.Message) (string, unifiedllm.Usage, error) {
	f.calls++
	f.got = msgs
	return f.text, f.usage, f.err
}

func bigText(tokens int) string {
	return strings.Repeat("abcd", tokens)
}
