package unifiedllm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newOpenAITestServer(t *testing.T, status int, body string, captured *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if captured != nil {
			*captured = string(raw)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func completionWithArguments(args string) string {
	return `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-5.2",
  "choices": [{
    "index": 0,
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "shell_command", "arguments": ` + args + `}}]
    },
    "finish_reason": "tool_calls"
  }],
  "usage": {"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60, "prompt_tokens_details": {"cached_tokens": 20}}
}`
}

func TestOpenAIAdapterComplete(t *testing.T) {
	var body string
	srv := newOpenAITestServer(t, http.StatusOK, completionWithArguments(`"{\"command\":\"ls\"}"`), &body)
	adapter, err := NewOpenAIAdapter("openrouter", "test-key", srv.URL+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp, err := adapter.Complete(context.Background(), Request{
		Model:           "openai/gpt-5.2",
		Messages:        []Message{SystemMessage("sys"), UserMessage("list files")},
		ReasoningEffort: "high",
		ToolDefs: []ToolDefinition{{
			Name:       "shell_command",
			Parameters: map[string]interface{}{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != "openrouter" {
		t.Errorf("expected provider openrouter, got %q", resp.Provider)
	}
	calls := resp.Message.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "shell_command" || string(calls[0].Arguments) != `{"command":"ls"}` {
		t.Fatalf("unexpected tool calls: %+v", calls)
	}
	if resp.Usage.CacheReadTokens == nil || *resp.Usage.CacheReadTokens != 20 {
		t.Errorf("expected cached tokens 20, got %v", resp.Usage.CacheReadTokens)
	}
	if !strings.Contains(body, `"reasoning_effort":"high"`) {
		t.Errorf("expected reasoning effort in request: %s", body)
	}
}

func TestOpenAIAdapterMalformedArguments(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusOK, completionWithArguments(`"{not json"`), nil)
	adapter, err := NewOpenAIAdapter("openai", "test-key", srv.URL+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = adapter.Complete(context.Background(), Request{Model: "gpt-5.2", Messages: []Message{UserMessage("x")}})
	if _, ok := err.(*InvalidToolCallError); !ok {
		t.Fatalf("expected *InvalidToolCallError, got %T (%v)", err, err)
	}
	if IsRetryable(err) {
		t.Error("malformed responses must not be retried")
	}
}

func TestOpenAIAdapterAuthError(t *testing.T) {
	srv := newOpenAITestServer(t, http.StatusUnauthorized,
		`{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, nil)
	adapter, err := NewOpenAIAdapter("openai", "test-key", srv.URL+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = adapter.Complete(context.Background(), Request{Model: "gpt-5.2", Messages: []Message{UserMessage("x")}})
	if _, ok := err.(*AuthenticationError); !ok {
		t.Fatalf("expected *AuthenticationError, got %T (%v)", err, err)
	}
}

func TestNewAdapterRouting(t *testing.T) {
	a, err := NewAdapter("openrouter", "k", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "openrouter" {
		t.Errorf("expected openrouter adapter, got %q", a.Name())
	}
	a, err = NewAdapter("anthropic", "k", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := a.(*AnthropicAdapter); !ok {
		t.Errorf("expected *AnthropicAdapter, got %T", a)
	}
}
