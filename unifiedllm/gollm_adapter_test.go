package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFlattenTranscript(t *testing.T) {
	sys := SystemMessage("be terse")
	sys.CacheControl = true
	assistant := Message{Role: RoleAssistant, Content: []ContentPart{
		TextPart("looking"),
		ToolCallPart("c1", "read_file", []byte(`{"path":"a.go"}`)),
	}}
	screenshot := Message{Role: RoleUser, Content: []ContentPart{
		TextPart("see attached"),
		ImagePart(ImageData{Data: []byte("png"), MediaType: "image/png"}),
	}}

	text, system, cached := flattenTranscript([]Message{
		sys,
		UserMessage("fix the bug"),
		assistant,
		ToolResultMessage("c1", "package a", false),
		ToolResultMessage("c2", "no such file", true),
		screenshot,
	})

	if system != "be terse" || !cached {
		t.Errorf("system = %q cached = %v", system, cached)
	}
	for _, want := range []string{
		"[User]: fix the bug",
		"[Assistant]: looking",
		`[Tool Call c1]: read_file {"path":"a.go"}`,
		"[Tool Result c1]: package a",
		"[Tool Error c2]: no such file",
		"[1 image(s) omitted",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("flattened transcript missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "be terse") {
		t.Error("system text must not be repeated in the prompt body")
	}
}

func TestGollmBuildPromptRejectsEmptyConversation(t *testing.T) {
	a := &GollmAdapter{provider: "groq"}
	_, err := a.buildPrompt(Request{Messages: []Message{SystemMessage("only a system prompt")}})
	var inv *InvalidRequestError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidRequestError, got %v", err)
	}
}

func TestParseToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantCalls []string
		wantText  string
	}{
		{
			name:      "wrapped object",
			text:      `{"tool_calls": [{"name": "shell_command", "arguments": {"command": "ls"}}]}`,
			wantCalls: []string{"shell_command"},
		},
		{
			name:      "bare array after prose",
			text:      "Let me look.\n[{\"name\": \"read_file\", \"arguments\": {\"path\": \"x\"}}, {\"name\": \"list_dir\"}]",
			wantCalls: []string{"read_file", "list_dir"},
			wantText:  "Let me look.",
		},
		{
			name:     "plain text",
			text:     "  All done.  ",
			wantText: "All done.",
		},
		{
			name:     "malformed json",
			text:     `{"tool_calls": [{"name": `,
			wantText: `{"tool_calls": [{"name":`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, rest := parseToolCalls(tt.text)
			if rest != tt.wantText {
				t.Errorf("text = %q, want %q", rest, tt.wantText)
			}
			if len(calls) != len(tt.wantCalls) {
				t.Fatalf("got %d calls, want %d", len(calls), len(tt.wantCalls))
			}
			for i, c := range calls {
				if c.Name != tt.wantCalls[i] {
					t.Errorf("call %d = %q, want %q", i, c.Name, tt.wantCalls[i])
				}
				if !strings.HasPrefix(c.ID, "call_") || len(c.Arguments) == 0 {
					t.Errorf("call %d missing id or arguments: %+v", i, c)
				}
			}
		})
	}
}

func TestGollmBuildResponse(t *testing.T) {
	a := &GollmAdapter{provider: "groq", model: "llama-3.3-70b"}
	resp := a.buildResponse(Request{Messages: []Message{UserMessage("abcdefgh")}},
		`{"tool_calls": [{"name": "list_dir", "arguments": {}}]}`)

	if resp.Model != "llama-3.3-70b" || resp.Provider != "groq" {
		t.Errorf("unexpected identity: %s/%s", resp.Provider, resp.Model)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason.Reason)
	}
	if calls := resp.Message.ToolCalls(); len(calls) != 1 || calls[0].Name != "list_dir" {
		t.Errorf("unexpected calls: %+v", calls)
	}
	if resp.Usage.InputTokens != 2 || resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestGollmTranslateError(t *testing.T) {
	a := &GollmAdapter{provider: "groq"}
	tests := []struct {
		msg       string
		check     func(error) bool
		retryable bool
	}{
		{"API error 401: bad credentials", isType[*AuthenticationError], false},
		{"unauthorized", isType[*AuthenticationError], false},
		{"status 404 model not found", isType[*NotFoundError], false},
		{"429 Too Many Requests", isType[*RateLimitError], true},
		{"rate limit reached for model", isType[*RateLimitError], true},
		{"503 service unavailable", isType[*ServerError], true},
		{"prompt is too long for this model", isType[*ContextLengthError], false},
		{"blocked by safety settings", isType[*ContentFilterError], false},
		{"dial tcp: connection refused", isType[*NetworkError], true},
		{"something odd happened", isType[*ProviderError], true},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			cause := fmt.Errorf("gollm: %s", tt.msg)
			err := a.translateError(cause)
			if !tt.check(err) {
				t.Fatalf("unexpected type %T for %q", err, tt.msg)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
			if !errors.Is(err, cause) {
				t.Error("translated error should wrap the gollm error")
			}
		})
	}

	err := a.translateError(fmt.Errorf("generate: %w", context.Canceled))
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Errorf("cancellation should become AbortError, got %T", err)
	}
}

func isType[T error](err error) bool {
	_, ok := err.(T)
	return ok
}

func TestEstimateTokens(t *testing.T) {
	req := Request{Messages: []Message{
		UserMessage("12345678"),
		{Role: RoleAssistant, Content: []ContentPart{ToolCallPart("c", "ls", []byte("{}"))}},
		ToolResultMessage("c", "1234", false),
	}}
	if got := estimateTokens(req); got != 4 {
		t.Errorf("estimateTokens = %d, want 4", got)
	}
	if got := estimateTokens(Request{}); got != 0 {
		t.Errorf("empty request = %d, want 0", got)
	}
}
