package unifiedllm

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// scriptedAdapter replays responses and errors in order.
type scriptedAdapter struct {
	name      string
	errs      []error
	text      string
	calls     int
	lastReq   Request
	closed    bool
	failClose error
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	s.lastReq = req
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return &Response{
		ID:           "resp_1",
		Model:        req.Model,
		Provider:     s.name,
		Message:      AssistantMessage(s.text),
		FinishReason: FinishReason{Reason: "stop"},
		Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
	}, nil
}

func (s *scriptedAdapter) Close() error {
	s.closed = true
	return s.failClose
}

func TestClientRouting(t *testing.T) {
	anthropic := &scriptedAdapter{name: "anthropic", text: "from anthropic"}
	openrouter := &scriptedAdapter{name: "openrouter", text: "from openrouter"}
	client := NewClient(
		WithProvider("anthropic", anthropic),
		WithProvider("openrouter", openrouter),
		WithDefaultProvider("openrouter"),
	)

	tests := []struct {
		name     string
		req      Request
		wantText string
	}{
		{"explicit provider", Request{Provider: "anthropic", Model: "x"}, "from anthropic"},
		{"catalog owner registered", Request{Model: "claude-sonnet-4-5"}, "from anthropic"},
		{"catalog owner not registered", Request{Model: "gpt-5.2"}, "from openrouter"},
		{"unknown model", Request{Model: "custom"}, "from openrouter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Messages = []Message{UserMessage("hi")}
			resp, err := client.Complete(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Text() != tt.wantText {
				t.Errorf("routed to %q, want %q", resp.Text(), tt.wantText)
			}
		})
	}

	if anthropic.lastReq.Provider != "anthropic" {
		t.Errorf("the resolved provider should be stamped on the request, got %q", anthropic.lastReq.Provider)
	}
	if got := client.Providers(); !reflect.DeepEqual(got, []string{"anthropic", "openrouter"}) {
		t.Errorf("Providers() = %v", got)
	}
}

func TestClientRoutingErrors(t *testing.T) {
	var cfgErr *ConfigurationError

	_, err := NewClient().Complete(context.Background(), Request{Model: "custom"})
	if !errors.As(err, &cfgErr) {
		t.Errorf("no providers: expected ConfigurationError, got %v", err)
	}

	client := NewClient(WithProvider("anthropic", &scriptedAdapter{name: "anthropic"}))
	_, err = client.Complete(context.Background(), Request{Provider: "openai"})
	if !errors.As(err, &cfgErr) || !strings.Contains(err.Error(), `"openai" is not registered`) {
		t.Errorf("unregistered provider: got %v", err)
	}
}

func TestClientSingleProviderIsDefault(t *testing.T) {
	only := &scriptedAdapter{name: "groq", text: "ok"}
	resp, err := NewClient(WithProvider("groq", only)).Complete(context.Background(), Request{Model: "custom"})
	if err != nil || resp.Text() != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
}

func TestClientMiddlewareOnionOrder(t *testing.T) {
	var order []string
	trace := func(tag string) Middleware {
		return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
			order = append(order, tag+">")
			resp, err := next(ctx, req)
			order = append(order, "<"+tag)
			return resp, err
		}
	}
	rewrite := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		req.Model = "rewritten"
		return next(ctx, req)
	}

	adapter := &scriptedAdapter{name: "test"}
	client := NewClient(WithProvider("test", adapter), WithMiddleware(trace("outer"), trace("inner"), rewrite))
	if _, err := client.Complete(context.Background(), Request{Model: "m"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"outer>", "inner>", "<inner", "<outer"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("middleware order = %v, want %v", order, want)
	}
	if adapter.lastReq.Model != "rewritten" {
		t.Errorf("middleware changes must reach the adapter, got model %q", adapter.lastReq.Model)
	}
}

func TestClientCloseJoinsErrors(t *testing.T) {
	a := &scriptedAdapter{name: "a", failClose: errors.New("boom")}
	b := &scriptedAdapter{name: "b"}
	err := NewClient(WithProvider("a", a), WithProvider("b", b)).Close()
	if !a.closed || !b.closed {
		t.Error("every adapter should be closed")
	}
	if err == nil || !strings.Contains(err.Error(), "close a: boom") {
		t.Errorf("Close() = %v", err)
	}
}

func TestNewAdapterRequiresProvider(t *testing.T) {
	var cfgErr *ConfigurationError
	if _, err := NewAdapter("", "key", ""); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	adapter := &scriptedAdapter{name: "test", text: "summary"}
	client := NewClient(WithProvider("test", adapter))

	result, err := Generate(context.Background(), client, GenerateOptions{
		Model:    "test-model",
		Messages: []Message{UserMessage("summarise this")},
		System:   "You write summaries.",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "summary" || result.Usage.TotalTokens != 30 || result.FinishReason.Reason != "stop" {
		t.Errorf("unexpected result: %+v", result)
	}
	msgs := adapter.lastReq.Messages
	if len(msgs) != 2 || msgs[0].Role != RoleSystem || len(adapter.lastReq.ToolDefs) != 0 {
		t.Errorf("expected system + user and no tools, got %+v", adapter.lastReq)
	}

	_, err = Generate(context.Background(), client, GenerateOptions{Prompt: "a", Messages: msgs})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("prompt and messages together: got %v", err)
	}
}

func TestGenerateRetries(t *testing.T) {
	overloaded := &ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "overloaded"}, Retryable: true}}
	badKey := &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"recovers", []error{overloaded, overloaded}, 3, false},
		{"permanent", []error{badKey}, 1, true},
		{"exhausted", []error{overloaded, overloaded, overloaded, overloaded}, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &scriptedAdapter{name: "test", errs: tt.errs, text: "finally"}
			_, err := Generate(context.Background(), NewClient(WithProvider("test", adapter)), GenerateOptions{
				Prompt:      "hello",
				RetryPolicy: &policy,
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if adapter.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", adapter.calls, tt.wantCalls)
			}
		})
	}
}
