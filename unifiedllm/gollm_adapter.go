package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// gollmFallbackModel is used when the catalog knows nothing about a provider.
// Requests normally carry their own model, which overrides it.
const gollmFallbackModel = "gpt-4o-mini"

// toolProtocol tells models without native tool support how to request a
// tool through plain text. parseToolCalls reads the same shape back.
const toolProtocol = `To call tools, reply with only a JSON object of the form
{"tool_calls": [{"name": "<tool>", "arguments": {...}}]}
and nothing else. Reply in plain text when no tool is needed.`

// GollmAdapter serves every provider without a native adapter (groq,
// mistral, ollama, ...) through gollm. gollm takes a single prompt, so the
// transcript is flattened into labelled sections and tool calls are parsed
// back out of the reply text.
type GollmAdapter struct {
	provider string
	model    string

	// gollm options are set on the shared LLM per request.
	mu  sync.Mutex
	llm gollm.LLM
}

// NewGollmAdapter creates an adapter for provider. An empty apiKey lets gollm
// read the provider's own environment variable.
func NewGollmAdapter(provider, apiKey string, extra ...gollm.ConfigOption) (*GollmAdapter, error) {
	model := gollmFallbackModel
	if info := GetLatestModel(provider); info != nil {
		model = info.ID
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxRetries(0), // Retry owns retries
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(apiKey))
	}
	opts = append(opts, extra...)

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "create gollm client for " + provider, Cause: err}}
	}
	return &GollmAdapter{provider: provider, model: model, llm: llm}, nil
}

// Name returns the provider identifier.
func (a *GollmAdapter) Name() string { return a.provider }

// Complete flattens the request, generates, and parses the reply.
func (a *GollmAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt, err := a.buildPrompt(req)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if req.Model != "" {
		a.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		a.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		a.llm.SetOption("max_tokens", *req.MaxTokens)
	}

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, a.translateError(err)
	}
	return a.buildResponse(req, text), nil
}

// buildPrompt flattens the transcript. The system prompt keeps its cache
// marker; images cannot be sent and are replaced by a note.
func (a *GollmAdapter) buildPrompt(req Request) (*gollm.Prompt, error) {
	text, system, cacheSystem := flattenTranscript(req.Messages)
	if text == "" {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "request has no conversation content"}, Provider: a.provider, StatusCode: 400,
		}}
	}
	if len(req.ToolDefs) > 0 {
		system = strings.TrimSpace(system + "\n\n" + toolProtocol)
	}

	// Only a cacheable system prompt travels separately; otherwise it leads
	// the prompt body.
	var opts []gollm.PromptOption
	switch {
	case system != "" && cacheSystem:
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	case system != "":
		text = "[System]: " + system + "\n\n" + text
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.ToolDefs) > 0 {
		defs := make([]gollm.Tool, 0, len(req.ToolDefs))
		for _, t := range req.ToolDefs {
			defs = append(defs, gollm.Tool{
				Type:     "function",
				Function: gollm.Function{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
			})
		}
		opts = append(opts, gollm.WithTools(defs))
		if req.ToolChoice != nil && req.ToolChoice.Mode != "" {
			opts = append(opts, gollm.WithToolChoice(req.ToolChoice.Mode))
		}
	}
	return gollm.NewPrompt(text, opts...), nil
}

// flattenTranscript renders messages as labelled sections and returns the
// system text separately.
func flattenTranscript(msgs []Message) (text, system string, cacheSystem bool) {
	var sys strings.Builder
	var sections []string
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			sys.WriteString(msg.TextContent())
			sys.WriteString("\n")
			cacheSystem = cacheSystem || msg.CacheControl
		case RoleUser:
			section := msg.TextContent()
			if n := len(msg.Images()); n > 0 {
				section += fmt.Sprintf("\n[%d image(s) omitted: this provider accepts text only]", n)
			}
			sections = append(sections, "[User]: "+strings.TrimSpace(section))
		case RoleAssistant:
			if t := msg.TextContent(); t != "" {
				sections = append(sections, "[Assistant]: "+t)
			}
			for _, call := range msg.ToolCalls() {
				sections = append(sections, fmt.Sprintf("[Tool Call %s]: %s %s", call.ID, call.Name, string(call.Arguments)))
			}
		case RoleTool:
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				label := "Tool Result"
				if part.ToolResult.IsError {
					label = "Tool Error"
				}
				sections = append(sections, fmt.Sprintf("[%s %s]: %s", label, part.ToolResult.ToolCallID, part.ToolResult.Content))
			}
		}
	}
	return strings.Join(sections, "\n\n"), strings.TrimSpace(sys.String()), cacheSystem
}

func (a *GollmAdapter) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = a.model
	}

	calls, rest := parseToolCalls(text)
	var parts []ContentPart
	if rest != "" {
		parts = append(parts, TextPart(rest))
	}
	for i := range calls {
		parts = append(parts, ContentPart{Kind: ContentToolCall, ToolCall: &calls[i]})
	}
	if len(parts) == 0 {
		parts = []ContentPart{TextPart(text)}
	}

	finish := FinishReason{Reason: "stop", Raw: "stop"}
	if len(calls) > 0 {
		finish = FinishReason{Reason: "tool_calls", Raw: "tool_calls"}
	}

	// gollm does not report usage.
	in, out := estimateTokens(req), (len(text)+3)/4
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     a.provider,
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: finish,
		Usage:        Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

// parseToolCalls extracts a {"tool_calls": [...]} object or a bare
// [{"name": ...}] array from text. It returns the calls and the text before
// the JSON.
func parseToolCalls(text string) ([]ToolCallData, string) {
	start := strings.Index(text, `{"tool_calls"`)
	if start == -1 {
		start = strings.Index(text, `[{"name"`)
	}
	if start == -1 {
		return nil, strings.TrimSpace(text)
	}

	type rawCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	var raw []rawCall
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if text[start] == '{' {
		var wrapper struct {
			ToolCalls []rawCall `json:"tool_calls"`
		}
		if err := dec.Decode(&wrapper); err != nil {
			return nil, strings.TrimSpace(text)
		}
		raw = wrapper.ToolCalls
	} else if err := dec.Decode(&raw); err != nil {
		return nil, strings.TrimSpace(text)
	}

	calls := make([]ToolCallData, 0, len(raw))
	for _, rc := range raw {
		if rc.Name == "" {
			continue
		}
		args := rc.Arguments
		if len(args) == 0 || string(args) == "null" {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCallData{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: args,
			Type:      "function",
		})
	}
	if len(calls) == 0 {
		return nil, strings.TrimSpace(text)
	}
	return calls, strings.TrimSpace(text[:start])
}

var statusPattern = regexp.MustCompile(`\b([45]\d\d)\b`)

// translateError maps a gollm error into the unified taxonomy. gollm only
// exposes messages, so an embedded HTTP status decides when present.
func (a *GollmAdapter) translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapTransportError(a.provider, err)
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return withCause(ErrorFromStatusCode(code, msg, a.provider, "", nil, nil), err)
	}

	pe := ProviderError{SDKError: SDKError{Message: msg, Cause: err}, Provider: a.provider}
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		pe.StatusCode = 401
		return &AuthenticationError{ProviderError: pe}
	case strings.Contains(lower, "rate limit"):
		pe.StatusCode, pe.Retryable = 429, true
		return &RateLimitError{ProviderError: pe}
	case looksLikeContextOverflow(msg):
		pe.StatusCode = 413
		return &ContextLengthError{ProviderError: pe}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: pe}
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	}
	pe.Retryable = true
	return &pe
}

// withCause attaches the original gollm error to a mapped error.
func withCause(mapped, cause error) error {
	switch e := mapped.(type) {
	case *AuthenticationError:
		e.Cause = cause
	case *AccessDeniedError:
		e.Cause = cause
	case *NotFoundError:
		e.Cause = cause
	case *InvalidRequestError:
		e.Cause = cause
	case *RateLimitError:
		e.Cause = cause
	case *ServerError:
		e.Cause = cause
	case *ContextLengthError:
		e.Cause = cause
	case *QuotaExceededError:
		e.Cause = cause
	case *RequestTimeoutError:
		e.Cause = cause
	case *ProviderError:
		e.Cause = cause
	}
	return mapped
}

// estimateTokens approximates prompt size at four characters per token.
func estimateTokens(req Request) int {
	chars := 0
	for _, msg := range req.Messages {
		for _, part := range msg.Content {
			switch {
			case part.Kind == ContentText:
				chars += len(part.Text)
			case part.ToolCall != nil:
				chars += len(part.ToolCall.Name) + len(part.ToolCall.Arguments)
			case part.ToolResult != nil:
				chars += len(part.ToolResult.Content)
			}
		}
	}
	return (chars + 3) / 4
}
