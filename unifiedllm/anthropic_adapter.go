package unifiedllm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 16384

// AnthropicAdapter talks to the Anthropic Messages API. Messages flagged with
// CacheControl become cache_control ephemeral breakpoints.
type AnthropicAdapter struct {
	client anthropic.Client
}

// AnthropicOption configures an AnthropicAdapter.
type AnthropicOption func(*[]option.RequestOption)

// WithAnthropicBaseURL points the adapter at a different endpoint. Empty is ignored.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(opts *[]option.RequestOption) {
		if url != "" {
			*opts = append(*opts, option.WithBaseURL(url))
		}
	}
}

// NewAnthropicAdapter creates an adapter. Retries are disabled in the SDK
// because the agent loop retries with its own policy.
func NewAnthropicAdapter(apiKey string, opts ...AnthropicOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "anthropic: missing API key"}}
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, opt := range opts {
		opt(&reqOpts)
	}
	return &AnthropicAdapter{client: anthropic.NewClient(reqOpts...)}, nil
}

// Name returns the provider identifier.
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Complete sends a Messages request.
func (a *AnthropicAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := buildAnthropicParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, translateAnthropicError(err)
	}
	return fromAnthropicMessage(msg)
}

func buildAnthropicParams(req Request) (anthropic.MessageNewParams, error) {
	maxTokens := defaultAnthropicMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}

	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			block := anthropic.TextBlockParam{Text: msg.TextContent()}
			if msg.CacheControl {
				block.CacheControl = anthropic.NewCacheControlEphemeralParam()
			}
			params.System = append(params.System, block)
			continue
		}

		role, blocks, err := anthropicBlocks(msg)
		if err != nil {
			return params, err
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.CacheControl {
			markAnthropicBlock(&blocks[len(blocks)-1])
		}

		// Consecutive same-role turns (several tool results, or results
		// followed by an image message) are merged into one API message.
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			continue
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	params.Messages = messages

	for _, def := range req.ToolDefs {
		tool := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: def.Parameters["properties"],
			},
		}
		tool.InputSchema.Required = requiredFields(def.Parameters)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return params, nil
}

func anthropicBlocks(msg Message) (anthropic.MessageParamRole, []anthropic.ContentBlockParamUnion, error) {
	role := anthropic.MessageParamRoleUser
	if msg.Role == RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}

	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range msg.Content {
		switch part.Kind {
		case ContentText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case ContentImage:
			if part.Image == nil || len(part.Image.Data) == 0 {
				continue
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MediaType, base64.StdEncoding.EncodeToString(part.Image.Data)))
		case ContentToolCall:
			var input any = map[string]any{}
			if len(part.ToolCall.Arguments) > 0 {
				if err := json.Unmarshal(part.ToolCall.Arguments, &input); err != nil {
					return role, nil, &InvalidToolCallError{SDKError: SDKError{
						Message: fmt.Sprintf("tool call %s has invalid arguments", part.ToolCall.ID), Cause: err,
					}}
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
		case ContentToolResult:
			content := part.ToolResult.Content
			if content == "" {
				content = "(no output)"
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.ToolCallID, content, part.ToolResult.IsError))
		}
	}
	return role, blocks, nil
}

func markAnthropicBlock(block *anthropic.ContentBlockParamUnion) {
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cc
	case block.OfImage != nil:
		block.OfImage.CacheControl = cc
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cc
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cc
	}
}

func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func fromAnthropicMessage(msg *anthropic.Message) (*Response, error) {
	var parts []ContentPart
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, TextPart(b.Text))
		case anthropic.ThinkingBlock:
			parts = append(parts, ThinkingPart(b.Thinking, b.Signature))
		case anthropic.ToolUseBlock:
			raw := json.RawMessage(b.JSON.Input.Raw())
			if len(raw) == 0 {
				raw = json.RawMessage("{}")
			}
			if !json.Valid(raw) {
				return nil, &InvalidToolCallError{SDKError: SDKError{Message: "anthropic: tool_use input is not valid JSON"}}
			}
			parts = append(parts, ToolCallPart(b.ID, b.Name, raw))
		}
	}

	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	if msg.Usage.CacheReadInputTokens > 0 {
		usage.CacheReadTokens = intPtr(int(msg.Usage.CacheReadInputTokens))
	}
	if msg.Usage.CacheCreationInputTokens > 0 {
		usage.CacheWriteTokens = intPtr(int(msg.Usage.CacheCreationInputTokens))
	}

	return &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Provider:     "anthropic",
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: anthropicFinishReason(string(msg.StopReason)),
		Usage:        usage,
	}, nil
}

func anthropicFinishReason(raw string) FinishReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return FinishReason{Reason: "stop", Raw: raw}
	case "max_tokens":
		return FinishReason{Reason: "length", Raw: raw}
	case "tool_use":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	case "refusal":
		return FinishReason{Reason: "content_filter", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

func translateAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		message := strings.TrimSpace(apiErr.Error())
		return ErrorFromStatusCode(apiErr.StatusCode, message, "anthropic", "", nil, nil)
	}
	return wrapTransportError("anthropic", err)
}
