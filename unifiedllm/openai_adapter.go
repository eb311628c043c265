package unifiedllm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint of OpenRouter.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1/"

// OpenAIAdapter talks to OpenAI-compatible chat completion endpoints. It
// serves both "openai" and "openrouter". Prompt caching on these endpoints
// is automatic, so cache markers are not sent.
type OpenAIAdapter struct {
	name   string
	client openai.Client
}

// NewOpenAIAdapter creates an adapter registered under name.
func NewOpenAIAdapter(name, apiKey, baseURL string) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: name + ": missing API key"}}
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIAdapter{name: name, client: openai.NewClient(opts...)}, nil
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return a.name }

// Complete sends a chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params := buildOpenAIParams(req)
	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, translateOpenAIError(a.name, err)
	}
	return fromOpenAICompletion(a.name, completion)
}

func buildOpenAIParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}

	for _, msg := range req.Messages {
		params.Messages = append(params.Messages, openAIMessage(msg))
	}

	for _, def := range req.ToolDefs {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.Parameters),
			},
		})
	}
	return params
}

func openAIMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case RoleSystem:
		return openai.SystemMessage(msg.TextContent())
	case RoleAssistant:
		calls := msg.ToolCalls()
		if len(calls) == 0 {
			return openai.AssistantMessage(msg.TextContent())
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(calls))
		for _, call := range calls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
				ID:   call.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunction{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		assistant := openai.ChatCompletionMessage{
			Role:      "assistant",
			Content:   msg.TextContent(),
			ToolCalls: toolCalls,
		}
		return assistant.ToParam()
	case RoleTool:
		content := msg.ToolResultText()
		if content == "" {
			content = "(no output)"
		}
		return openai.ChatCompletionMessageParamUnion{
			OfTool: &openai.ChatCompletionToolMessageParam{
				ToolCallID: msg.ToolCallID,
				Content: openai.ChatCompletionToolMessageParamContentUnion{
					OfString: openai.String(content),
				},
			},
		}
	default:
		images := msg.Images()
		if len(images) == 0 {
			return openai.UserMessage(msg.TextContent())
		}
		var parts []openai.ChatCompletionContentPartUnionParam
		if text := msg.TextContent(); text != "" {
			parts = append(parts, openai.TextContentPart(text))
		}
		for _, img := range images {
			url := img.URL
			if url == "" {
				url = fmt.Sprintf("data:%s;base64,%s", img.MediaType, base64.StdEncoding.EncodeToString(img.Data))
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
		return openai.UserMessage(parts)
	}
}

func fromOpenAICompletion(provider string, completion *openai.ChatCompletion) (*Response, error) {
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "response contained no choices"}, Provider: provider, Retryable: true,
		}
	}
	choice := completion.Choices[0]

	var parts []ContentPart
	if choice.Message.Content != "" {
		parts = append(parts, TextPart(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		raw := []byte(args)
		if !json.Valid(raw) {
			return nil, &InvalidToolCallError{SDKError: SDKError{
				Message: fmt.Sprintf("%s: tool call %s has malformed arguments", provider, tc.ID),
			}}
		}
		parts = append(parts, ToolCallPart(tc.ID, tc.Function.Name, raw))
	}

	usage := Usage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:  int(completion.Usage.TotalTokens),
	}
	if cached := completion.Usage.PromptTokensDetails.CachedTokens; cached > 0 {
		usage.CacheReadTokens = intPtr(int(cached))
	}
	if reasoning := completion.Usage.CompletionTokensDetails.ReasoningTokens; reasoning > 0 {
		usage.ReasoningTokens = intPtr(int(reasoning))
	}

	return &Response{
		ID:           completion.ID,
		Model:        completion.Model,
		Provider:     provider,
		Message:      Message{Role: RoleAssistant, Content: parts},
		FinishReason: openAIFinishReason(string(choice.FinishReason)),
		Usage:        usage,
	}, nil
}

func openAIFinishReason(raw string) FinishReason {
	switch raw {
	case "stop":
		return FinishReason{Reason: "stop", Raw: raw}
	case "length":
		return FinishReason{Reason: "length", Raw: raw}
	case "tool_calls", "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	case "content_filter":
		return FinishReason{Reason: "content_filter", Raw: raw}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

func translateOpenAIError(provider string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ErrorFromStatusCode(apiErr.StatusCode, apiErr.Error(), provider, apiErr.Code, nil, nil)
	}
	return wrapTransportError(provider, err)
}
