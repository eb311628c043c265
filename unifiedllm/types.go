// Package unifiedllm provides a provider-agnostic LLM client used by the agent
// loop: a shared message model, provider adapters, retry and error taxonomy.
package unifiedllm

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentKind tags which field of a ContentPart is set.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentImage      ContentKind = "image"
	ContentToolCall   ContentKind = "tool_call"
	ContentToolResult ContentKind = "tool_result"
	ContentThinking   ContentKind = "thinking"
)

// ImageData is inline image bytes or a URL the provider fetches itself.
type ImageData struct {
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ToolCallData is one tool invocation requested by the model. Arguments is
// the raw JSON object exactly as the provider returned it.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Type      string          `json:"type,omitempty"`
}

type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// ThinkingData is provider reasoning. Signature must be echoed back verbatim
// on the next Anthropic request.
type ThinkingData struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
	Redacted  bool   `json:"redacted"`
}

// ContentPart is one piece of a message; Kind says which pointer is set.
type ContentPart struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Image      *ImageData      `json:"image,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
	Thinking   *ThinkingData   `json:"thinking,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImagePart wraps img, defaulting its media type to PNG.
func ImagePart(img ImageData) ContentPart {
	if img.MediaType == "" {
		img.MediaType = "image/png"
	}
	return ContentPart{Kind: ContentImage, Image: &img}
}

func ToolCallPart(id, name string, args json.RawMessage) ContentPart {
	return ContentPart{
		Kind:     ContentToolCall,
		ToolCall: &ToolCallData{ID: id, Name: name, Arguments: args, Type: "function"},
	}
}

func ToolResultPart(toolCallID, content string, isError bool) ContentPart {
	return ContentPart{
		Kind:       ContentToolResult,
		ToolResult: &ToolResultData{ToolCallID: toolCallID, Content: content, IsError: isError},
	}
}

func ThinkingPart(text, signature string) ContentPart {
	return ContentPart{
		Kind:     ContentThinking,
		Thinking: &ThinkingData{Text: text, Signature: signature},
	}
}

// Message is one transcript entry.
//
// Seq is assigned by the transcript and only ever increases. Name tags
// messages the loop synthesises, such as compaction summaries. CacheControl
// ends a cacheable prefix; adapters without prompt caching ignore it.
type Message struct {
	Role         Role          `json:"role"`
	Content      []ContentPart `json:"content"`
	Name         string        `json:"name,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	CacheControl bool          `json:"cache_control,omitempty"`
	Seq          int           `json:"seq"`
}

// TextContent joins the text parts, skipping thinking and tool parts.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (m Message) ToolCalls() []ToolCallData {
	var calls []ToolCallData
	for _, part := range m.Content {
		if part.Kind == ContentToolCall && part.ToolCall != nil {
			calls = append(calls, *part.ToolCall)
		}
	}
	return calls
}

// ToolResultText returns the first tool result's content, or "".
func (m Message) ToolResultText() string {
	for _, part := range m.Content {
		if part.Kind == ContentToolResult && part.ToolResult != nil {
			return part.ToolResult.Content
		}
	}
	return ""
}

func (m Message) Images() []ImageData {
	var images []ImageData
	for _, part := range m.Content {
		if part.Kind == ContentImage && part.Image != nil {
			images = append(images, *part.Image)
		}
	}
	return images
}

// Clone copies the content slice so parts can be replaced without touching
// m. The parts' pointers are still shared.
func (m Message) Clone() Message {
	out := m
	out.Content = append([]ContentPart(nil), m.Content...)
	return out
}

func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// ToolResultMessage answers the tool call toolCallID.
func ToolResultMessage(toolCallID, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    []ContentPart{ToolResultPart(toolCallID, content, isError)},
		ToolCallID: toolCallID,
	}
}

// ToolChoice is "auto", "none", "required", or "named" with ToolName set.
type ToolChoice struct {
	Mode     string `json:"mode"`
	ToolName string `json:"tool_name,omitempty"`
}

// FinishReason is normalised to stop, length, tool_calls, content_filter,
// error or other. Raw keeps the provider's own value.
type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Usage counts tokens for one or more requests. Optional counters stay nil
// when the provider does not report them.
type Usage struct {
	InputTokens      int  `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens     int  `json:"output_tokens" yaml:"output_tokens"`
	TotalTokens      int  `json:"total_tokens" yaml:"total_tokens"`
	ReasoningTokens  *int `json:"reasoning_tokens,omitempty" yaml:"reasoning_tokens,omitempty"`
	CacheReadTokens  *int `json:"cache_read_tokens,omitempty" yaml:"cache_read_tokens,omitempty"`
	CacheWriteTokens *int `json:"cache_write_tokens,omitempty" yaml:"cache_write_tokens,omitempty"`
}

// Add sums two usages. An optional counter is nil only if both are nil.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + other.InputTokens,
		OutputTokens:     u.OutputTokens + other.OutputTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		ReasoningTokens:  addOptional(u.ReasoningTokens, other.ReasoningTokens),
		CacheReadTokens:  addOptional(u.CacheReadTokens, other.CacheReadTokens),
		CacheWriteTokens: addOptional(u.CacheWriteTokens, other.CacheWriteTokens),
	}
}

func intPtr(v int) *int { return &v }

func addOptional(a, b *int) *int {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return intPtr(*b)
	case b == nil:
		return intPtr(*a)
	}
	return intPtr(*a + *b)
}

// Request is one model call.
type Request struct {
	Model           string           `json:"model"`
	Messages        []Message        `json:"messages"`
	Provider        string           `json:"provider,omitempty"`
	ToolDefs        []ToolDefinition `json:"tools,omitempty"`
	ToolChoice      *ToolChoice      `json:"tool_choice,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	MaxTokens       *int             `json:"max_tokens,omitempty"`
	StopSequences   []string         `json:"stop_sequences,omitempty"`
	ReasoningEffort string           `json:"reasoning_effort,omitempty"`
}

// ToolDefinition advertises a tool; Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

func (r Response) Text() string { return r.Message.TextContent() }

// Reasoning joins the visible thinking parts.
func (r Response) Reasoning() string {
	var sb strings.Builder
	for _, part := range r.Message.Content {
		if part.Kind == ContentThinking && part.Thinking != nil && !part.Thinking.Redacted {
			sb.WriteString(part.Thinking.Text)
		}
	}
	return sb.String()
}
