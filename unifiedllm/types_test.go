package unifiedllm

import (
	"encoding/json"
	"testing"
)

func TestMessageHelpers(t *testing.T) {
	tests := []struct {
		name       string
		msg        Message
		role       Role
		text       string
		toolResult string
		calls      int
		images     int
	}{
		{"system", SystemMessage("rules"), RoleSystem, "rules", "", 0, 0},
		{"user", UserMessage("fix it"), RoleUser, "fix it", "", 0, 0},
		{"assistant", AssistantMessage("done"), RoleAssistant, "done", "", 0, 0},
		{"tool result", ToolResultMessage("call_9", "exit 0", false), RoleTool, "", "exit 0", 0, 0},
		{
			name: "mixed assistant",
			msg: Message{Role: RoleAssistant, Content: []ContentPart{
				TextPart("checking "),
				ThinkingPart("hidden", ""),
				TextPart("both files"),
				ToolCallPart("c1", "read_file", json.RawMessage(`{"path":"a"}`)),
				ToolCallPart("c2", "read_file", json.RawMessage(`{"path":"b"}`)),
			}},
			role:  RoleAssistant,
			text:  "checking both files",
			calls: 2,
		},
		{
			name: "screenshot",
			msg: Message{Role: RoleUser, Content: []ContentPart{
				TextPart("[image from screenshot]"),
				ImagePart(ImageData{Data: []byte{0x89, 'P'}}),
				ImagePart(ImageData{URL: "https://example.com/a.jpg", MediaType: "image/jpeg"}),
			}},
			role:   RoleUser,
			text:   "[image from screenshot]",
			images: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.role {
				t.Errorf("role = %q, want %q", tt.msg.Role, tt.role)
			}
			if got := tt.msg.TextContent(); got != tt.text {
				t.Errorf("TextContent() = %q, want %q", got, tt.text)
			}
			if got := tt.msg.ToolResultText(); got != tt.toolResult {
				t.Errorf("ToolResultText() = %q, want %q", got, tt.toolResult)
			}
			if got := len(tt.msg.ToolCalls()); got != tt.calls {
				t.Errorf("ToolCalls() has %d, want %d", got, tt.calls)
			}
			if got := len(tt.msg.Images()); got != tt.images {
				t.Errorf("Images() has %d, want %d", got, tt.images)
			}
		})
	}
}

func TestToolResultMessageCarriesCallID(t *testing.T) {
	msg := ToolResultMessage("call_7", "permission denied", true)
	if msg.ToolCallID != "call_7" {
		t.Errorf("ToolCallID = %q", msg.ToolCallID)
	}
	if len(msg.Content) != 1 || msg.Content[0].ToolResult == nil {
		t.Fatalf("expected a single tool result part, got %+v", msg.Content)
	}
	if tr := msg.Content[0].ToolResult; tr.ToolCallID != "call_7" || !tr.IsError {
		t.Errorf("unexpected tool result: %+v", tr)
	}
}

func TestImagePartDefaultsToPNG(t *testing.T) {
	part := ImagePart(ImageData{Data: []byte{1, 2, 3}})
	if part.Kind != ContentImage || part.Image.MediaType != "image/png" {
		t.Errorf("unexpected part: %+v", part.Image)
	}
	if jpeg := ImagePart(ImageData{MediaType: "image/jpeg"}); jpeg.Image.MediaType != "image/jpeg" {
		t.Errorf("explicit media type overridden: %q", jpeg.Image.MediaType)
	}
}

func TestUsageAdd(t *testing.T) {
	five, ten := 5, 10
	tests := []struct {
		name       string
		a, b       Usage
		wantTotal  int
		wantCached *int
	}{
		{"plain", Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, Usage{InputTokens: 5, OutputTokens: 15, TotalTokens: 20}, 50, nil},
		{"one side cached", Usage{TotalTokens: 1, CacheReadTokens: &five}, Usage{TotalTokens: 2}, 3, &five},
		{"both cached", Usage{CacheReadTokens: &five}, Usage{CacheReadTokens: &ten}, 0, intPtr(15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Add(tt.b)
			if got.TotalTokens != tt.wantTotal {
				t.Errorf("TotalTokens = %d, want %d", got.TotalTokens, tt.wantTotal)
			}
			switch {
			case tt.wantCached == nil && got.CacheReadTokens != nil:
				t.Errorf("CacheReadTokens = %d, want nil", *got.CacheReadTokens)
			case tt.wantCached != nil && (got.CacheReadTokens == nil || *got.CacheReadTokens != *tt.wantCached):
				t.Errorf("CacheReadTokens = %v, want %d", got.CacheReadTokens, *tt.wantCached)
			}
			if got.ReasoningTokens != nil {
				t.Error("ReasoningTokens should stay nil when neither side reports it")
			}
		})
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := Response{Message: Message{Role: RoleAssistant, Content: []ContentPart{
		ThinkingPart("plan: run tests", "sig"),
		{Kind: ContentThinking, Thinking: &ThinkingData{Text: "secret", Redacted: true}},
		TextPart("Running the suite."),
		ToolCallPart("call_1", "shell_command", json.RawMessage(`{"command":"go test ./..."}`)),
	}}}

	if resp.Text() != "Running the suite." {
		t.Errorf("Text() = %q", resp.Text())
	}
	if resp.Reasoning() != "plan: run tests" {
		t.Errorf("Reasoning() = %q, redacted thinking must be skipped", resp.Reasoning())
	}
	calls := resp.Message.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "shell_command" || calls[0].ID != "call_1" {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestMessageCloneIsIndependent(t *testing.T) {
	orig := Message{Role: RoleUser, Content: []ContentPart{TextPart("a"), ImagePart(ImageData{Data: []byte{1}})}}
	clone := orig.Clone()
	clone.Content[0] = TextPart("b")
	clone.CacheControl = true

	if orig.Content[0].Text != "a" {
		t.Errorf("clone mutated original content: %q", orig.Content[0].Text)
	}
	if orig.CacheControl {
		t.Error("clone mutated original cache flag")
	}
	if n := len(orig.Images()); n != 1 {
		t.Errorf("expected 1 image, got %d", n)
	}
}
