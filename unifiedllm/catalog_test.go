package unifiedllm

import (
	"math"
	"testing"
)

func TestGetModelInfo(t *testing.T) {
	tests := []struct {
		query  string
		wantID string
	}{
		{"claude-opus-4-6", "claude-opus-4-6"},
		{"sonnet", "claude-sonnet-4-5"},
		{"openai/gpt-5.2", "gpt-5.2"},
		{"anthropic/claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"qwen2.5-coder:32b", "qwen2.5-coder:32b"},
		{"someone/unknown-model", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			info := GetModelInfo(tt.query)
			switch {
			case tt.wantID == "" && info != nil:
				t.Errorf("expected no entry, got %s", info.ID)
			case tt.wantID != "" && (info == nil || info.ID != tt.wantID):
				t.Errorf("GetModelInfo(%q) = %v, want %s", tt.query, info, tt.wantID)
			}
		})
	}
}

func TestCatalogEntriesAreComplete(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Models {
		if m.ID == "" || m.Provider == "" {
			t.Errorf("incomplete entry: %+v", m)
		}
		if m.ContextWindow <= 0 {
			t.Errorf("%s: context window must be positive", m.ID)
		}
		for _, key := range append([]string{m.ID}, m.Aliases...) {
			if seen[key] {
				t.Errorf("%q is listed twice", key)
			}
			seen[key] = true
		}
	}
}

func TestGetLatestModel(t *testing.T) {
	for provider, want := range map[string]string{
		"anthropic": "claude-opus-4-6",
		"openai":    "gpt-5.2",
		"groq":      "llama-3.3-70b-versatile",
		"ollama":    "qwen2.5-coder:32b",
	} {
		if info := GetLatestModel(provider); info == nil || info.ID != want {
			t.Errorf("GetLatestModel(%q) = %v, want %s", provider, info, want)
		}
	}
	if GetLatestModel("nonexistent") != nil {
		t.Error("expected nil for an unknown provider")
	}
}

func TestContextWindow(t *testing.T) {
	if w, ok := ContextWindow("openrouter/anthropic/claude-sonnet-4-5"); !ok || w != 200_000 {
		t.Errorf("ContextWindow = %d, %v", w, ok)
	}
	if _, ok := ContextWindow("mystery"); ok {
		t.Error("unknown model should report no window")
	}
}

func TestCost(t *testing.T) {
	half := 500_000
	tests := []struct {
		name   string
		model  string
		usage  Usage
		want   float64
		wantOK bool
	}{
		{"input and output", "gpt-5.2", Usage{InputTokens: 1_000_000, OutputTokens: 100_000}, 3.5, true},
		{"cache read discount", "claude-sonnet-4-5", Usage{InputTokens: 1_000_000, CacheReadTokens: &half}, 1.65, true},
		{"no cache price", "gpt-5.2-mini", Usage{InputTokens: 1_000_000, CacheReadTokens: &half}, 0.75, true},
		{"cache larger than input", "claude-opus-4-6", Usage{InputTokens: 100_000, CacheReadTokens: &half}, 0.15, true},
		{"local model", "qwen2.5-coder:32b", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, 0, true},
		{"unknown model", "mystery", Usage{InputTokens: 10}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Cost(tt.model, tt.usage)
			if ok != tt.wantOK || math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cost = %f, %v; want %f, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestPriceCost(t *testing.T) {
	got := PriceCost(1.0, 2.0, Usage{InputTokens: 2_000_000, OutputTokens: 500_000})
	if math.Abs(got-3.0) > 1e-9 {
		t.Errorf("expected 3.0, got %f", got)
	}
}
