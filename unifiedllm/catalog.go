package unifiedllm

import "strings"

// Pricing is USD per million tokens. A nil CacheRead bills cached input at
// the normal input price.
type Pricing struct {
	Input     float64
	Output    float64
	CacheRead *float64
}

// ModelInfo is a catalog entry.
type ModelInfo struct {
	ID            string
	Provider      string
	ContextWindow int
	Price         *Pricing // nil when unknown
	Aliases       []string
}

func floatPtr(v float64) *float64 { return &v }

// Models lists known models. The first entry for a provider is its default.
var Models = []ModelInfo{
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200_000,
		Price: &Pricing{Input: 15, Output: 75, CacheRead: floatPtr(1.5)}, Aliases: []string{"opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200_000,
		Price: &Pricing{Input: 3, Output: 15, CacheRead: floatPtr(0.3)}, Aliases: []string{"sonnet"}},

	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 400_000,
		Price: &Pricing{Input: 2.5, Output: 10, CacheRead: floatPtr(0.25)}, Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: "openai", ContextWindow: 400_000,
		Price: &Pricing{Input: 0.75, Output: 3}},
	{ID: "gpt-5.2-codex", Provider: "openai", ContextWindow: 400_000,
		Price: &Pricing{Input: 2.5, Output: 10}, Aliases: []string{"codex"}},

	{ID: "llama-3.3-70b-versatile", Provider: "groq", ContextWindow: 128_000,
		Price: &Pricing{Input: 0.59, Output: 0.79}},
	{ID: "mistral-large-latest", Provider: "mistral", ContextWindow: 128_000,
		Price: &Pricing{Input: 2, Output: 6}},
	// Local models cost nothing but their window depends on the pull.
	{ID: "qwen2.5-coder:32b", Provider: "ollama", ContextWindow: 32_768,
		Price: &Pricing{}},
}

var modelIndex = func() map[string]*ModelInfo {
	idx := make(map[string]*ModelInfo)
	for i := range Models {
		m := &Models[i]
		idx[m.ID] = m
		for _, alias := range m.Aliases {
			idx[alias] = m
		}
	}
	return idx
}()

// GetModelInfo returns the entry for an ID or alias, or nil. Router-style
// IDs such as "openai/gpt-5.2" resolve to the bare model.
func GetModelInfo(model string) *ModelInfo {
	if m, ok := modelIndex[model]; ok {
		return m
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return modelIndex[model[i+1:]]
	}
	return nil
}

// GetLatestModel returns the default model for provider, or nil.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}

// ContextWindow returns the catalog window for model.
func ContextWindow(model string) (int, bool) {
	if m := GetModelInfo(model); m != nil && m.ContextWindow > 0 {
		return m.ContextWindow, true
	}
	return 0, false
}

// Cost prices usage for model. It reports false, with a zero cost, when the
// model has no price. Cache reads are billed at the cache price if the
// model has one.
func Cost(model string, usage Usage) (float64, bool) {
	m := GetModelInfo(model)
	if m == nil || m.Price == nil {
		return 0, false
	}
	p := m.Price
	input, cached := usage.InputTokens, 0
	if usage.CacheReadTokens != nil && p.CacheRead != nil {
		cached = min(*usage.CacheReadTokens, input)
		input -= cached
	}
	cost := PriceCost(p.Input, p.Output, Usage{InputTokens: input, OutputTokens: usage.OutputTokens})
	if cached > 0 {
		cost += float64(cached) * *p.CacheRead / 1e6
	}
	return cost, true
}

// PriceCost computes a cost from explicit per-million prices.
func PriceCost(inputPerMillion, outputPerMillion float64, usage Usage) float64 {
	return (float64(usage.InputTokens)*inputPerMillion + float64(usage.OutputTokens)*outputPerMillion) / 1e6
}
