// Package unifiedllm is the LLM collaborator used by the agent loop.
//
// # Architecture
//
//   - ProviderAdapter: one implementation per backend. AnthropicAdapter and
//     OpenAIAdapter (which also serves OpenRouter) use the vendor SDKs;
//     GollmAdapter covers the remaining providers through gollm.
//   - Client: routes a Request to an adapter by provider name and runs it
//     through a middleware chain.
//   - Retry and the error taxonomy decide which failures are transient.
//   - Generate is a plain text completion used for summarisation.
//   - The catalog maps model IDs to context windows and prices; Cost turns
//     a Usage into dollars.
//
// # Usage
//
//	adapter, _ := unifiedllm.NewAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"), "")
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("anthropic", adapter))
//
//	resp, _ := client.Complete(ctx, unifiedllm.Request{
//	    Model:    "claude-sonnet-4-5",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(resp.Text())
//
// # Prompt caching
//
// Message.CacheControl marks the last message of a stable prefix. The
// Anthropic adapter turns it into a cache_control breakpoint; OpenAI-style
// endpoints cache prefixes automatically and ignore the flag.
package unifiedllm
