package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
)

// Handler completes one request. Middleware wraps handlers.
type Handler func(ctx context.Context, req Request) (*Response, error)

// Middleware wraps the call to a provider. Middleware registered first sees
// the request first and the response last.
type Middleware func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error)

// Client routes requests to provider adapters through a middleware chain.
// The provider set is fixed at construction.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	middleware      []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) { c.providers[name] = adapter }
}

// WithDefaultProvider names the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) { c.defaultProvider = name }
}

// WithMiddleware appends middleware to the chain.
func WithMiddleware(mw ...Middleware) ClientOption {
	return func(c *Client) { c.middleware = append(c.middleware, mw...) }
}

// NewClient builds a Client. With a single provider and no explicit default,
// that provider becomes the default.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{providers: make(map[string]ProviderAdapter)}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// Providers returns the registered provider names in sorted order.
func (c *Client) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolve picks the adapter for req: the explicit provider, then the
// catalog owner of the model when it is registered, then the default.
func (c *Client) resolve(req Request) (ProviderAdapter, error) {
	name := req.Provider
	if name == "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("no provider for model %q and no default configured", req.Model),
		}}
	}
	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Complete sends req through the middleware chain to its provider.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	adapter, err := c.resolve(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	return chain(adapter.Complete, c.middleware)(ctx, req)
}

func chain(h Handler, mws []Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, r Request) (*Response, error) {
			return mw(ctx, r, next)
		}
	}
	return h
}

// Close closes every adapter that holds resources and joins their errors.
func (c *Client) Close() error {
	var errs []error
	for _, name := range c.Providers() {
		if closer, ok := c.providers[name].(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// providerEnvKeys maps providers to the variable their API key is read from.
// gollm reads its own variables for the providers not listed.
var providerEnvKeys = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// APIKeyFromEnv returns provider's API key from its conventional variable.
func APIKeyFromEnv(provider string) string {
	if env, ok := providerEnvKeys[provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

// NewAdapter builds the adapter for provider. Anthropic, OpenAI and OpenRouter
// use their native SDKs; any other name is served by gollm.
func NewAdapter(provider, apiKey, baseURL string) (ProviderAdapter, error) {
	if apiKey == "" {
		apiKey = APIKeyFromEnv(provider)
	}
	switch provider {
	case "":
		return nil, &ConfigurationError{SDKError: SDKError{Message: "provider name is required"}}
	case "anthropic":
		return NewAnthropicAdapter(apiKey, WithAnthropicBaseURL(baseURL))
	case "openai":
		return NewOpenAIAdapter("openai", apiKey, baseURL)
	case "openrouter":
		if baseURL == "" {
			baseURL = OpenRouterBaseURL
		}
		return NewOpenAIAdapter("openrouter", apiKey, baseURL)
	default:
		return NewGollmAdapter(provider, apiKey)
	}
}
