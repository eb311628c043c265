package unifiedllm

import (
	"context"
	"time"
)

// GenerateOptions configures a tool-free completion. Prompt and Messages
// are mutually exclusive.
type GenerateOptions struct {
	Model       string
	Provider    string
	System      string
	Prompt      string
	Messages    []Message
	MaxTokens   *int
	Temperature *float64
	RetryPolicy *RetryPolicy // nil means DefaultRetryPolicy
	// Timeout bounds each attempt, not the whole retry sequence.
	Timeout time.Duration
}

type GenerateResult struct {
	Text         string
	FinishReason FinishReason
	Usage        Usage
	Response     *Response
}

// Generate runs one completion without tools, retrying transient failures.
func Generate(ctx context.Context, client Completer, opts GenerateOptions) (*GenerateResult, error) {
	switch {
	case client == nil:
		return nil, &ConfigurationError{SDKError: SDKError{Message: "generate requires a client"}}
	case opts.Prompt != "" && len(opts.Messages) > 0:
		return nil, &ConfigurationError{SDKError: SDKError{Message: "prompt and messages are mutually exclusive"}}
	}

	msgs := make([]Message, 0, len(opts.Messages)+2)
	if opts.System != "" {
		msgs = append(msgs, SystemMessage(opts.System))
	}
	msgs = append(msgs, opts.Messages...)
	if opts.Prompt != "" {
		msgs = append(msgs, UserMessage(opts.Prompt))
	}
	req := Request{
		Model:       opts.Model,
		Provider:    opts.Provider,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}

	policy := DefaultRetryPolicy()
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return client.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		Text:         resp.Text(),
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
		Response:     resp,
	}, nil
}
