// Package llm holds the text generation capability consumed by the indexing
// tasks together with the truncation-aware retry logic wrapped around it.
package llm

import "context"

// Response is the text returned by one Send call.
type Response struct {
	Text string
}

// Client is the injected LLM capability. Implementations may fail on
// transport errors and give no guarantee about determinism or length.
type Client interface {
	// Send submits prompt. conversationTag only hints continuity to the
	// backend; callers must not rely on it for ordering.
	Send(ctx context.Context, prompt string, conversationTag string) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, prompt string, conversationTag string) (Response, error)

// Send calls f.
func (f ClientFunc) Send(ctx context.Context, prompt string, conversationTag string) (Response, error) {
	return f(ctx, prompt, conversationTag)
}
