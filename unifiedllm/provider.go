package unifiedllm

import "context"

// ProviderAdapter is the interface every provider backend must implement.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g. "http", "openai", "gollm").
	Name() string

	// Complete sends one blocking request and returns the full response.
	// Adapters never retry; retry policy lives with the caller.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
