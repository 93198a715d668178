// Package unifiedllm is a small provider-agnostic chat client used by the
// agent loop to talk to language models.
//
// # Architecture
//
// The package is split in three layers:
//
//   - Provider adapters: HTTPAdapter (raw chat-completions over net/http),
//     OpenAIAdapter (github.com/openai/openai-go) and GollmAdapter
//     (github.com/teilomillet/gollm). Adapters send exactly one request and
//     never retry.
//   - Client: routes a Request to a registered adapter and applies middleware
//     such as RateLimitMiddleware and LoggingMiddleware.
//   - Retry: a bounded retry loop that honours rate-limit wait hints parsed
//     from the provider's error message.
//
// # Usage
//
//	adapter := unifiedllm.NewHTTPAdapter(apiKey, logger)
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("http", adapter))
//
//	resp, err := client.Complete(ctx, unifiedllm.Request{
//	    Model:       "gpt-4o-mini",
//	    Messages:    []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	    Temperature: unifiedllm.Float64(0),
//	})
//	fmt.Println(resp.Text())
//
// # Errors
//
// Every failure is one of the typed errors in errors.go. A 429 becomes a
// RateLimitError whose RetryAfter is set when the message contains a hint
// like "Please try again in 1200ms".
package unifiedllm
