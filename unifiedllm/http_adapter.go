package unifiedllm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// DefaultChatCompletionsURL is the endpoint used when none is configured.
const DefaultChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// HTTPAdapter speaks the chat-completions wire format directly over HTTP.
// It is the default provider because it exposes the exact status codes and
// error bodies the retry policy depends on.
type HTTPAdapter struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPAdapterOption configures an HTTPAdapter.
type HTTPAdapterOption func(*HTTPAdapter)

// WithEndpoint overrides the chat-completions URL.
func WithEndpoint(url string) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if url != "" {
			a.endpoint = url
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithRequestTimeout bounds each HTTP exchange. Zero leaves it unbounded.
func WithRequestTimeout(d time.Duration) HTTPAdapterOption {
	return func(a *HTTPAdapter) {
		a.httpClient.Timeout = d
	}
}

// NewHTTPAdapter creates an adapter authenticating with a bearer apiKey.
func NewHTTPAdapter(apiKey string, logger *zap.Logger, opts ...HTTPAdapterOption) *HTTPAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &HTTPAdapter{
		endpoint:   DefaultChatCompletionsURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger.Named("llm_client.http"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// -- chat-completions wire structures --

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Name returns the provider identifier.
func (a *HTTPAdapter) Name() string { return "http" }

// Complete posts one chat-completions request. It never retries.
func (a *HTTPAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := chatCompletionRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		payload.Temperature = *req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to marshal request payload", Cause: err},
			Provider: a.Name(),
		}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "failed to create HTTP request", Cause: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	start := time.Now()
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, a.transportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{SDKError: SDKError{Message: "failed to read response body", Cause: err}}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, a.statusError(resp.StatusCode, respBody)
	}

	var decoded chatCompletionResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &ProviderError{
			SDKError:   SDKError{Message: "failed to decode response payload", Cause: err},
			Provider:   a.Name(),
			StatusCode: resp.StatusCode,
			Retryable:  true,
		}
	}
	if len(decoded.Choices) == 0 {
		return nil, &ProviderError{
			SDKError:   SDKError{Message: "response contained no choices"},
			Provider:   a.Name(),
			StatusCode: resp.StatusCode,
			Retryable:  true,
		}
	}

	choice := decoded.Choices[0]
	model := decoded.Model
	if model == "" {
		model = req.Model
	}
	a.logger.Debug("Chat completion received",
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", decoded.Usage.PromptTokens),
		zap.Int("completion_tokens", decoded.Usage.CompletionTokens),
	)

	return &Response{
		ID:       decoded.ID,
		Model:    model,
		Provider: a.Name(),
		Message:  AssistantMessage(choice.Message.Content),
		FinishReason: FinishReason{
			Reason: normalizeFinishReason(choice.FinishReason),
			Raw:    choice.FinishReason,
		},
		Usage: Usage{
			InputTokens:  decoded.Usage.PromptTokens,
			OutputTokens: decoded.Usage.CompletionTokens,
			TotalTokens:  decoded.Usage.TotalTokens,
		},
	}, nil
}

func (a *HTTPAdapter) transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &AbortError{SDKError: SDKError{Message: "request deadline exceeded", Cause: err}}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}
	a.logger.Warn("Network error during chat request", zap.Error(err))
	return &NetworkError{SDKError: SDKError{Message: "failed to execute HTTP request", Cause: err}}
}

// statusError classifies a non-success response. The body's human-readable
// message is searched for a "try again in N ms" hint on rate limits.
func (a *HTTPAdapter) statusError(status int, body []byte) error {
	message, code, raw := parseErrorBody(body)
	if message == "" {
		message = http.StatusText(status)
	}

	var retryAfter *float64
	if status == http.StatusTooManyRequests {
		retryAfter = ParseRetryHint(message)
		a.logger.Info("Request rate limited", zap.Int("status", status), zap.String("response", RedactString(string(body))))
	} else {
		a.logger.Error("Request failed", zap.Int("status", status), zap.String("response", RedactString(string(body))))
	}
	return ErrorFromStatusCode(status, message, a.Name(), code, raw, retryAfter)
}

// parseErrorBody accepts both {"message": ...} and {"error": {"message": ...}}.
func parseErrorBody(body []byte) (message, code string, raw map[string]interface{}) {
	if err := json.Unmarshal(body, &raw); err != nil {
		return string(bytes.TrimSpace(body)), "", nil
	}
	if m, ok := raw["message"].(string); ok {
		message = m
	}
	if nested, ok := raw["error"].(map[string]interface{}); ok {
		if message == "" {
			message, _ = nested["message"].(string)
		}
		if c, ok := nested["code"].(string); ok {
			code = c
		} else if t, ok := nested["type"].(string); ok {
			code = t
		}
	} else if s, ok := raw["error"].(string); ok && message == "" {
		message = s
	}
	return message, code, raw
}

func normalizeFinishReason(raw string) string {
	switch raw {
	case "stop", "length", "content_filter":
		return raw
	case "":
		return "stop"
	default:
		return "other"
	}
}

// String reports the adapter without its credential.
func (a *HTTPAdapter) String() string {
	return fmt.Sprintf("HTTPAdapter{endpoint=%s}", a.endpoint)
}
