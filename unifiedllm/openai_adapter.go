package unifiedllm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIAdapter sends chat completions through the official openai-go SDK.
// The SDK's own retries are disabled so that the caller's attempt budget is
// the only retry loop.
type OpenAIAdapter struct {
	client openai.Client
	logger *zap.Logger
}

// NewOpenAIAdapter creates an adapter for apiKey. baseURL may be empty to use
// the SDK default.
func NewOpenAIAdapter(apiKey, baseURL string, logger *zap.Logger, extra ...option.RequestOption) *OpenAIAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	return &OpenAIAdapter{
		client: openai.NewClient(opts...),
		logger: logger.Named("llm_client.openai"),
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete sends one request. It never retries.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			return nil, &InvalidRequestError{ProviderError: ProviderError{
				SDKError: SDKError{Message: fmt.Sprintf("unsupported role %q", m.Role)},
				Provider: a.Name(),
			}}
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(0),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.translateError(ctx, err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: "response contained no choices"},
			Provider:  a.Name(),
			Retryable: true,
		}
	}

	choice := completion.Choices[0]
	return &Response{
		ID:       completion.ID,
		Model:    completion.Model,
		Provider: a.Name(),
		Message:  AssistantMessage(choice.Message.Content),
		FinishReason: FinishReason{
			Reason: normalizeFinishReason(choice.FinishReason),
			Raw:    choice.FinishReason,
		},
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}, nil
}

func (a *OpenAIAdapter) translateError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &NetworkError{SDKError: SDKError{Message: "openai request failed", Cause: err}}
	}

	message := apiErr.Message
	if message == "" {
		message = err.Error()
	}
	var retryAfter *float64
	if apiErr.StatusCode == 429 {
		retryAfter = ParseRetryHint(message)
		if retryAfter == nil {
			retryAfter = ParseRetryHint(err.Error())
		}
		a.logger.Info("Request rate limited", zap.Int("status", apiErr.StatusCode), zap.String("response", RedactString(message)))
	} else {
		a.logger.Error("Request failed", zap.Int("status", apiErr.StatusCode), zap.String("response", RedactString(message)))
	}
	return ErrorFromStatusCode(apiErr.StatusCode, message, a.Name(), apiErr.Code, nil, retryAfter)
}
