package agentloop

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/shellpilot/unifiedllm"
)

// ChatClient sends one conversational turn to the model and retries failed
// attempts within a per-turn attempt budget.
type ChatClient struct {
	client       *unifiedllm.Client
	model        string
	attemptLimit int
	policy       unifiedllm.RetryPolicy
	onRetry      func(err error, attempt int, delay time.Duration)
	logger       *zap.Logger
}

// ChatClientOption configures a ChatClient.
type ChatClientOption func(*ChatClient)

// WithRetryPolicy replaces the backoff settings. MaxRetries, ShouldRetry and
// HonorRetryAfter are always set by Send: a rate-limit hint is slept in full
// however long it is.
func WithRetryPolicy(p unifiedllm.RetryPolicy) ChatClientOption {
	return func(c *ChatClient) { c.policy = p }
}

// WithRetryObserver registers fn to be called before each retry wait.
func WithRetryObserver(fn func(err error, attempt int, delay time.Duration)) ChatClientOption {
	return func(c *ChatClient) { c.onRetry = fn }
}

// DefaultChatRetryPolicy is the backoff used for non-rate-limit failures.
func DefaultChatRetryPolicy() unifiedllm.RetryPolicy {
	return unifiedllm.RetryPolicy{
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// NewChatClient creates a ChatClient for model. attemptLimit is the total
// number of attempts allowed per turn, including the first.
func NewChatClient(client *unifiedllm.Client, model string, attemptLimit int, logger *zap.Logger, opts ...ChatClientOption) *ChatClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ChatClient{
		client:       client,
		model:        model,
		attemptLimit: attemptLimit,
		policy:       DefaultChatRetryPolicy(),
		logger:       logger.Named("chat"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// shouldRetry treats every provider failure as transient. Only cancellation
// and local misconfiguration stop the loop early.
func shouldRetry(err error) bool {
	var abort *unifiedllm.AbortError
	var cfg *unifiedllm.ConfigurationError
	switch {
	case errors.As(err, &abort), errors.As(err, &cfg):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Send transmits the system prompt, history and nextPrompt as one request.
// attempt is the 1-based number of the first attempt; a value already past
// the limit fails without sending anything. On success it returns the two
// messages to append to history (the sent prompt and the reply) and the
// reply text.
func (c *ChatClient) Send(ctx context.Context, nextPrompt string, history []unifiedllm.Message, systemPrompt string, attempt int) ([]unifiedllm.Message, string, error) {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > c.attemptLimit {
		return nil, "", &unifiedllm.AttemptLimitExceededError{Attempts: attempt, Limit: c.attemptLimit}
	}

	messages := make([]unifiedllm.Message, 0, len(history)+2)
	messages = append(messages, unifiedllm.SystemMessage(systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, unifiedllm.UserMessage(nextPrompt))

	c.logger.Info("Sending messages",
		zap.String("model", c.model),
		zap.Int("attempt", attempt),
		zap.Any("messages", messages),
	)

	req := unifiedllm.Request{
		Model:       c.model,
		Messages:    messages,
		Temperature: unifiedllm.Float64(0),
	}

	policy := c.policy
	policy.MaxRetries = c.attemptLimit - attempt
	policy.ShouldRetry = shouldRetry
	policy.HonorRetryAfter = true
	policy.OnRetry = func(err error, n int, delay time.Duration) {
		var rl *unifiedllm.RateLimitError
		if errors.As(err, &rl) {
			c.logger.Info("Rate limited, waiting before retry", zap.Duration("delay", delay), zap.Int("attempt", attempt+n))
		} else {
			c.logger.Warn("Request failed, retrying", zap.Error(err), zap.Duration("delay", delay), zap.Int("attempt", attempt+n))
		}
		if c.onRetry != nil {
			c.onRetry(err, attempt+n, delay)
		}
	}

	made := attempt - 1
	resp, err := unifiedllm.Retry(ctx, policy, func(ctx context.Context) (*unifiedllm.Response, error) {
		made++
		return c.client.Complete(ctx, req)
	})
	if err != nil {
		if made >= c.attemptLimit && shouldRetry(err) {
			return nil, "", &unifiedllm.AttemptLimitExceededError{
				SDKError: unifiedllm.SDKError{Cause: err},
				Attempts: made + 1,
				Limit:    c.attemptLimit,
			}
		}
		return nil, "", err
	}

	reply := resp.Text()
	c.logger.Info("Received response", zap.Int("attempt", made), zap.String("response", reply))

	return []unifiedllm.Message{
		unifiedllm.UserMessage(nextPrompt),
		unifiedllm.AssistantMessage(reply),
	}, reply, nil
}
