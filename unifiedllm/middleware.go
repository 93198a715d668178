package unifiedllm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware paces outgoing requests through limiter. A nil limiter
// lets every request through.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &AbortError{SDKError: SDKError{Message: "waiting for request slot", Cause: err}}
			}
		}
		return next(ctx, req)
	}
}

// NewRequestLimiter returns a limiter allowing perMinute requests per minute,
// or nil when perMinute is not positive.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// LoggingMiddleware records the outcome and latency of every provider call.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("Provider call failed", append(fields, zap.Error(err))...)
			return nil, err
		}
		logger.Debug("Provider call complete", append(fields,
			zap.String("response_id", resp.ID),
			zap.Int("total_tokens", resp.Usage.TotalTokens))...)
		return resp, nil
	}
}
