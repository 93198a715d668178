package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/martinemde/shellpilot/agentloop"
	"github.com/martinemde/shellpilot/internal/config"
	"github.com/martinemde/shellpilot/unifiedllm"
)

// newProviderAdapter builds the adapter selected by cfg.Provider.
func newProviderAdapter(cfg *config.Config, logger *zap.Logger) (unifiedllm.ProviderAdapter, error) {
	switch cfg.Provider {
	case config.ProviderHTTP:
		return unifiedllm.NewHTTPAdapter(cfg.APIKey, logger,
			unifiedllm.WithEndpoint(cfg.Endpoint),
			unifiedllm.WithRequestTimeout(cfg.RequestTimeout),
		), nil
	case config.ProviderOpenAI:
		var extra []option.RequestOption
		if cfg.RequestTimeout > 0 {
			extra = append(extra, option.WithRequestTimeout(cfg.RequestTimeout))
		}
		return unifiedllm.NewOpenAIAdapter(cfg.APIKey, openAIBaseURL(cfg.Endpoint), logger, extra...), nil
	case config.ProviderGollm:
		opts := []unifiedllm.GollmAdapterOption{
			unifiedllm.WithAPIKey(cfg.APIKey),
			unifiedllm.WithModel(cfg.Model),
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, unifiedllm.WithMaxTokens(cfg.MaxTokens))
		}
		adapter, err := unifiedllm.NewGollmAdapter(cfg.GollmBackend, opts...)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, &config.ConfigError{Field: "provider", Err: fmt.Errorf("unknown provider %q", cfg.Provider)}
	}
}

// openAIBaseURL turns a chat-completions endpoint into the SDK base URL.
// The default endpoint maps to the SDK default.
func openAIBaseURL(endpoint string) string {
	if endpoint == "" || endpoint == config.DefaultEndpoint {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSuffix(endpoint, "/"), "/chat/completions") + "/"
}

// runAgent wires a session from cfg, runs it to completion and echoes its
// progress to out.
func runAgent(ctx context.Context, cfg *config.Config, logger *zap.Logger, out io.Writer) (*agentloop.RunResult, error) {
	adapter, err := newProviderAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(adapter.Name(), adapter),
		unifiedllm.WithMiddleware(
			unifiedllm.LoggingMiddleware(logger.Named("llm")),
			unifiedllm.RateLimitMiddleware(unifiedllm.NewRequestLimiter(cfg.RequestsPerMinute)),
		),
	)
	defer func() { _ = client.Close() }()

	chat := agentloop.NewChatClient(client, cfg.Model, cfg.ResponseAttemptLimit, logger)
	executor := agentloop.NewShellExecutor(logger,
		agentloop.WithWorkingDir(cfg.WorkingDir),
		agentloop.WithCommandTimeout(cfg.CommandTimeout),
	)
	session := agentloop.NewSession(chat, executor, agentloop.SessionConfig{
		SystemPrompt:        cfg.SystemPrompt,
		MaxQueries:          cfg.MaxQueries,
		ShellTags:           cfg.ShellTags,
		MaxOutputChars:      cfg.MaxOutputChars,
		MaxOutputLines:      cfg.MaxOutputLines,
		LoopDetectionWindow: cfg.LoopDetectionWindow,
		BlockingEvents:      true,
	}, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		echoEvents(out, session.Events())
	}()

	result, err := session.Run(ctx)
	session.Close()
	<-done
	return result, err
}

// echoEvents prints what the agent is doing until events is closed. The
// session blocks on this reader, so every command and its output is echoed.
func echoEvents(out io.Writer, events <-chan agentloop.SessionEvent) {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventRetry:
			delay, _ := ev.Data["delay"].(time.Duration)
			if limited, _ := ev.Data["rate_limited"].(bool); limited {
				fmt.Fprintf(out, "rate limit... sleeping for %s\n", delay)
			} else {
				fmt.Fprintf(out, "request failed: %v (retrying in %s)\n", ev.Data["error"], delay)
			}
		case agentloop.EventCommandStart:
			fmt.Fprintf(out, "shell_type=%v\n%v\n", ev.Data["shell"], ev.Data["command"])
		case agentloop.EventCommandEnd:
			fmt.Fprintf(out, "%v\n%v\n", ev.Data["stdout"], ev.Data["stderr"])
			if timedOut, _ := ev.Data["timed_out"].(bool); timedOut {
				fmt.Fprintln(out, "command timed out")
			}
		case agentloop.EventLoopDetection:
			fmt.Fprintln(out, "warning: the same commands keep repeating")
		case agentloop.EventTaskDone:
			fmt.Fprintln(out, "task done")
		}
	}
}
