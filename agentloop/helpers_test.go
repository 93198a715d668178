package agentloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/martinemde/shellpilot/unifiedllm"
)

// scriptStep is one canned provider outcome.
type scriptStep struct {
	text string
	err  error
}

// scriptedAdapter replays a fixed sequence of replies and records requests.
type scriptedAdapter struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []unifiedllm.Request
}

func newScriptedAdapter(steps ...scriptStep) *scriptedAdapter {
	return &scriptedAdapter{steps: steps}
}

func reply(text string) scriptStep { return scriptStep{text: text} }

func failure(err error) scriptStep { return scriptStep{err: err} }

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req.Messages = append([]unifiedllm.Message(nil), req.Messages...)
	a.requests = append(a.requests, req)
	if len(a.steps) == 0 {
		return nil, errors.New("script exhausted")
	}
	step := a.steps[0]
	a.steps = a.steps[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &unifiedllm.Response{
		ID:       "resp",
		Model:    req.Model,
		Provider: a.Name(),
		Message:  unifiedllm.AssistantMessage(step.text),
	}, nil
}

func (a *scriptedAdapter) Requests() []unifiedllm.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]unifiedllm.Request(nil), a.requests...)
}

// lastUserPrompt returns the final message content of the i-th request.
func (a *scriptedAdapter) lastUserPrompt(i int) string {
	reqs := a.Requests()
	msgs := reqs[i].Messages
	return msgs[len(msgs)-1].Content
}

// sleepRecorder replaces the retry wait so tests observe delays instantly.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
	return ctx.Err()
}

func (r *sleepRecorder) Durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

func newTestChat(adapter unifiedllm.ProviderAdapter, limit int, logger *zap.Logger, sleeper *sleepRecorder) *ChatClient {
	client := unifiedllm.NewClient(unifiedllm.WithProvider(adapter.Name(), adapter))
	policy := unifiedllm.RetryPolicy{
		BaseDelay:         1,
		MaxDelay:          60,
		BackoffMultiplier: 2,
		Sleep:             sleeper.Sleep,
	}
	return NewChatClient(client, "test-model", limit, logger, WithRetryPolicy(policy))
}

// fakeExecutor returns canned results without spawning anything.
type fakeExecutor struct {
	mu     sync.Mutex
	calls  []ExtractedCommand
	result ExecResult
	err    error
}

func (f *fakeExecutor) Execute(ctx context.Context, command, tag string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ExtractedCommand{ShellTag: tag, Command: command})
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	return &res, nil
}

func (f *fakeExecutor) Calls() []ExtractedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExtractedCommand(nil), f.calls...)
}

func serverError() error {
	return unifiedllm.ErrorFromStatusCode(500, "internal error", "scripted", "", nil, nil)
}

func rateLimited(message string) error {
	return unifiedllm.ErrorFromStatusCode(429, message, "scripted", "", nil, unifiedllm.ParseRetryHint(message))
}
