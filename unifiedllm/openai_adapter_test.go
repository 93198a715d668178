package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIAdapterComplete(t *testing.T) {
	var payload map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"!TASK_DONE!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter("test-key", srv.URL, nil)
	resp, err := adapter.Complete(context.Background(), Request{
		Model: "gpt-test",
		Messages: []Message{
			SystemMessage("sys"),
			UserMessage("hi"),
			AssistantMessage("```bash\nls\n```"),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "!TASK_DONE!" {
		t.Errorf("unexpected text %q", resp.Text())
	}
	if resp.Provider != "openai" {
		t.Errorf("expected provider openai, got %q", resp.Provider)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Errorf("expected 7 tokens, got %d", resp.Usage.TotalTokens)
	}

	msgs, _ := payload["messages"].([]interface{})
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages on the wire, got %d", len(msgs))
	}
	if temp, ok := payload["temperature"].(float64); !ok || temp != 0 {
		t.Errorf("expected temperature 0, got %v", payload["temperature"])
	}
}

func TestOpenAIAdapterRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached. Please try again in 1200ms.","type":"requests","code":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	adapter := NewOpenAIAdapter("k", srv.URL, nil)
	_, err := adapter.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("")}})

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %T (%v)", err, err)
	}
	if rl.RetryAfter == nil || *rl.RetryAfter != 1.2 {
		t.Errorf("expected RetryAfter 1.2, got %v", rl.RetryAfter)
	}
	if calls != 1 {
		t.Errorf("SDK retries should be disabled, server saw %d calls", calls)
	}
}

func TestOpenAIAdapterUnsupportedRole(t *testing.T) {
	adapter := NewOpenAIAdapter("k", "http://127.0.0.1:0", nil)
	_, err := adapter.Complete(context.Background(), Request{
		Model:    "m",
		Messages: []Message{{Role: "tool", Content: "x"}},
	})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidRequestError, got %T", err)
	}
}
