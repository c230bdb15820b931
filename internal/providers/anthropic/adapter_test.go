package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relayforge/modelmux/internal/registry"
	"github.com/relayforge/modelmux/internal/routing"
)

func chatReq(input string) routing.ProviderRequest {
	return routing.ProviderRequest{Task: registry.FamilyChat, Input: routing.Input(input)}
}

func TestInvokeSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("expected x-api-key header, got %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("expected anthropic-version header")
		}
		if r.URL.Path != "/v1/messages" {
			t.Errorf("expected /v1/messages, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "Hi there"}},
		})
	}))
	defer ts.Close()

	a := New("anthropic", "test-key", ts.URL)
	payload, err := a.Invoke(context.Background(), "claude-sonnet", chatReq(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload) == 0 {
		t.Fatal("expected non-empty payload")
	}
}

func TestInvokeDefaultsMaxTokens(t *testing.T) {
	var receivedPayload map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer ts.Close()

	a := New("anthropic", "key", ts.URL)
	_, _ = a.Invoke(context.Background(), "claude-sonnet", chatReq(`{"messages":[]}`))

	if receivedPayload["max_tokens"] != float64(4096) {
		t.Errorf("expected default max_tokens 4096, got %v", receivedPayload["max_tokens"])
	}
}

func TestInvokeCallerMaxTokensWins(t *testing.T) {
	var receivedPayload map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&receivedPayload)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer ts.Close()

	a := New("anthropic", "key", ts.URL)
	req := routing.ProviderRequest{
		Task:         registry.FamilyChat,
		Input:        routing.Input(`{"messages":[]}`),
		MaxNewTokens: 512,
	}
	_, _ = a.Invoke(context.Background(), "claude-sonnet", req)

	if receivedPayload["max_tokens"] != float64(512) {
		t.Errorf("expected max_tokens 512, got %v", receivedPayload["max_tokens"])
	}
}

func TestInvokeRateLimitWithRetryAfter(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer ts.Close()

	a := New("anthropic", "key", ts.URL)
	_, err := a.Invoke(context.Background(), "claude-sonnet", chatReq(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}

	classified := a.ClassifyError(err)
	if classified.Class != routing.ErrRateLimited {
		t.Errorf("expected rate_limited, got %s", classified.Class)
	}
	if classified.RetryAfter != 12 {
		t.Errorf("expected RetryAfter 12, got %d", classified.RetryAfter)
	}
}

func TestInvokeOverloaded529(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer ts.Close()

	a := New("anthropic", "key", ts.URL)
	_, err := a.Invoke(context.Background(), "claude-sonnet", chatReq(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if classified := a.ClassifyError(err); classified.Class != routing.ErrRateLimited {
		t.Errorf("expected rate_limited for 529, got %s", classified.Class)
	}
}

func TestInvokeServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	a := New("anthropic", "key", ts.URL)
	_, err := a.Invoke(context.Background(), "claude-sonnet", chatReq(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if classified := a.ClassifyError(err); classified.Class != routing.ErrTransient {
		t.Errorf("expected transient, got %s", classified.Class)
	}
}

func TestInvokePromptTooLongIsFatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"prompt is too long"}}`))
	}))
	defer ts.Close()

	a := New("anthropic", "key", ts.URL)
	_, err := a.Invoke(context.Background(), "claude-sonnet", chatReq(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if classified := a.ClassifyError(err); classified.Class != routing.ErrFatal {
		t.Errorf("expected fatal, got %s", classified.Class)
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := New("anthropic", "key", "https://api.anthropic.com")
	if got := a.HealthEndpoint(); got != "https://api.anthropic.com/v1/messages" {
		t.Errorf("health endpoint = %s", got)
	}
}
