package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubClient struct {
	lastModel string
	reply     string
}

func (s *stubClient) Complete(_ context.Context, model, _ string) (string, error) {
	s.lastModel = model
	return s.reply, nil
}

func TestRegistryRoutesClaudeModelsToAnthropic(t *testing.T) {
	openAI := &stubClient{reply: "from-openai"}
	anthropic := &stubClient{reply: "from-anthropic"}
	registry := NewRegistry(openAI, anthropic)

	got, err := registry.Complete(context.Background(), "claude-3-5-sonnet-20241022", "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "from-anthropic" {
		t.Fatalf("Complete() = %q", got)
	}
	if anthropic.lastModel != "claude-3-5-sonnet-20241022" {
		t.Fatalf("anthropic model = %q", anthropic.lastModel)
	}
	if openAI.lastModel != "" {
		t.Fatal("openai backend should not be called")
	}
}

func TestRegistryRoutesOtherModelsToOpenAI(t *testing.T) {
	openAI := &stubClient{reply: "from-openai"}
	registry := NewRegistry(openAI, &stubClient{})

	got, err := registry.Complete(context.Background(), "gpt-4o", "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "from-openai" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestRegistryErrorsWhenBackendMissing(t *testing.T) {
	registry := NewRegistry(&stubClient{}, nil)
	if _, err := registry.Complete(context.Background(), "claude-3-haiku", "prompt"); err == nil {
		t.Fatal("expected error for missing anthropic backend")
	}
}

func TestOpenAIClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal request: %v", err)
		}
		if payload["model"] != "gpt-4o" {
			t.Fatalf("model = %v", payload["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SELECT 1"}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	got, err := client.Complete(context.Background(), "gpt-4o", "count the orders")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestOpenAIClientCompleteErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}

	_, err = client.Complete(context.Background(), "gpt-4o", "count the orders")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropicClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Fatalf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Fatalf("anthropic-version = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"SELECT COUNT(*) FROM orders"}]}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}

	got, err := client.Complete(context.Background(), "claude-3-5-sonnet-20241022", "count the orders")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT COUNT(*) FROM orders" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestAnthropicClientCompleteNoTextContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[]}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}

	if _, err := client.Complete(context.Background(), "claude-3-haiku", "count the orders"); err == nil {
		t.Fatal("expected error for empty content")
	}
}
