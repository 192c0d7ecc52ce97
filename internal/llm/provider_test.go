package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/latticecode/semindex/internal/config"
)

func TestNewProviderUnknownProviderReturnsError(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{Provider: "not-a-provider"}); err == nil {
		t.Fatal("expected an error for an unrecognised provider")
	}
}

func TestOpenAIProviderGenerateReturnsCompletionContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "expanded query text"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{Provider: "openai-compatible", Model: "test-model", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider returned error: %v", err)
	}

	got, err := p.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "restate the query"},
		{Role: RoleUser, Content: "find the http handler"},
	})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if got != "expanded query text" {
		t.Fatalf("Generate = %q, want %q", got, "expanded query text")
	}
}

func TestOpenAIProviderGenerateNoChoicesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "chatcmpl-1", "object": "chat.completion", "choices": []}`))
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(config.LLMConfig{Provider: "openai", Model: "test-model", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIProvider returned error: %v", err)
	}

	if _, err := p.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected an error when the provider returns no choices")
	}
}
