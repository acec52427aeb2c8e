package compose

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestTransform_SendsFixedTemplate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  a witty post  "}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "test-model", zap.NewNop())
	out, err := c.Transform(context.Background(), "raw user text")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out != "a witty post" {
		t.Fatalf("completion must be trimmed, got %q", out)
	}

	if got.Model != "test-model" {
		t.Fatalf("model %q", got.Model)
	}
	if got.MaxTokens != maxTokens || got.Temperature != temperature {
		t.Fatalf("sampling parameters must be fixed, got %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != instruction {
		t.Fatalf("instruction template altered: %+v", got.Messages)
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "raw user text" {
		t.Fatalf("user text must be the sole input, got %+v", got.Messages[1])
	}
}

func TestTransform_EmptyCompletionFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "", zap.NewNop())
	out, err := c.Transform(context.Background(), "text")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out != FallbackText {
		t.Fatalf("expected fallback, got %q", out)
	}
}

func TestTransform_BlankContentFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "   "}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "", zap.NewNop())
	out, err := c.Transform(context.Background(), "text")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out != FallbackText {
		t.Fatalf("expected fallback, got %q", out)
	}
}

func TestTransform_UpstreamErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "", zap.NewNop())
	if _, err := c.Transform(context.Background(), "text"); err == nil {
		t.Fatal("expected an error on a non-200 response")
	}
}
