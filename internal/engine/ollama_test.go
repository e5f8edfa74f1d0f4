package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOllamaGenerate(t *testing.T) {
	var got ollamaChatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":" Boo! "},"done":true,"prompt_eval_count":42,"eval_count":2}`))
	}))
	defer ts.Close()

	e := NewOllama(ts.URL+"/", "tiny", DefaultParams(), time.Second)
	reply, err := e.Generate(context.Background(), Request{
		SystemPrompt: "You are a trickster.",
		History:      []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
		UserText:     "scare me",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Text != "Boo!" {
		t.Fatalf("Text = %q, want %q", reply.Text, "Boo!")
	}
	if reply.Usage.PromptTokens != 42 || reply.Usage.CompletionTokens != 2 || reply.Usage.TotalTokens != 44 {
		t.Fatalf("Usage = %+v, want 42/2/44", reply.Usage)
	}
	if got.Stream {
		t.Fatalf("request stream = true, want false")
	}
	if len(got.Messages) != 4 || got.Messages[0].Role != "system" || got.Messages[3].Content != "scare me" {
		t.Fatalf("messages = %+v, want system + history + user", got.Messages)
	}
	if got.Options.NumPredict != 180 || got.Options.NumCtx != 2048 {
		t.Fatalf("options = %+v, want num_predict 180 num_ctx 2048", got.Options)
	}
}

func TestOllamaServerErrorIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	e := NewOllama(ts.URL, "tiny", DefaultParams(), time.Second)
	_, err := e.Generate(context.Background(), Request{UserText: "hi"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestOllamaUnreachableIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	e := NewOllama(url, "tiny", DefaultParams(), time.Second)
	_, err := e.Generate(context.Background(), Request{UserText: "hi"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestOllamaDeadlineIsTimeout(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reading the body lets the server notice the client hanging up.
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-release:
			}
			return
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":true}`))
	}))
	defer ts.Close()
	defer close(release)

	e := NewOllama(ts.URL, "tiny", DefaultParams(), 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Generate(ctx, Request{UserText: "hi"})
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("Generate() error = %v, want ErrGenerationTimeout", err)
	}

	// The engine stays usable after a timeout.
	reply, err := e.Generate(context.Background(), Request{UserText: "again"})
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if reply.Text != "ok" {
		t.Fatalf("second Text = %q, want ok", reply.Text)
	}
}

func TestOllamaListModels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tags" {
			t.Errorf("request = %s %s, want GET /api/tags", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":" "},{"name":"qwen2.5:3b"}]}`))
	}))
	defer ts.Close()

	e := NewOllama(ts.URL, "qwen2.5:3b", DefaultParams(), time.Second)
	if got := ModelOf(e); got != "qwen2.5:3b" {
		t.Fatalf("ModelOf() = %q, want qwen2.5:3b", got)
	}
	models, err := ListModels(context.Background(), e)
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.1:8b" || models[1] != "qwen2.5:3b" {
		t.Fatalf("ListModels() = %v, want [llama3.1:8b qwen2.5:3b]", models)
	}
}

func TestOllamaListModelsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	_, err := NewOllama(ts.URL, "", DefaultParams(), time.Second).ListModels(context.Background())
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("ListModels() error = %v, want ErrEngineUnavailable", err)
	}
}

func TestModelOfFallsBackToConfiguredName(t *testing.T) {
	llama := &LlamaCppEngine{modelPath: "/models/tinyllama-1.1b.Q4_K_M.gguf"}
	if got := ModelOf(llama); got != "tinyllama-1.1b.Q4_K_M.gguf" {
		t.Fatalf("ModelOf(llamacpp) = %q", got)
	}
	models, err := ListModels(context.Background(), NewEcho(DefaultParams()))
	if err != nil || len(models) != 1 || models[0] != "echo" {
		t.Fatalf("ListModels(echo) = %v, %v; want [echo]", models, err)
	}
}
