package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"os"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) *OllamaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    srv.URL,
		model:      "test-model",
	}
}

func TestOllamaClient_Generate(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %q, want /api/generate", r.URL.Path)
		}
		var req ollamaGenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		if req.Prompt != "fix the bug" {
			t.Errorf("prompt = %q", req.Prompt)
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{
			Model:    req.Model,
			Response: `[{"path":"a.py","find":"x","replace":"y"}]`,
			Done:     true,
		})
	})

	got, err := client.Generate(context.Background(), "fix the bug", GenerationParams{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(got, `"path":"a.py"`) {
		t.Errorf("Generate() = %q, want operations payload", got)
	}
}

func TestOllamaClient_Generate_ModelNotFound(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'test-model' not found"}`))
	})

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if !strings.Contains(err.Error(), "ollama pull") {
		t.Errorf("error should suggest ollama pull: %v", err)
	}
}

func TestOllamaClient_Generate_ServerError(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if !strings.Contains(err.Error(), "status 500") {
		t.Errorf("error should carry status: %v", err)
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	client := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: "done"},
			Done:    true,
		})
	})

	got, err := client.Chat(context.Background(), []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
	}, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if got != "done" {
		t.Errorf("Chat() = %q, want done", got)
	}
}

func TestBuildOptions_Defaults(t *testing.T) {
	options := buildOptions(GenerationParams{})
	if options["temperature"] != float32(0.2) {
		t.Errorf("temperature = %v, want 0.2", options["temperature"])
	}
	if options["top_k"] != 20 {
		t.Errorf("top_k = %v, want 20", options["top_k"])
	}
	if options["num_predict"] != 8192 {
		t.Errorf("num_predict = %v, want 8192", options["num_predict"])
	}
	if _, ok := options["stop"]; ok {
		t.Error("stop should be absent when unset")
	}
}

func TestBuildOptions_Overrides(t *testing.T) {
	temp := float32(0.7)
	maxTokens := 256
	options := buildOptions(GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		Stop:        []string{"```"},
	})
	if options["temperature"] != float32(0.7) {
		t.Errorf("temperature = %v, want 0.7", options["temperature"])
	}
	if options["num_predict"] != 256 {
		t.Errorf("num_predict = %v, want 256", options["num_predict"])
	}
}

func TestNewClient_UnknownProvider(t *testing.T) {
	if _, err := NewClient("mystery"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewClient_OllamaMissingBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	if _, err := NewClient("ollama"); err == nil {
		t.Error("expected error when OLLAMA_BASE_URL unset")
	}
}

func TestLoadSecret_FromEnv(t *testing.T) {
	t.Setenv("PATCHSMITH_TEST_SECRET", "sk-test-123")
	enclave, err := LoadSecret("PATCHSMITH_TEST_SECRET", "/nonexistent")
	if err != nil {
		t.Fatalf("LoadSecret() error = %v", err)
	}
	got, err := openSecret(enclave)
	if err != nil {
		t.Fatalf("openSecret() error = %v", err)
	}
	if got != "sk-test-123" {
		t.Errorf("secret = %q, want sk-test-123", got)
	}
}

func TestLoadSecret_FromFile(t *testing.T) {
	t.Setenv("PATCHSMITH_TEST_SECRET", "")
	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte("sk-file-456\n"), 0600); err != nil {
		t.Fatal(err)
	}
	enclave, err := LoadSecret("PATCHSMITH_TEST_SECRET", path)
	if err != nil {
		t.Fatalf("LoadSecret() error = %v", err)
	}
	got, err := openSecret(enclave)
	if err != nil {
		t.Fatalf("openSecret() error = %v", err)
	}
	if got != "sk-file-456" {
		t.Errorf("secret = %q, want trimmed file content", got)
	}
}

func TestLoadSecret_Missing(t *testing.T) {
	t.Setenv("PATCHSMITH_TEST_SECRET", "")
	if _, err := LoadSecret("PATCHSMITH_TEST_SECRET", "/nonexistent/secret"); err == nil {
		t.Error("expected error when both sources are unavailable")
	}
}
