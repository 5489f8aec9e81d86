package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/seedbank/internal/ollama"
)

func TestOllamaCompleter_SendsPromptAsUserTurn(t *testing.T) {
	var got struct {
		Model    string           `json:"model"`
		Messages []ollama.Message `json:"messages"`
		Format   json.RawMessage  `json:"format"`
		Options  ollama.Options   `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "[]"},
		})
	}))
	defer srv.Close()

	format := json.RawMessage(`{"type":"object"}`)
	c := NewOllamaCompleter(ollama.New(srv.URL), "llama3.1", 0.6, format)
	out, err := c.Complete(context.Background(), "generate 3 records")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "[]" {
		t.Errorf("Complete() = %q, want []", out)
	}
	if got.Model != "llama3.1" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "generate 3 records" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if string(got.Format) != `{"type":"object"}` {
		t.Errorf("format = %s", got.Format)
	}
	if got.Options.Temperature != 0.6 {
		t.Errorf("temperature = %v, want 0.6", got.Options.Temperature)
	}
}

func embedServer(t *testing.T, vec []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_ChecksDimensions(t *testing.T) {
	srv := embedServer(t, []float32{0.1, 0.2, 0.3})

	ok := NewOllamaEmbedder(ollama.New(srv.URL), "nomic-embed-text", 3)
	if vec, err := ok.Embed(context.Background(), "text"); err != nil || len(vec) != 3 {
		t.Fatalf("Embed() = %v, %v; want 3 dims", vec, err)
	}

	mismatch := NewOllamaEmbedder(ollama.New(srv.URL), "nomic-embed-text", 768)
	_, err := mismatch.Embed(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "768") {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}

	unchecked := NewOllamaEmbedder(ollama.New(srv.URL), "nomic-embed-text", 0)
	if _, err := unchecked.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed without dimension check: %v", err)
	}
}
