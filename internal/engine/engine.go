// Package engine exposes the two model capabilities the ingestion pipeline
// depends on, text completion and text embedding, and adapts the Ollama
// client to them.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/seedbank/internal/ollama"
)

// Completer turns a prompt into a single model response.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is the model-management surface of an inference server.
type Backend interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(ollama.PullProgress)) error
}

// OllamaCompleter sends prompts as a single user turn to an Ollama chat model.
type OllamaCompleter struct {
	client      *ollama.Client
	model       string
	temperature float64
	format      json.RawMessage
}

// NewOllamaCompleter creates a Completer for model. A non-nil format is passed
// to Ollama as the structured output schema.
func NewOllamaCompleter(client *ollama.Client, model string, temperature float64, format json.RawMessage) *OllamaCompleter {
	return &OllamaCompleter{client: client, model: model, temperature: temperature, format: format}
}

func (c *OllamaCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := c.client.Chat(ctx, ollama.ChatRequest{
		Model:    c.model,
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Format:   c.format,
		Options:  &ollama.Options{Temperature: c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("completing with %s: %w", c.model, err)
	}
	return out, nil
}

// OllamaEmbedder embeds text with an Ollama embedding model and enforces the
// dimensionality declared for the target vector index.
type OllamaEmbedder struct {
	client     *ollama.Client
	model      string
	dimensions int
}

// NewOllamaEmbedder creates an Embedder. dimensions <= 0 disables the length check.
func NewOllamaEmbedder(client *ollama.Client, model string, dimensions int) *OllamaEmbedder {
	return &OllamaEmbedder{client: client, model: model, dimensions: dimensions}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("embedding model %s returned %d dimensions, index expects %d", e.model, len(vec), e.dimensions)
	}
	return vec, nil
}
