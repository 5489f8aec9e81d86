package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/seedbank/internal/generator"
	"github.com/kalambet/seedbank/internal/pipeline"
	"github.com/kalambet/seedbank/internal/storage"
)

const (
	maxRequestBodySize = 64 << 10
	defaultSearchLimit = 5
	maxSearchLimit     = 50
	maxSeedCount       = 500
)

// Recaller runs nearest-neighbour queries against the seeded collection.
type Recaller interface {
	Recall(ctx context.Context, query string, topK int) ([]storage.Match, error)
	Count(ctx context.Context) (int, error)
}

// Deps holds what the HTTP and MCP surfaces need.
type Deps struct {
	Seeder   pipeline.SeedRunner
	Recaller Recaller
	// Token protects the seed and search routes. Empty disables auth.
	Token        string
	DefaultMode  pipeline.Mode
	DefaultCount int
}

// SeedRequest is the body of POST /seed. Zero values fall back to defaults.
type SeedRequest struct {
	Mode  string `json:"mode"`
	Count int    `json:"count"`
}

// SearchResult is one hit returned by /search and search_knowledge.
type SearchResult struct {
	RecordID string  `json:"record_id"`
	Name     string  `json:"name"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(RequireToken(deps.Token))
		}
		r.Post("/seed", handleSeed(deps))
		r.Get("/search", handleSearch(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSeed(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req SeedRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
				return
			}
		}

		mode, count, err := resolveSeedArgs(deps, req.Mode, req.Count)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		report, err := deps.Seeder.Seed(r.Context(), mode, count)
		if err != nil {
			code, errType := seedErrorStatus(err)
			httpError(w, code, errType, "seed failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

func resolveSeedArgs(deps Deps, modeName string, count int) (pipeline.Mode, int, error) {
	mode := deps.DefaultMode
	if modeName != "" {
		m, err := pipeline.ParseMode(modeName)
		if err != nil {
			return "", 0, err
		}
		mode = m
	}
	if count == 0 {
		count = deps.DefaultCount
	}
	if count < 1 || count > maxSeedCount {
		return "", 0, fmt.Errorf("count must be between 1 and %d", maxSeedCount)
	}
	return mode, count, nil
}

func seedErrorStatus(err error) (int, string) {
	var connErr *storage.ConnectionError
	var genErr *generator.GenerationError
	switch {
	case errors.Is(err, pipeline.ErrSeedInProgress):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, pipeline.ErrInvalidMode), errors.Is(err, pipeline.ErrInvalidCount):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.As(err, &connErr):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.As(err, &genErr):
		return http.StatusBadGateway, "generation_error"
	}
	return http.StatusInternalServerError, "api_error"
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := defaultSearchLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, maxSearchLimit)
		}

		matches, err := deps.Recaller.Recall(r.Context(), query, limit)
		if err != nil {
			var connErr *storage.ConnectionError
			if errors.As(err, &connErr) {
				httpError(w, http.StatusServiceUnavailable, "store_unavailable", "search failed: %v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "search failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": toResults(matches)})
	}
}

func toResults(matches []storage.Match) []SearchResult {
	out := make([]SearchResult, len(matches))
	for i, m := range matches {
		out[i] = SearchResult{
			RecordID: m.SourceRecord.ID,
			Name:     m.SourceRecord.Name,
			Text:     m.Text,
			Score:    m.Score,
		}
	}
	return out
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
