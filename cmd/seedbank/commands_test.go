package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/seedbank/internal/config"
	"github.com/kalambet/seedbank/internal/pipeline"
	"github.com/kalambet/seedbank/internal/record"
	"github.com/kalambet/seedbank/internal/storage"
	mongostore "github.com/kalambet/seedbank/internal/storage/mongo"
)

var ctx = context.Background()

func testRecord(id string) record.Record {
	return record.Record{
		ID:                   id,
		Name:                 "Record " + id,
		Description:          "About " + id,
		KeyConcepts:          []string{"k"},
		DesignGuidelines:     []string{"g"},
		CommonPitfalls:       []string{"p"},
		BestPractices:        []string{"b"},
		RelevantTechnologies: []string{"t"},
		Notes:                "",
	}
}

// newOllamaStub serves /api/chat with the given records and /api/embed with
// a fixed three-dimensional vector.
func newOllamaStub(t *testing.T, records ...record.Record) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var embeds atomic.Int32

	content, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method + " " + r.URL.Path {
		case "POST /api/chat":
			json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": string(content)},
			})
		case "POST /api/embed":
			embeds.Add(1)
			w.Write([]byte(`{"embeddings":[[1,0,0]]}`))
		case "GET /api/tags":
			w.Write([]byte(`{"models":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &embeds
}

func testConfig(dataDir, ollamaURL string) config.Config {
	return config.Config{
		Ollama: config.OllamaConfig{
			BaseURL:       ollamaURL,
			GenerateModel: "gen",
			EmbedModel:    "emb",
			Temperature:   0.5,
		},
		Generator: config.GeneratorConfig{Domain: "testing", Count: 2, Timeout: "1m"},
		Storage: config.StorageConfig{
			Backend:      "sqlite",
			DataDir:      dataDir,
			Database:     "seedbank",
			Collection:   "knowledge",
			IndexName:    "vector_index",
			TextKey:      "embeddingText",
			EmbeddingKey: "embeddingVector",
			Dimensions:   3,
			Similarity:   "cosine",
		},
		Pipeline: config.PipelineConfig{Mode: "replace", Concurrency: 1, EmbedTimeout: "10s", WriteTimeout: "10s"},
		Server:   config.ServerConfig{Port: 4000},
		Chat:     config.ChatConfig{BaseURL: "http://localhost:3000", Timeout: "5s"},
		Log:      config.LogConfig{Level: "error"},
	}
}

func useConfig(t *testing.T, cfg config.Config) {
	t.Helper()
	old := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = old })
}

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := stderr
	stderr = &buf
	t.Cleanup(func() { stderr = old })
	return &buf
}

func TestSeedCommand_WritesRecords(t *testing.T) {
	srv, embeds := newOllamaStub(t, testRecord("r1"), testRecord("r2"))
	dir := t.TempDir()
	useConfig(t, testConfig(dir, srv.URL))
	out := captureStderr(t)
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"seed", "--count", "2", "--no-progress", "--no-color"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if got := embeds.Load(); got != 2 {
		t.Errorf("embed calls = %d, want 2", got)
	}
	if !strings.Contains(out.String(), "Wrote 2 records to knowledge") {
		t.Errorf("output = %q, want success line", out.String())
	}

	store, err := storage.Open(dir)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	n, err := store.Collection("knowledge").(storage.Counter).Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("documents = %d, want 2", n)
	}
}

func TestSeedCommand_InvalidMode(t *testing.T) {
	useConfig(t, testConfig(t.TempDir(), "http://127.0.0.1:1"))
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"seed", "--mode", "upsert"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if !strings.Contains(err.Error(), "upsert") {
		t.Errorf("error = %q, want it to name the mode", err.Error())
	}
}

func TestRecallCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"recall"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestIndexSpecFromConfig(t *testing.T) {
	cfg := testConfig("", "")
	cfg.Storage.Similarity = "euclidean"

	idx := indexSpec(cfg)
	want := storage.IndexSpec{
		Name:         "vector_index",
		TextKey:      "embeddingText",
		EmbeddingKey: "embeddingVector",
		Dimensions:   3,
		Similarity:   "euclidean",
	}
	if idx != want {
		t.Errorf("indexSpec = %+v, want %+v", idx, want)
	}
	if err := idx.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNewGateway(t *testing.T) {
	cfg := testConfig(t.TempDir(), "")

	gw, err := newGateway(cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if _, ok := gw.(*storage.SQLiteGateway); !ok {
		t.Errorf("sqlite backend gave %T", gw)
	}

	cfg.Storage.Backend = "mongo"
	cfg.Storage.MongoURI = "mongodb://localhost:27017"
	gw, err = newGateway(cfg)
	if err != nil {
		t.Fatalf("mongo: %v", err)
	}
	if _, ok := gw.(*mongostore.Gateway); !ok {
		t.Errorf("mongo backend gave %T", gw)
	}

	cfg.Storage.Backend = "redis"
	if _, err := newGateway(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG",
		"WARN":  "WARN",
		"error": "ERROR",
		"info":  "INFO",
		"":      "INFO",
	}
	for in, want := range tests {
		if got := logLevel(in).String(); got != want {
			t.Errorf("logLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWriteMatches(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	writeMatches(&buf, []storage.Match{
		{Document: storage.Document{SourceRecord: testRecord("r1"), Text: "summary one"}, Score: 0.9},
	})

	want := "1. Record r1 (r1)  score=0.9000\n   summary one\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestWriteReport_ListsDroppedAndFailedRecords(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	writeReport(&buf, pipeline.Report{
		Mode:       pipeline.ModeReplace,
		Collection: "knowledge",
		Requested:  3,
		Candidates: 3,
		Validated:  2,
		Written:    1,
		Deleted:    4,
		Rejected:   []string{"candidate 2: name is required"},
		Outcomes: []pipeline.Outcome{
			{RecordID: "r1", Status: pipeline.StatusWritten},
			{RecordID: "r2", Status: pipeline.StatusFailed, Reason: "embedding: timeout"},
		},
		Duration: "1s",
	})

	want := "  Deleted: 4\n" +
		"  Candidates: 3 (requested 3)\n" +
		"  Validated: 2\n" +
		"⚠ rejected: candidate 2: name is required\n" +
		"⚠ failed r2: embedding: timeout\n" +
		"⚠ Wrote 1 of 2 records to knowledge in 1s\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestSeedFailure_ExplainsConnectionError(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()
	noColor = true

	var buf bytes.Buffer
	err := &storage.ConnectionError{Backend: "mongo", Err: errors.New("dial tcp: refused")}
	if got := seedFailure(&buf, fmt.Errorf("seeding: %w", err)); !errors.Is(got, err) {
		t.Errorf("seedFailure returned %v", got)
	}
	if buf.String() != "✗ Could not reach the mongo store\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "hello")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	result = colorize(colorGreen, "hello")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
