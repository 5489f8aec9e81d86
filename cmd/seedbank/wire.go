package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/seedbank/internal/config"
	"github.com/kalambet/seedbank/internal/engine"
	"github.com/kalambet/seedbank/internal/generator"
	"github.com/kalambet/seedbank/internal/ollama"
	"github.com/kalambet/seedbank/internal/pipeline"
	"github.com/kalambet/seedbank/internal/storage"
	mongostore "github.com/kalambet/seedbank/internal/storage/mongo"
)

// loadConfig loads the configuration and installs the default logger.
var loadConfig = func() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))
	return cfg, nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func indexSpec(cfg config.Config) storage.IndexSpec {
	return storage.IndexSpec{
		Name:         cfg.Storage.IndexName,
		TextKey:      cfg.Storage.TextKey,
		EmbeddingKey: cfg.Storage.EmbeddingKey,
		Dimensions:   cfg.Storage.Dimensions,
		Similarity:   cfg.Storage.Similarity,
	}
}

func newGateway(cfg config.Config) (storage.Gateway, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return storage.NewSQLiteGateway(cfg.Storage.DataDir), nil
	case "mongo":
		return mongostore.NewGateway(cfg.Storage.MongoURI, cfg.Storage.Database), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newEmbedder(cfg config.Config, client *ollama.Client) engine.Embedder {
	return engine.NewOllamaEmbedder(client, cfg.Ollama.EmbedModel, cfg.Storage.Dimensions)
}

func newGenerator(cfg config.Config, client *ollama.Client) (*generator.Generator, error) {
	profile, err := generator.ResolveProfile(cfg.Generator.ProfileFile, cfg.Generator.Domain)
	if err != nil {
		return nil, fmt.Errorf("loading domain profile: %w", err)
	}
	schema, err := generator.FormatSchema()
	if err != nil {
		return nil, err
	}
	completer := engine.NewOllamaCompleter(client, cfg.Ollama.GenerateModel, cfg.Ollama.Temperature, schema)
	return generator.New(completer, profile, schema), nil
}

// timedSource bounds each generation call.
type timedSource struct {
	next    pipeline.RecordSource
	timeout time.Duration
}

func (s timedSource) Generate(ctx context.Context, count int) (generator.Batch, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.next.Generate(ctx, count)
}

func newSeeder(cfg config.Config, client *ollama.Client, onRecord func(pipeline.Outcome)) (*pipeline.Seeder, error) {
	gw, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg, client)
	if err != nil {
		return nil, err
	}
	return pipeline.NewSeeder(pipeline.Config{
		Gateway:      gw,
		Source:       timedSource{next: gen, timeout: cfg.GeneratorTimeout()},
		Embedder:     newEmbedder(cfg, client),
		Collection:   cfg.Storage.Collection,
		Index:        indexSpec(cfg),
		Concurrency:  cfg.Pipeline.Concurrency,
		EmbedTimeout: cfg.EmbedTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		OnRecord:     onRecord,
	}), nil
}

func newRecaller(cfg config.Config, client *ollama.Client) (*pipeline.Recaller, error) {
	gw, err := newGateway(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRecaller(gw, newEmbedder(cfg, client), cfg.Storage.Collection, indexSpec(cfg)), nil
}
