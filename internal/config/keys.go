package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

// keySpec binds a dotted config key to its Config field and env override.
// Secret keys are only read from the environment.
type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "ollama.base_url", typ: kString, env: "SEEDBANK_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.generate_model", typ: kString, env: "SEEDBANK_OLLAMA_GENERATE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.GenerateModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.GenerateModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "SEEDBANK_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.temperature", typ: kFloat, env: "SEEDBANK_OLLAMA_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ollama.Temperature },
	},
	{
		key: "generator.domain", typ: kString, env: "SEEDBANK_GENERATOR_DOMAIN",
		apply:   func(cfg *Config, v any) { cfg.Generator.Domain = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Domain },
	},
	{
		key: "generator.profile_file", typ: kString, env: "SEEDBANK_GENERATOR_PROFILE_FILE",
		apply:   func(cfg *Config, v any) { cfg.Generator.ProfileFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.ProfileFile },
	},
	{
		key: "generator.count", typ: kInt, env: "SEEDBANK_GENERATOR_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Generator.Count = v.(int) },
		extract: func(cfg Config) any { return cfg.Generator.Count },
	},
	{
		key: "generator.timeout", typ: kString, env: "SEEDBANK_GENERATOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generator.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Timeout },
	},
	{
		key: "storage.backend", typ: kString, env: "SEEDBANK_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SEEDBANK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.mongo_uri", typ: kString, env: "SEEDBANK_MONGO_URI",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Storage.MongoURI = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.MongoURI },
	},
	{
		key: "storage.database", typ: kString, env: "SEEDBANK_STORAGE_DATABASE",
		apply:   func(cfg *Config, v any) { cfg.Storage.Database = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Database },
	},
	{
		key: "storage.collection", typ: kString, env: "SEEDBANK_STORAGE_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.Storage.Collection = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Collection },
	},
	{
		key: "storage.index_name", typ: kString, env: "SEEDBANK_STORAGE_INDEX_NAME",
		apply:   func(cfg *Config, v any) { cfg.Storage.IndexName = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.IndexName },
	},
	{
		key: "storage.text_key", typ: kString, env: "SEEDBANK_STORAGE_TEXT_KEY",
		apply:   func(cfg *Config, v any) { cfg.Storage.TextKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.TextKey },
	},
	{
		key: "storage.embedding_key", typ: kString, env: "SEEDBANK_STORAGE_EMBEDDING_KEY",
		apply:   func(cfg *Config, v any) { cfg.Storage.EmbeddingKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.EmbeddingKey },
	},
	{
		key: "storage.dimensions", typ: kInt, env: "SEEDBANK_STORAGE_DIMENSIONS",
		apply:   func(cfg *Config, v any) { cfg.Storage.Dimensions = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.Dimensions },
	},
	{
		key: "storage.similarity", typ: kString, env: "SEEDBANK_STORAGE_SIMILARITY",
		apply:   func(cfg *Config, v any) { cfg.Storage.Similarity = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Similarity },
	},
	{
		key: "pipeline.mode", typ: kString, env: "SEEDBANK_PIPELINE_MODE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.Mode },
	},
	{
		key: "pipeline.concurrency", typ: kInt, env: "SEEDBANK_PIPELINE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Concurrency },
	},
	{
		key: "pipeline.embed_timeout", typ: kString, env: "SEEDBANK_PIPELINE_EMBED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.EmbedTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.EmbedTimeout },
	},
	{
		key: "pipeline.write_timeout", typ: kString, env: "SEEDBANK_PIPELINE_WRITE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.WriteTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Pipeline.WriteTimeout },
	},
	{
		key: "server.port", typ: kInt, env: "SEEDBANK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "SEEDBANK_API_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "chat.base_url", typ: kString, env: "SEEDBANK_CHAT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Chat.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.BaseURL },
	},
	{
		key: "chat.timeout", typ: kString, env: "SEEDBANK_CHAT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Chat.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Timeout },
	},
	{
		key: "log.level", typ: kString, env: "SEEDBANK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not read number from config key %s: %v. Using default value.\n", s.key, err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
