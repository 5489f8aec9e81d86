package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Ollama    OllamaConfig
	Generator GeneratorConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Server    ServerConfig
	Chat      ChatConfig
	Log       LogConfig
}

type OllamaConfig struct {
	BaseURL       string  `key:"ollama.base_url" validate:"required,url"`
	GenerateModel string  `key:"ollama.generate_model" validate:"required"`
	EmbedModel    string  `key:"ollama.embed_model" validate:"required"`
	Temperature   float64 `key:"ollama.temperature" validate:"gt=0,lte=2"`
}

type GeneratorConfig struct {
	Domain      string `key:"generator.domain"`
	ProfileFile string `key:"generator.profile_file" validate:"omitempty,file"`
	Count       int    `key:"generator.count" validate:"min=1,max=500"`
	Timeout     string `key:"generator.timeout" validate:"duration"`
}

type StorageConfig struct {
	Backend      string `key:"storage.backend" validate:"oneof=sqlite mongo"`
	DataDir      string `key:"storage.data_dir" validate:"required_if=Backend sqlite"`
	MongoURI     string `key:"storage.mongo_uri" validate:"required_if=Backend mongo"`
	Database     string `key:"storage.database" validate:"required"`
	Collection   string `key:"storage.collection" validate:"required"`
	IndexName    string `key:"storage.index_name" validate:"required"`
	TextKey      string `key:"storage.text_key" validate:"required"`
	EmbeddingKey string `key:"storage.embedding_key" validate:"required,nefield=TextKey"`
	Dimensions   int    `key:"storage.dimensions" validate:"min=1"`
	Similarity   string `key:"storage.similarity" validate:"oneof=cosine dotProduct euclidean"`
}

type PipelineConfig struct {
	Mode         string `key:"pipeline.mode" validate:"oneof=replace append"`
	Concurrency  int    `key:"pipeline.concurrency" validate:"min=1,max=64"`
	EmbedTimeout string `key:"pipeline.embed_timeout" validate:"duration"`
	WriteTimeout string `key:"pipeline.write_timeout" validate:"duration"`
}

type ServerConfig struct {
	Port     int    `key:"server.port" validate:"min=1,max=65535"`
	APIToken string `key:"server.api_token"`
}

type ChatConfig struct {
	BaseURL string `key:"chat.base_url" validate:"required,url"`
	Timeout string `key:"chat.timeout" validate:"duration"`
}

type LogConfig struct {
	Level string `key:"log.level" validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Ollama: OllamaConfig{
			BaseURL:       "http://localhost:11434",
			GenerateModel: "llama3.1",
			EmbedModel:    "nomic-embed-text",
			Temperature:   0.7,
		},
		Generator: GeneratorConfig{
			Domain:  "software system design",
			Count:   10,
			Timeout: "5m",
		},
		Storage: StorageConfig{
			Backend:      "sqlite",
			DataDir:      defaultDataDir(),
			Database:     "seedbank",
			Collection:   "knowledge",
			IndexName:    "vector_index",
			TextKey:      "embeddingText",
			EmbeddingKey: "embeddingVector",
			Dimensions:   768,
			Similarity:   "cosine",
		},
		Pipeline: PipelineConfig{
			Mode:         "replace",
			Concurrency:  1,
			EmbedTimeout: "30s",
			WriteTimeout: "30s",
		},
		Server: ServerConfig{
			Port: 4000,
		},
		Chat: ChatConfig{
			BaseURL: "http://localhost:3000",
			Timeout: "60s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// the JSON config file at FilePath(), a .env file in the working directory,
// and SEEDBANK_* environment variables. Variables already present in the
// environment are never overwritten by .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if k := f.Tag.Get("key"); k != "" {
			return k
		}
		return f.Name
	})
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

// Validate reports every invalid key at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	problems := make([]string, len(verrs))
	for i, fe := range verrs {
		problems[i] = describe(fe)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

func describe(fe validator.FieldError) string {
	key := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", key, fe.Value())
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like 30s, got %q", key, fe.Value())
	case "file":
		return fmt.Sprintf("%s: no such file %q", key, fe.Value())
	case "nefield":
		return fmt.Sprintf("%s must differ from storage.text_key", key)
	}
	return fmt.Sprintf("%s failed %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
}

// GeneratorTimeout bounds a whole generate call.
func (c Config) GeneratorTimeout() time.Duration { return mustDuration(c.Generator.Timeout) }

// EmbedTimeout bounds one embedding call.
func (c Config) EmbedTimeout() time.Duration { return mustDuration(c.Pipeline.EmbedTimeout) }

// WriteTimeout bounds one document insert.
func (c Config) WriteTimeout() time.Duration { return mustDuration(c.Pipeline.WriteTimeout) }

// ChatTimeout bounds one chat turn.
func (c Config) ChatTimeout() time.Duration { return mustDuration(c.Chat.Timeout) }

// mustDuration parses a value Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
