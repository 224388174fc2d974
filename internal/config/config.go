// Package config loads application configuration from defaults, an optional
// .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Groq      GroqConfig
	Embedding EmbeddingConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Server    ServerConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

type GroqConfig struct {
	APIKey string
	Model  string
}

type EmbeddingConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK          int
	HistoryBudget int
}

type IngestConfig struct {
	DefaultSource string
	ChunkSize     int
	Overlap       int
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

// TelemetryConfig holds the optional credential for the hosted telemetry
// service. Loaded when present; the application runs fine without it.
type TelemetryConfig struct {
	APIKey string
}

func defaults() Config {
	return Config{
		Groq: GroqConfig{
			Model: "llama-3.3-70b-versatile",
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "all-minilm",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			HistoryBudget: 2000,
		},
		Ingest: IngestConfig{
			DefaultSource: "https://agno-public.s3.amazonaws.com/recipes/ThaiRecipes.pdf",
			ChunkSize:     300,
			Overlap:       50,
		},
		Server: ServerConfig{
			Port: 4600,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pdfchat"
	}
	return filepath.Join(home, ".pdfchat")
}

// Load reads configuration from defaults, a .env file in the working
// directory (if present), and environment variables. The Groq API key is
// required; its absence is a startup-fatal error.
func Load() (Config, error) {
	// Missing .env is fine; real env vars take precedence anyway.
	godotenv.Load()

	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Groq.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Groq API key. " +
			"Set the GROQ_API_KEY environment variable or add it to a .env file")
	}

	return cfg, nil
}
