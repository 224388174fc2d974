package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"pdfchat/internal/agent"
	"pdfchat/internal/composer"
	"pdfchat/internal/config"
	"pdfchat/internal/embedder"
	"pdfchat/internal/groq"
	"pdfchat/internal/ingest"
	"pdfchat/internal/retrieval"
	"pdfchat/internal/storage"
)

// app bundles every wired component of the pipeline. Commands build one,
// use what they need, and Close it on the way out.
type app struct {
	cfg       config.Config
	store     *storage.Store
	embedder  *embedder.Client
	vectors   *retrieval.SQLiteStore
	retriever *retrieval.Retriever
	ingestor  *ingest.Ingestor
	agent     *agent.Agent
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	setupLogging(cfg)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	emb := embedder.New(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	vectors := retrieval.NewSQLiteStore(store.DB())
	retriever := retrieval.NewRetriever(emb, vectors)
	ingestor := ingest.New(store, emb, vectors, ingest.Options{
		ChunkSize: cfg.Ingest.ChunkSize,
		Overlap:   cfg.Ingest.Overlap,
	})

	llm := groq.NewClient(cfg.Groq.APIKey)
	comp := composer.New(cfg.Retrieval.HistoryBudget)
	ag := agent.New(emb, vectors, store, comp, llm, agent.Config{
		Model: cfg.Groq.Model,
		TopK:  cfg.Retrieval.TopK,
	})

	return &app{
		cfg:       cfg,
		store:     store,
		embedder:  emb,
		vectors:   vectors,
		retriever: retriever,
		ingestor:  ingestor,
		agent:     ag,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
