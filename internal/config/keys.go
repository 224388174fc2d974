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
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "GROQ_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Groq.APIKey = v.(string) },
	},
	{
		env: "PHI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Telemetry.APIKey = v.(string) },
	},
	{
		env: "PDFCHAT_GROQ_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Groq.Model = v.(string) },
	},
	{
		env: "PDFCHAT_EMBED_BASE_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
	},
	{
		env: "PDFCHAT_EMBED_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
	},
	{
		env: "PDFCHAT_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "PDFCHAT_TOP_K", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		env: "PDFCHAT_HISTORY_BUDGET", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Retrieval.HistoryBudget = v.(int) },
	},
	{
		env: "PDFCHAT_DEFAULT_SOURCE", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Ingest.DefaultSource = v.(string) },
	},
	{
		env: "PDFCHAT_CHUNK_SIZE", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
	},
	{
		env: "PDFCHAT_CHUNK_OVERLAP", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Ingest.Overlap = v.(int) },
	},
	{
		env: "PDFCHAT_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "PDFCHAT_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
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
		}
	}
}
