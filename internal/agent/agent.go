// Package agent orchestrates a single question-answering turn: embed the
// query, retrieve context, assemble the prompt, call the completion API, and
// record the exchange.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"pdfchat/internal/composer"
	"pdfchat/internal/groq"
	"pdfchat/internal/retrieval"
	"pdfchat/internal/storage"
)

// Stage identifies where in the pipeline a query currently is, or where it
// failed. Each query moves through the stages in order; a failure at any
// stage is terminal for that query.
type Stage string

const (
	StageReceived  Stage = "received"
	StageEmbedded  Stage = "embedded"
	StageRetrieved Stage = "retrieved"
	StagePrompted  Stage = "prompted"
	StageGenerated Stage = "generated"
	StageRecorded  Stage = "recorded"
)

// QueryError reports a failed query along with the stage that failed.
type QueryError struct {
	Stage Stage
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed at %s: %v", e.Stage, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Apology is the user-visible answer when generation fails. The failure is
// reported alongside it so callers can log the cause; the conversation
// itself never crashes.
const Apology = "Sorry, I ran into a problem answering that. Please try again in a moment."

// CompletionProvider abstracts the remote completion API.
type CompletionProvider interface {
	Chat(ctx context.Context, model string, messages []groq.Message) (string, error)
}

// SessionStore abstracts the conversation history operations the agent needs.
type SessionStore interface {
	History(sessionID string) ([]storage.Message, error)
	RecordExchange(sessionID, userContent, assistantContent string) error
}

// Agent answers queries against the ingested document base.
type Agent struct {
	embedder retrieval.Embedder
	vectors  retrieval.VectorStore
	sessions SessionStore
	composer *composer.Composer
	llm      CompletionProvider
	model    string
	topK     int
	logger   *slog.Logger
}

// Config holds the knobs for constructing an Agent.
type Config struct {
	Model string // completion model name
	TopK  int    // context chunks retrieved per query (default 5)
}

// New creates an Agent wired to all pipeline components.
func New(embedder retrieval.Embedder, vectors retrieval.VectorStore, sessions SessionStore, comp *composer.Composer, llm CompletionProvider, cfg Config) *Agent {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	return &Agent{
		embedder: embedder,
		vectors:  vectors,
		sessions: sessions,
		composer: comp,
		llm:      llm,
		model:    cfg.Model,
		topK:     cfg.TopK,
		logger:   slog.Default(),
	}
}

// Ask runs one query through the full pipeline and returns the answer.
//
// A generation failure returns the Apology text together with a *QueryError;
// nothing is persisted in that case. On success the user message and the
// answer are recorded as one atomic exchange.
func (a *Agent) Ask(ctx context.Context, sessionID, query string) (string, error) {
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return "", &QueryError{Stage: StageEmbedded, Err: err}
	}

	chunks, err := a.retrieve(vec)
	if err != nil {
		return "", &QueryError{Stage: StageRetrieved, Err: err}
	}

	history, err := a.sessions.History(sessionID)
	if err != nil {
		return "", &QueryError{Stage: StagePrompted, Err: err}
	}

	msgs := a.composer.Compose(chunks, history, query)

	answer, err := a.llm.Chat(ctx, a.model, msgs)
	if err != nil {
		a.logger.Warn("generation failed", "session_id", sessionID, "error", err)
		return Apology, &QueryError{Stage: StageGenerated, Err: err}
	}

	// All-or-nothing: an interrupted query must not leave a half-recorded
	// exchange behind.
	if err := ctx.Err(); err != nil {
		return "", &QueryError{Stage: StageRecorded, Err: err}
	}
	if err := a.sessions.RecordExchange(sessionID, query, answer); err != nil {
		return "", &QueryError{Stage: StageRecorded, Err: err}
	}

	a.logger.Debug("query answered", "session_id", sessionID, "chunks", len(chunks))
	return answer, nil
}

// retrieve fetches the top-K context chunks for an already-embedded query.
// An empty store is not an error; the agent proceeds with zero context.
func (a *Agent) retrieve(vec []float32) ([]retrieval.ContextChunk, error) {
	scored, err := a.vectors.Search(vec, a.topK)
	if err != nil {
		return nil, err
	}
	chunks := make([]retrieval.ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = retrieval.ContextChunk{
			ID:          s.ID,
			DocumentID:  s.DocumentID,
			ChunkIndex:  s.ChunkIndex,
			Text:        s.Text,
			StartOffset: s.StartOffset,
			EndOffset:   s.EndOffset,
			Score:       s.Score,
			CreatedAt:   s.CreatedAt,
		}
	}
	return chunks, nil
}
