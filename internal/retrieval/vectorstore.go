package retrieval

import (
	"context"
	"fmt"
	"time"
)

// Embedder maps text to fixed-dimension vectors. Implementations must be
// deterministic for a fixed model version.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; an ANN-capable backend can be swapped in behind this interface.
type VectorStore interface {
	// Upsert writes records, replacing any existing record with the same ID.
	Upsert(records []Record) error

	// Search returns up to topK records ordered by descending cosine
	// similarity. Ties are broken by insertion order. An empty store yields
	// an empty result, not an error.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteByDocument removes all records belonging to a document.
	DeleteByDocument(documentID string) error

	// Count returns the number of stored records.
	Count() (int, error)
}

// Record is a document chunk with its embedding.
type Record struct {
	ID          string
	DocumentID  string
	ChunkIndex  int
	Text        string
	StartOffset int
	EndOffset   int
	Embedding   []float32
	CreatedAt   time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// StoreError wraps failures from a vector store backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
