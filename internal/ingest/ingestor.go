// Package ingest loads documents from URLs or local files, extracts their
// text, and writes embedded chunks into the vector store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"pdfchat/internal/retrieval"
	"pdfchat/internal/storage"
)

const maxFetchSize = 20 << 20 // 20MB

// FetchError indicates the document source could not be reached or read.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError indicates the fetched bytes could not be decoded to text.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DocumentStore abstracts the document bookkeeping the Ingestor needs.
type DocumentStore interface {
	GetDocumentBySource(source string) (storage.Document, error)
	InsertDocument(d storage.Document) error
	DeleteDocument(id string) error
}

// Options configures chunking for an Ingestor.
type Options struct {
	ChunkSize int // words per chunk
	Overlap   int // words shared between adjacent chunks
}

// DefaultOptions are the chunking parameters used when none are specified.
var DefaultOptions = Options{ChunkSize: 300, Overlap: 50}

// Ingestor turns a document source into embedded chunks in the vector store.
type Ingestor struct {
	docs       DocumentStore
	embedder   retrieval.Embedder
	vectors    retrieval.VectorStore
	httpClient *http.Client
	opts       Options
	logger     *slog.Logger
}

// New creates an Ingestor. Zero-valued Options fall back to DefaultOptions.
func New(docs DocumentStore, embedder retrieval.Embedder, vectors retrieval.VectorStore, opts Options) *Ingestor {
	if opts.ChunkSize <= 0 {
		opts = DefaultOptions
	}
	return &Ingestor{
		docs:       docs,
		embedder:   embedder,
		vectors:    vectors,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		opts:       opts,
		logger:     slog.Default(),
	}
}

// Result reports what an Ingest call did.
type Result struct {
	Document storage.Document
	Skipped  bool // source was already ingested and force was false
}

// Ingest fetches, chunks, embeds, and stores a document. Ingestion is
// idempotent by source: a source that was already ingested is skipped unless
// force is set, in which case its previous rows are replaced. A failure at
// any step aborts the ingestion and leaves prior store contents untouched.
func (ing *Ingestor) Ingest(ctx context.Context, source string, force bool) (Result, error) {
	existing, err := ing.docs.GetDocumentBySource(source)
	switch {
	case err == nil && !force:
		ing.logger.Debug("source already ingested, skipping", "source", source, "document_id", existing.ID)
		return Result{Document: existing, Skipped: true}, nil
	case err == nil && force:
		if err := ing.docs.DeleteDocument(existing.ID); err != nil {
			return Result{}, fmt.Errorf("removing previous ingestion: %w", err)
		}
	case err != storage.ErrNotFound:
		return Result{}, fmt.Errorf("checking for existing document: %w", err)
	}

	data, err := ing.fetch(ctx, source)
	if err != nil {
		return Result{}, err
	}

	text, err := extractText(data)
	if err != nil {
		return Result{}, &ParseError{Source: source, Err: err}
	}

	chunks, err := ChunkText(text, ing.opts.ChunkSize, ing.opts.Overlap)
	if err != nil {
		return Result{}, err
	}
	if len(chunks) == 0 {
		return Result{}, &ParseError{Source: source, Err: fmt.Errorf("document contains no text")}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return Result{}, err
	}

	// The document id is derived from the source, so a retry after a partial
	// failure overwrites its own rows instead of accumulating orphans.
	docID := uuid.NewSHA1(uuid.NameSpaceURL, []byte(source)).String()
	now := time.Now().UTC()

	records := make([]retrieval.Record, len(chunks))
	for i, c := range chunks {
		records[i] = retrieval.Record{
			ID:          fmt.Sprintf("%s:%d", docID, c.Index),
			DocumentID:  docID,
			ChunkIndex:  c.Index,
			Text:        c.Text,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			Embedding:   vectors[i],
			CreatedAt:   now,
		}
	}

	if err := ing.vectors.Upsert(records); err != nil {
		return Result{}, err
	}

	doc := storage.Document{
		ID:         docID,
		Source:     source,
		Title:      titleFor(source),
		ChunkCount: len(chunks),
		IngestedAt: now,
	}
	// The document row goes in last: its presence marks the ingestion as
	// complete, which is what the idempotence check looks for.
	if err := ing.docs.InsertDocument(doc); err != nil {
		return Result{}, fmt.Errorf("recording document: %w", err)
	}

	ing.logger.Info("document ingested", "source", source, "chunks", len(chunks))
	return Result{Document: doc}, nil
}

// fetch loads raw bytes from a URL or local path.
func (ing *Ingestor) fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, &FetchError{Source: source, Err: err}
		}
		resp, err := ing.httpClient.Do(req)
		if err != nil {
			return nil, &FetchError{Source: source, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &FetchError{Source: source, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
		if err != nil {
			return nil, &FetchError{Source: source, Err: err}
		}
		return data, nil
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return nil, &FetchError{Source: source, Err: err}
	}
	return data, nil
}

// titleFor derives a human-readable title from a source reference.
func titleFor(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
		return u.Host
	}
	return filepath.Base(source)
}
