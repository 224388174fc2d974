package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdfchat/internal/retrieval"
	"pdfchat/internal/storage"
)

// fakeDocs is an in-memory DocumentStore.
type fakeDocs struct {
	bySource map[string]storage.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{bySource: make(map[string]storage.Document)}
}

func (f *fakeDocs) GetDocumentBySource(source string) (storage.Document, error) {
	d, ok := f.bySource[source]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return d, nil
}

func (f *fakeDocs) InsertDocument(d storage.Document) error {
	f.bySource[d.Source] = d
	return nil
}

func (f *fakeDocs) DeleteDocument(id string) error {
	for src, d := range f.bySource {
		if d.ID == id {
			delete(f.bySource, src)
			return nil
		}
	}
	return storage.ErrNotFound
}

// fakeEmbedder maps every text to a constant-dimension vector.
type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// fakeVectors records upserted records keyed by ID.
type fakeVectors struct {
	records map[string]retrieval.Record
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{records: make(map[string]retrieval.Record)}
}

func (f *fakeVectors) Upsert(records []retrieval.Record) error {
	for _, r := range records {
		f.records[r.ID] = r
	}
	return nil
}

func (f *fakeVectors) Search(vector []float32, topK int) ([]retrieval.ScoredRecord, error) {
	return nil, nil
}

func (f *fakeVectors) DeleteByDocument(documentID string) error {
	for id, r := range f.records {
		if r.DocumentID == documentID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeVectors) Count() (int, error) {
	return len(f.records), nil
}

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test file: %v", err)
	}
	return path
}

func TestIngest_FileSource(t *testing.T) {
	docs := newFakeDocs()
	vectors := newFakeVectors()
	ing := New(docs, &fakeEmbedder{}, vectors, Options{ChunkSize: 5, Overlap: 1})

	path := writeTestFile(t, strings.Repeat("word ", 20))
	res, err := ing.Ingest(context.Background(), path, false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Skipped {
		t.Error("first ingestion reported as skipped")
	}
	if res.Document.ChunkCount == 0 {
		t.Error("document has zero chunks")
	}

	count, _ := vectors.Count()
	if count != res.Document.ChunkCount {
		t.Errorf("vector store has %d records, document reports %d chunks", count, res.Document.ChunkCount)
	}
}

func TestIngest_IdempotentBySource(t *testing.T) {
	docs := newFakeDocs()
	vectors := newFakeVectors()
	emb := &fakeEmbedder{}
	ing := New(docs, emb, vectors, Options{ChunkSize: 5, Overlap: 1})

	path := writeTestFile(t, strings.Repeat("word ", 20))

	first, err := ing.Ingest(context.Background(), path, false)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	callsAfterFirst := emb.calls

	second, err := ing.Ingest(context.Background(), path, false)
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if !second.Skipped {
		t.Error("second ingestion of the same source not skipped")
	}
	if second.Document.ChunkCount != first.Document.ChunkCount {
		t.Errorf("chunk count changed: %d vs %d", second.Document.ChunkCount, first.Document.ChunkCount)
	}
	if emb.calls != callsAfterFirst {
		t.Error("skipped ingestion still embedded chunks")
	}

	count, _ := vectors.Count()
	if count != first.Document.ChunkCount {
		t.Errorf("vector store has %d records, want %d (no duplicates)", count, first.Document.ChunkCount)
	}
}

func TestIngest_ForceReplaces(t *testing.T) {
	docs := newFakeDocs()
	vectors := newFakeVectors()
	ing := New(docs, &fakeEmbedder{}, vectors, Options{ChunkSize: 5, Overlap: 1})

	path := writeTestFile(t, strings.Repeat("word ", 20))
	first, err := ing.Ingest(context.Background(), path, false)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	res, err := ing.Ingest(context.Background(), path, true)
	if err != nil {
		t.Fatalf("forced Ingest: %v", err)
	}
	if res.Skipped {
		t.Error("forced ingestion reported as skipped")
	}

	count, _ := vectors.Count()
	if count != first.Document.ChunkCount {
		t.Errorf("vector store has %d records after force, want %d", count, first.Document.ChunkCount)
	}
}

func TestIngest_MissingFile(t *testing.T) {
	ing := New(newFakeDocs(), &fakeEmbedder{}, newFakeVectors(), Options{})

	_, err := ing.Ingest(context.Background(), "/no/such/file.pdf", false)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Errorf("err = %v, want *FetchError", err)
	}
}

func TestIngest_URLSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html><body><p>" + strings.Repeat("content ", 20) + "</p></body></html>"))
	}))
	t.Cleanup(srv.Close)

	docs := newFakeDocs()
	ing := New(docs, &fakeEmbedder{}, newFakeVectors(), Options{ChunkSize: 5, Overlap: 0})

	res, err := ing.Ingest(context.Background(), srv.URL+"/page.html", false)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Document.ChunkCount == 0 {
		t.Error("URL ingestion produced no chunks")
	}
}

func TestIngest_URLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	ing := New(newFakeDocs(), &fakeEmbedder{}, newFakeVectors(), Options{})
	_, err := ing.Ingest(context.Background(), srv.URL+"/missing.pdf", false)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Errorf("err = %v, want *FetchError", err)
	}
}

func TestIngest_EmbeddingFailureLeavesNoDocument(t *testing.T) {
	docs := newFakeDocs()
	vectors := newFakeVectors()
	ing := New(docs, &fakeEmbedder{err: errors.New("embedder down")}, vectors, Options{ChunkSize: 5, Overlap: 1})

	path := writeTestFile(t, strings.Repeat("word ", 20))
	if _, err := ing.Ingest(context.Background(), path, false); err == nil {
		t.Fatal("expected error, got nil")
	}

	if _, err := docs.GetDocumentBySource(path); !errors.Is(err, storage.ErrNotFound) {
		t.Error("failed ingestion still recorded a document")
	}
	count, _ := vectors.Count()
	if count != 0 {
		t.Errorf("failed ingestion wrote %d vectors, want 0", count)
	}
}
