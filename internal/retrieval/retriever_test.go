package retrieval

import (
	"context"
	"errors"
	"testing"
)

// fakeEmbedder returns a canned vector for any input.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, f.err
}

func TestRetrieve_ReturnsNearestChunk(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	records := []Record{
		makeRecord("c1", "doc", 0, []float32{1, 0, 0}),
		makeRecord("c2", "doc", 1, []float32{0, 1, 0}),
		makeRecord("c3", "doc", 2, []float32{0, 0, 1}),
	}
	if err := s.Upsert(records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Query vector closest to c2.
	r := NewRetriever(&fakeEmbedder{vec: []float32{0.1, 1, 0}}, s)
	chunks, err := r.Retrieve(context.Background(), "anything", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].ID != "c2" {
		t.Errorf("nearest chunk = %q, want c2", chunks[0].ID)
	}
}

func TestRetrieve_EmptyStore(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	r := NewRetriever(&fakeEmbedder{vec: []float32{1, 0}}, s)
	chunks, err := r.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("got %d chunks from empty store, want 0", len(chunks))
	}
}

func TestRetrieve_EmbedderFailure(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	wantErr := errors.New("embedding backend down")
	r := NewRetriever(&fakeEmbedder{err: wantErr}, s)
	_, err := r.Retrieve(context.Background(), "anything", 5)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
