package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

// newEmbedServer serves a deterministic embedding derived from the input
// length, mimicking a fixed local model.
func newEmbedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec := []float32{float32(len(req.Input)), 1, 0}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{vec}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed_Deterministic(t *testing.T) {
	srv := newEmbedServer(t)
	c := New(srv.URL, "test-model")

	first, err := c.Embed(context.Background(), "the same text")
	if err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	second, err := c.Embed(context.Background(), "the same text")
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("same input produced different vectors: %v vs %v", first, second)
	}
}

func TestEmbed_EmptyInputRejected(t *testing.T) {
	srv := newEmbedServer(t)
	c := New(srv.URL, "test-model")

	for _, input := range []string{"", "   ", "\n\t"} {
		_, err := c.Embed(context.Background(), input)
		var embErr *EmbeddingError
		if !errors.As(err, &embErr) {
			t.Errorf("Embed(%q): err = %v, want *EmbeddingError", input, err)
		}
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-model")
	_, err := c.Embed(context.Background(), "some text")
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Errorf("err = %v, want *EmbeddingError", err)
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	srv := newEmbedServer(t)
	c := New(srv.URL, "test-model")

	texts := []string{"a", "bb", "ccc", "dddd"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vecs[%d][0] = %f, want %d (order not preserved)", i, vecs[i][0], len(text))
		}
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	srv := newEmbedServer(t)
	c := New(srv.URL, "test-model")

	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil): %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

func TestIsRunning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	if !New(srv.URL, "m").IsRunning(context.Background()) {
		t.Error("IsRunning = false for live server")
	}

	down := New("http://127.0.0.1:1", "m")
	if down.IsRunning(context.Background()) {
		t.Error("IsRunning = true for unreachable server")
	}
}
