package retrieval

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search over the chunk_vectors table. Adequate up to roughly 100K vectors;
// beyond that an ANN-backed VectorStore implementation should replace it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The chunk_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Upsert writes records into chunk_vectors. Re-inserting an existing ID
// replaces the row in place; SQLite's ON CONFLICT DO UPDATE keeps the
// original rowid, so insertion order (used for tie-breaking in Search)
// is preserved across replacements.
func (s *SQLiteStore) Upsert(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "upsert", Err: fmt.Errorf("beginning transaction: %w", err)}
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunk_vectors (id, document_id, chunk_index, text_chunk, start_offset, end_offset, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			chunk_index = excluded.chunk_index,
			text_chunk = excluded.text_chunk,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			embedding = excluded.embedding,
			created_at = excluded.created_at`)
	if err != nil {
		tx.Rollback()
		return &StoreError{Op: "upsert", Err: fmt.Errorf("preparing statement: %w", err)}
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(r.ID, r.DocumentID, r.ChunkIndex, r.Text, r.StartOffset, r.EndOffset, blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return &StoreError{Op: "upsert", Err: fmt.Errorf("inserting record %s: %w", r.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}
	return nil
}

// idScore holds id, score, and insertion order during the scan phase of
// Search. Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
	Rowid int64
}

// Search performs brute-force cosine similarity search over all vectors,
// returning the top-K most similar records in descending score order.
// Equal scores are ordered by insertion order (earliest first).
func (s *SQLiteStore) Search(vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, &StoreError{Op: "search", Err: errors.New("topK must be positive")}
	}

	// Phase 1: scan only rowid + id + embedding to find top-K candidates.
	rows, err := s.db.Query(`SELECT rowid, id, embedding FROM chunk_vectors ORDER BY rowid ASC`)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: fmt.Errorf("querying vectors: %w", err)}
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var rowid int64
		var id string
		var blob []byte
		if err := rows.Scan(&rowid, &id, &blob); err != nil {
			return nil, &StoreError{Op: "search", Err: fmt.Errorf("scanning row: %w", err)}
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, &StoreError{Op: "search", Err: fmt.Errorf("decoding embedding for %s: %w", id, err)}
		}

		candidate := idScore{ID: id, Score: dotProduct(vector, buf, queryNorm), Rowid: rowid}
		if h.Len() < topK {
			heap.Push(h, candidate)
		} else if beats(candidate, (*h)[0]) {
			(*h)[0] = candidate
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "search", Err: fmt.Errorf("iterating rows: %w", err)}
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]string, h.Len())
	order := make(map[string]int, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		order[item.ID] = i
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, document_id, chunk_index, text_chunk, start_offset, end_offset, embedding, created_at
		FROM chunk_vectors WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.Query(fullQuery, queryArgs...)
	if err != nil {
		return nil, &StoreError{Op: "search", Err: fmt.Errorf("fetching top-K records: %w", err)}
	}
	defer fullRows.Close()

	results := make([]ScoredRecord, len(topIDs))
	for fullRows.Next() {
		var r Record
		var blob []byte
		var createdAt string
		if err := fullRows.Scan(&r.ID, &r.DocumentID, &r.ChunkIndex, &r.Text, &r.StartOffset, &r.EndOffset, &blob, &createdAt); err != nil {
			return nil, &StoreError{Op: "search", Err: fmt.Errorf("scanning full record: %w", err)}
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, &StoreError{Op: "search", Err: fmt.Errorf("decoding embedding for %s: %w", r.ID, err)}
		}
		r.Embedding = embedding
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, &StoreError{Op: "search", Err: fmt.Errorf("parsing created_at: %w", err)}
		}
		r.CreatedAt = t
		// The IN query doesn't preserve order; place by precomputed rank.
		results[order[r.ID]] = ScoredRecord{Record: r, Score: scores[r.ID]}
	}
	if err := fullRows.Err(); err != nil {
		return nil, &StoreError{Op: "search", Err: fmt.Errorf("iterating full records: %w", err)}
	}

	return results, nil
}

// beats reports whether candidate a ranks above b: higher score wins,
// equal scores fall back to insertion order (lower rowid wins).
func beats(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Rowid < b.Rowid
}

// DeleteByDocument removes all records belonging to the given document.
func (s *SQLiteStore) DeleteByDocument(documentID string) error {
	if _, err := s.db.Exec("DELETE FROM chunk_vectors WHERE document_id = ?", documentID); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}

// Count returns the number of records in the chunk_vectors table.
func (s *SQLiteStore) Count() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM chunk_vectors").Scan(&count); err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return count, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore: the root is the current worst
// candidate, evicted first when a better one arrives.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int { return len(h) }
func (h idScoreHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Rowid > h[j].Rowid
}
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
