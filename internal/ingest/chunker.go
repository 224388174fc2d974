package ingest

import (
	"fmt"
	"unicode"
)

// Chunk is a bounded contiguous span of source text, the unit of retrieval.
// Offsets are byte positions into the extracted text.
type Chunk struct {
	Index       int
	Text        string
	StartOffset int
	EndOffset   int
}

// wordSpan records where a word sits in the source text.
type wordSpan struct {
	start int
	end   int
}

// ChunkText splits text into overlapping word-window chunks. size and
// overlap are word counts; overlap must be smaller than size. The same text
// and configuration always produce identical chunk boundaries.
func ChunkText(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, size), got %d for size %d", overlap, size)
	}

	words := splitWords(text)
	if len(words) == 0 {
		return nil, nil
	}

	step := size - overlap
	var chunks []Chunk
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		start := words[i].start
		stop := words[end-1].end
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        text[start:stop],
			StartOffset: start,
			EndOffset:   stop,
		})
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// splitWords finds whitespace-separated words with their byte offsets.
func splitWords(text string) []wordSpan {
	var spans []wordSpan
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, wordSpan{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{start: start, end: len(text)})
	}
	return spans
}
