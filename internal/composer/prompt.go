// Package composer assembles completion prompts from retrieved context
// chunks, conversation history, and the current user query. Assembly is
// deterministic: the same inputs always produce the same message list.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"pdfchat/internal/groq"
	"pdfchat/internal/retrieval"
	"pdfchat/internal/storage"
)

const defaultSystemPrompt = "You are an assistant that answers questions about documents the user has loaded. " +
	"Ground your answers in the retrieved document excerpts below when they are relevant. " +
	"If the excerpts do not contain the answer, say so instead of guessing."

const defaultHistoryBudget = 2000

// Composer builds the message list sent to the completion API.
type Composer struct {
	SystemPrompt  string
	HistoryBudget int // token budget for prior conversation history
}

// New creates a Composer with the given history token budget.
// If historyBudget <= 0, the default (2000) is used.
func New(historyBudget int) *Composer {
	if historyBudget <= 0 {
		historyBudget = defaultHistoryBudget
	}
	return &Composer{
		SystemPrompt:  defaultSystemPrompt,
		HistoryBudget: historyBudget,
	}
}

// Compose builds the full message list: a system message carrying the
// instructions and retrieved chunks in descending score order, prior history
// truncated oldest-first to the token budget, and finally the user query.
func (c *Composer) Compose(chunks []retrieval.ContextChunk, history []storage.Message, query string) []groq.Message {
	msgs := []groq.Message{{Role: "system", Content: c.buildSystem(chunks)}}

	for _, m := range truncateHistory(history, c.HistoryBudget) {
		msgs = append(msgs, groq.Message{Role: m.Role, Content: m.Content})
	}

	return append(msgs, groq.Message{Role: storage.RoleUser, Content: query})
}

// buildSystem renders the system instructions plus the retrieved context
// section. With no chunks, the instructions stand alone.
func (c *Composer) buildSystem(chunks []retrieval.ContextChunk) string {
	var sb strings.Builder
	sb.WriteString(c.SystemPrompt)

	if len(chunks) == 0 {
		return sb.String()
	}

	// Sort by score descending; ties keep their retrieval order.
	sorted := make([]retrieval.ContextChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	sb.WriteString("\n\n[Retrieved Context]\n")
	for _, ch := range sorted {
		sb.WriteString(formatChunk(ch))
	}
	return sb.String()
}

func formatChunk(ch retrieval.ContextChunk) string {
	return fmt.Sprintf("(Score: %.2f, Chunk: %s)\n%s\n\n", ch.Score, ch.ID, ch.Text)
}

// truncateHistory drops the oldest messages until the remainder fits the
// token budget. The surviving suffix keeps its original order.
func truncateHistory(history []storage.Message, budget int) []storage.Message {
	total := 0
	cut := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content)
		if total+cost > budget {
			break
		}
		total += cost
		cut = i
	}
	return history[cut:]
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
