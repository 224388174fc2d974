package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.New().String()
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrSessionNotFound is returned when a message operation references a
// session id that was never created.
var ErrSessionNotFound = errors.New("session not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Document is an ingested source. One row per distinct source; re-ingesting
// the same source is a no-op unless explicitly forced.
type Document struct {
	ID         string
	Source     string // URL or file path the document was loaded from
	Title      string
	ChunkCount int
	IngestedAt time.Time
}

// Session is an ordered conversation scoped to one user.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// Message is a single conversation turn. Immutable once written; ordered by
// Seq within a session.
type Message struct {
	SessionID string
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}
