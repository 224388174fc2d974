// Package api exposes the question-answering pipeline over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pdfchat/internal/ingest"
	"pdfchat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Asker abstracts the agent for the HTTP layer.
type Asker interface {
	Ask(ctx context.Context, sessionID, query string) (string, error)
}

// IngestRunner abstracts document ingestion for the HTTP layer.
type IngestRunner interface {
	Ingest(ctx context.Context, source string, force bool) (ingest.Result, error)
}

// SessionDirectory abstracts session bookkeeping for the HTTP layer.
type SessionDirectory interface {
	CreateSession(userID string) (storage.Session, error)
	LatestSession(userID string) (storage.Session, error)
	ListSessions(userID string) ([]storage.Session, error)
	History(sessionID string) ([]storage.Message, error)
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Agent    Asker
	Ingestor IngestRunner
	Sessions SessionDirectory
}

// NewHandler builds the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Post("/ask", handleAsk(deps))
	r.Post("/ingest", handleIngest(deps))
	r.Get("/sessions", handleListSessions(deps))
	r.Get("/sessions/{id}/messages", handleSessionMessages(deps))

	return r
}

type askRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type askResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.UserID == "" {
			req.UserID = "default_user"
		}

		sessionID := req.SessionID
		if sessionID == "" {
			sess, err := resolveSession(deps.Sessions, req.UserID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "resolving session: %v", err)
				return
			}
			sessionID = sess.ID
		}

		answer, err := deps.Agent.Ask(r.Context(), sessionID, req.Query)
		if err != nil && answer == "" {
			if errors.Is(err, storage.ErrSessionNotFound) {
				httpError(w, http.StatusNotFound, "invalid_request_error", "unknown session %s", sessionID)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "answering query: %v", err)
			return
		}

		// A generation failure still produces the apology answer; the
		// conversational contract holds over HTTP too.
		writeJSON(w, askResponse{SessionID: sessionID, Answer: answer})
	}
}

// resolveSession returns the user's latest session, creating one if the user
// has none yet.
func resolveSession(sessions SessionDirectory, userID string) (storage.Session, error) {
	sess, err := sessions.LatestSession(userID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, err
	}
	return sessions.CreateSession(userID)
}

type ingestRequest struct {
	Source string `json:"source"`
	Force  bool   `json:"force"`
}

type ingestResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Skipped    bool   `json:"skipped"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Source == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "source is required")
			return
		}

		res, err := deps.Ingestor.Ingest(r.Context(), req.Source, req.Force)
		if err != nil {
			var fetchErr *ingest.FetchError
			var parseErr *ingest.ParseError
			switch {
			case errors.As(err, &fetchErr):
				httpError(w, http.StatusBadGateway, "api_error", "fetching source: %v", err)
			case errors.As(err, &parseErr):
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "parsing source: %v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "ingesting source: %v", err)
			}
			return
		}

		writeJSON(w, ingestResponse{
			DocumentID: res.Document.ID,
			Chunks:     res.Document.ChunkCount,
			Skipped:    res.Skipped,
		})
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			userID = "default_user"
		}

		sessions, err := deps.Sessions.ListSessions(userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []storage.Session{}
		}
		writeJSON(w, sessions)
	}
}

func handleSessionMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		messages, err := deps.Sessions.History(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}
		writeJSON(w, messages)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
