package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pdfchat/internal/ingest"
	"pdfchat/internal/storage"
)

type fakeAgent struct {
	answer string
	err    error
	asked  []string
}

func (f *fakeAgent) Ask(ctx context.Context, sessionID, query string) (string, error) {
	f.asked = append(f.asked, sessionID+"|"+query)
	return f.answer, f.err
}

type fakeIngestor struct {
	result ingest.Result
	err    error
}

func (f *fakeIngestor) Ingest(ctx context.Context, source string, force bool) (ingest.Result, error) {
	return f.result, f.err
}

type fakeSessions struct {
	sessions map[string][]storage.Session
	history  map[string][]storage.Message
	nextID   int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string][]storage.Session),
		history:  make(map[string][]storage.Message),
	}
}

func (f *fakeSessions) CreateSession(userID string) (storage.Session, error) {
	f.nextID++
	sess := storage.Session{
		ID:        fmt.Sprintf("sess-%d", f.nextID),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	f.sessions[userID] = append(f.sessions[userID], sess)
	return sess, nil
}

func (f *fakeSessions) LatestSession(userID string) (storage.Session, error) {
	list := f.sessions[userID]
	if len(list) == 0 {
		return storage.Session{}, storage.ErrNotFound
	}
	return list[len(list)-1], nil
}

func (f *fakeSessions) ListSessions(userID string) ([]storage.Session, error) {
	return f.sessions[userID], nil
}

func (f *fakeSessions) History(sessionID string) ([]storage.Message, error) {
	return f.history[sessionID], nil
}

func newTestHandler(t *testing.T, agent *fakeAgent, ing *fakeIngestor, sessions *fakeSessions) http.Handler {
	t.Helper()
	if agent == nil {
		agent = &fakeAgent{answer: "ok"}
	}
	if ing == nil {
		ing = &fakeIngestor{}
	}
	if sessions == nil {
		sessions = newFakeSessions()
	}
	return NewHandler(Deps{Agent: agent, Ingestor: ing, Sessions: sessions})
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAsk_CreatesSessionForNewUser(t *testing.T) {
	agent := &fakeAgent{answer: "the answer"}
	sessions := newFakeSessions()
	h := newTestHandler(t, agent, nil, sessions)

	rec := postJSON(t, h, "/ask", askRequest{Query: "what is this?"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Answer != "the answer" {
		t.Errorf("answer = %q, want %q", resp.Answer, "the answer")
	}
	if resp.SessionID == "" {
		t.Error("expected a session id for the new user")
	}
	if len(sessions.sessions["default_user"]) != 1 {
		t.Errorf("sessions for default_user = %d, want 1", len(sessions.sessions["default_user"]))
	}
}

func TestAsk_ResumesLatestSession(t *testing.T) {
	agent := &fakeAgent{answer: "resumed"}
	sessions := newFakeSessions()
	first, _ := sessions.CreateSession("alice")
	latest, _ := sessions.CreateSession("alice")
	h := newTestHandler(t, agent, nil, sessions)

	rec := postJSON(t, h, "/ask", askRequest{UserID: "alice", Query: "again?"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp askResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.SessionID != latest.ID {
		t.Errorf("session = %s, want latest %s (not %s)", resp.SessionID, latest.ID, first.ID)
	}
}

func TestAsk_ExplicitSessionPassedThrough(t *testing.T) {
	agent := &fakeAgent{answer: "ok"}
	h := newTestHandler(t, agent, nil, nil)

	rec := postJSON(t, h, "/ask", askRequest{SessionID: "sess-42", Query: "hi"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(agent.asked) != 1 || agent.asked[0] != "sess-42|hi" {
		t.Errorf("agent calls = %v, want [sess-42|hi]", agent.asked)
	}
}

func TestAsk_MissingQueryRejected(t *testing.T) {
	h := newTestHandler(t, nil, nil, nil)

	rec := postJSON(t, h, "/ask", askRequest{UserID: "alice"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAsk_UnknownSessionIs404(t *testing.T) {
	agent := &fakeAgent{err: fmt.Errorf("loading history: %w", storage.ErrSessionNotFound)}
	h := newTestHandler(t, agent, nil, nil)

	rec := postJSON(t, h, "/ask", askRequest{SessionID: "nope", Query: "hi"})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body: %s", rec.Code, rec.Body.String())
	}
}

func TestAsk_ApologyStillReturned(t *testing.T) {
	// A generation failure produces an apology answer alongside the error;
	// the client should still get the answer with a 200.
	agent := &fakeAgent{answer: "Sorry, something went wrong.", err: errors.New("model unavailable")}
	h := newTestHandler(t, agent, nil, nil)

	rec := postJSON(t, h, "/ask", askRequest{SessionID: "sess-1", Query: "hi"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp askResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Answer != "Sorry, something went wrong." {
		t.Errorf("answer = %q, want the apology", resp.Answer)
	}
}

func TestIngest_Success(t *testing.T) {
	ing := &fakeIngestor{result: ingest.Result{
		Document: storage.Document{ID: "doc-1", Source: "http://example.com/a.pdf", ChunkCount: 7},
	}}
	h := newTestHandler(t, nil, ing, nil)

	rec := postJSON(t, h, "/ingest", ingestRequest{Source: "http://example.com/a.pdf"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	var resp ingestResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.DocumentID != "doc-1" || resp.Chunks != 7 || resp.Skipped {
		t.Errorf("response = %+v, want doc-1/7/false", resp)
	}
}

func TestIngest_FetchErrorIs502(t *testing.T) {
	ing := &fakeIngestor{err: &ingest.FetchError{Source: "http://down.example", Err: errors.New("connection refused")}}
	h := newTestHandler(t, nil, ing, nil)

	rec := postJSON(t, h, "/ingest", ingestRequest{Source: "http://down.example"})

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestIngest_ParseErrorIs422(t *testing.T) {
	ing := &fakeIngestor{err: &ingest.ParseError{Source: "bad.pdf", Err: errors.New("malformed xref")}}
	h := newTestHandler(t, nil, ing, nil)

	rec := postJSON(t, h, "/ingest", ingestRequest{Source: "bad.pdf"})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestIngest_MissingSourceRejected(t *testing.T) {
	h := newTestHandler(t, nil, nil, nil)

	rec := postJSON(t, h, "/ingest", ingestRequest{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListSessions_EmptyIsJSONArray(t *testing.T) {
	h := newTestHandler(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions?user=nobody", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []storage.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("expected a JSON array, got %q: %v", rec.Body.String(), err)
	}
	if len(got) != 0 {
		t.Errorf("sessions = %d, want 0", len(got))
	}
}

func TestSessionMessages_ReturnsHistory(t *testing.T) {
	sessions := newFakeSessions()
	sessions.history["sess-1"] = []storage.Message{
		{SessionID: "sess-1", Seq: 1, Role: storage.RoleUser, Content: "hi"},
		{SessionID: "sess-1", Seq: 2, Role: storage.RoleAssistant, Content: "hello"},
	}
	h := newTestHandler(t, nil, nil, sessions)

	req := httptest.NewRequest(http.MethodGet, "/sessions/sess-1/messages", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []storage.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(got) != 2 || got[0].Content != "hi" || got[1].Content != "hello" {
		t.Errorf("history = %+v, want the two recorded messages in order", got)
	}
}
