package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	modelchat "github.com/mxfan/gemchat/backend/internal/model/chat"
	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	store := chatservice.NewService(nil)
	store.Init(nil)
	handler := New(store)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func TestCreateSession(t *testing.T) {
	r, store := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/sessions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var session modelchat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Title != modelchat.DefaultTitle {
		t.Fatalf("expected title %q, got %q", modelchat.DefaultTitle, session.Title)
	}

	active, ok := store.ActiveSession()
	if !ok || active.ID != session.ID {
		t.Fatalf("new session should be active")
	}
}

func TestListSessionsMostRecentFirst(t *testing.T) {
	r, store := setupRouter()
	first := store.CreateSession()
	second := store.CreateSession()
	store.AppendMessage(first.ID, modelchat.NewUserMessage("bump", nil))

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var sessions []modelchat.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first.ID {
		t.Fatalf("expected bumped session first, got %s", sessions[0].ID)
	}
	_ = second
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/sessions/nope", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestGetActiveSession(t *testing.T) {
	r, store := setupRouter()
	created := store.CreateSession()

	req := httptest.NewRequest(http.MethodGet, "/sessions/active", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var session modelchat.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.ID != created.ID {
		t.Fatalf("expected active session %s, got %s", created.ID, session.ID)
	}
}

func TestRenameSession(t *testing.T) {
	r, store := setupRouter()
	created := store.CreateSession()

	payload, _ := json.Marshal(map[string]string{"title": "Project Notes"})
	req := httptest.NewRequest(http.MethodPatch, "/sessions/"+created.ID, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	got, _ := store.Session(created.ID)
	if got.Title != "Project Notes" {
		t.Fatalf("expected renamed title, got %q", got.Title)
	}
}

func TestRenameSessionWhitespaceIgnored(t *testing.T) {
	r, store := setupRouter()
	created := store.CreateSession()

	payload, _ := json.Marshal(map[string]string{"title": "   "})
	req := httptest.NewRequest(http.MethodPatch, "/sessions/"+created.ID, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}

	got, _ := store.Session(created.ID)
	if got.Title != modelchat.DefaultTitle {
		t.Fatalf("whitespace rename should be ignored, got %q", got.Title)
	}
}

func TestDeleteActiveSessionPromotesSurvivor(t *testing.T) {
	r, store := setupRouter()
	survivor := store.CreateSession()
	doomed := store.CreateSession()

	req := httptest.NewRequest(http.MethodDelete, "/sessions/"+doomed.ID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, ok := store.Session(doomed.ID); ok {
		t.Fatalf("deleted session still present")
	}
	active, ok := store.ActiveSession()
	if !ok {
		t.Fatalf("no active session after delete")
	}
	if active.ID == doomed.ID {
		t.Fatalf("deleted session still active")
	}
	_ = survivor
}

func TestClearSession(t *testing.T) {
	r, store := setupRouter()
	created := store.CreateSession()
	store.AppendMessage(created.ID, modelchat.NewUserMessage("hello", nil))

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+created.ID+"/clear", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if msgs := store.Messages(created.ID); len(msgs) != 0 {
		t.Fatalf("expected cleared session, got %d messages", len(msgs))
	}
}

func TestSelectSession(t *testing.T) {
	r, store := setupRouter()
	first := store.CreateSession()
	store.CreateSession()

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+first.ID+"/select", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	active, _ := store.ActiveSession()
	if active.ID != first.ID {
		t.Fatalf("expected %s active, got %s", first.ID, active.ID)
	}
}
