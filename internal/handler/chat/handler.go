// Package chat exposes the session store over REST.
package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
	"github.com/mxfan/gemchat/backend/pkg/utils"
)

// Handler serves the session collection endpoints.
type Handler struct {
	store *chatservice.Service
}

// New creates the session handler.
func New(store *chatservice.Service) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/active", h.handleActive)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Patch("/sessions/{sessionID}", h.handleRename)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
	r.Post("/sessions/{sessionID}/clear", h.handleClear)
	r.Post("/sessions/{sessionID}/select", h.handleSelect)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	session := h.store.CreateSession()
	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Sessions())
}

func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	session, ok := h.store.ActiveSession()
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no active session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, ok := h.store.Session(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Whitespace-only titles and unknown ids are store-level no-ops.
	h.store.RenameSession(chi.URLParam(r, "sessionID"), payload.Title)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.store.DeleteSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.store.ClearSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	h.store.SelectSession(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}
