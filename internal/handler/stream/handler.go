// Package stream serves the streaming chat endpoints: the stateless proxy
// and the session-bound send pipeline.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	modelchat "github.com/mxfan/gemchat/backend/internal/model/chat"
	"github.com/mxfan/gemchat/backend/internal/security"
	"github.com/mxfan/gemchat/backend/internal/service/ai"
	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
	streamservice "github.com/mxfan/gemchat/backend/internal/service/stream"
	"github.com/mxfan/gemchat/backend/pkg/sse"
	"github.com/mxfan/gemchat/backend/pkg/utils"
)

// Handler relays upstream fragment streams to clients as SSE, folding
// session-bound streams into the store through the accumulator.
type Handler struct {
	streamer ai.Streamer
	store    *chatservice.Service
	acc      *streamservice.Accumulator
	limits   security.Limits
	limiters *security.LimiterRegistry
}

// New creates the stream handler.
func New(streamer ai.Streamer, store *chatservice.Service, acc *streamservice.Accumulator, limits security.Limits, limiters *security.LimiterRegistry) *Handler {
	return &Handler{
		streamer: streamer,
		store:    store,
		acc:      acc,
		limits:   limits,
		limiters: limiters,
	}
}

// RegisterRoutes mounts the stream routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleProxy)
	r.Post("/sessions/{sessionID}/stream", h.handleSessionStream)
}

type attachmentPayload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type historyPayload struct {
	Role        string              `json:"role"`
	Text        string              `json:"text"`
	Attachments []attachmentPayload `json:"attachments,omitempty"`
}

type proxyRequest struct {
	History     []historyPayload    `json:"history"`
	NewMessage  string              `json:"newMessage"`
	Attachments []attachmentPayload `json:"attachments"`
	ModelName   string              `json:"modelName"`
}

// handleProxy streams one turn without touching the session store: the
// caller supplies the full history and owns its own state.
func (h *Handler) handleProxy(w http.ResponseWriter, r *http.Request) {
	var payload proxyRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.NewMessage == "" && len(payload.Attachments) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "missing message or attachments")
		return
	}
	if reason, ok := h.validateInput(payload.NewMessage, payload.Attachments); !ok {
		utils.RespondError(w, http.StatusBadRequest, reason)
		return
	}

	history := make([]modelchat.Message, 0, len(payload.History))
	for _, msg := range payload.History {
		history = append(history, modelchat.Message{
			Role:        modelchat.Role(msg.Role),
			Text:        msg.Text,
			Attachments: toAttachments(msg.Attachments),
		})
	}

	enc, err := sse.NewEncoder(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	streamErr := h.streamer.Stream(r.Context(), history, payload.NewMessage, toAttachments(payload.Attachments), payload.ModelName, func(frag ai.Fragment) {
		writeFragment(enc, frag)
	})
	if streamErr != nil {
		log.Printf("[stream] proxy stream failed: %v", streamErr)
		// Headers are already out; the failure travels in-band.
		enc.Event(sse.Event{Error: streamErr.Error()})
		return
	}
	enc.Done()
}

type sendRequest struct {
	Text        string              `json:"text"`
	Attachments []attachmentPayload `json:"attachments"`
	ModelName   string              `json:"modelName"`
}

// handleSessionStream runs the full send pipeline for one session: validate,
// rate limit, append the user turn and the placeholder, stream upstream,
// fold fragments into the store, finalize. The client sees the same SSE
// format as the proxy endpoint.
func (h *Handler) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, ok := h.store.Session(sessionID); !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if payload.Text == "" && len(payload.Attachments) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "missing message or attachments")
		return
	}
	if reason, ok := h.validateInput(payload.Text, payload.Attachments); !ok {
		utils.RespondError(w, http.StatusBadRequest, reason)
		return
	}

	if h.acc.Active(sessionID) {
		utils.RespondError(w, http.StatusConflict, "a response is already streaming for this session")
		return
	}

	limiter := h.limiters.Get(sessionID)
	if !limiter.CanProceed() {
		utils.RespondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        "sending too fast",
			"retryAfterMs": limiter.RemainingTime().Milliseconds(),
		})
		return
	}

	attachments := toAttachments(payload.Attachments)
	history := h.store.Messages(sessionID)

	h.store.AppendMessage(sessionID, modelchat.NewUserMessage(payload.Text, attachments))

	placeholder := modelchat.NewPlaceholder()
	h.store.AppendMessage(sessionID, placeholder)

	if err := h.acc.Begin(sessionID, placeholder.ID); err != nil {
		// Lost the race against a concurrent send; retire our placeholder.
		text := streamservice.FailureText
		done := false
		h.store.UpdateMessage(sessionID, placeholder.ID, modelchat.MessagePatch{Text: &text, Streaming: &done})
		utils.RespondError(w, http.StatusConflict, err.Error())
		return
	}

	enc, err := sse.NewEncoder(w)
	if err != nil {
		h.acc.Fail(sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	streamErr := h.streamer.Stream(r.Context(), history, payload.Text, attachments, payload.ModelName, func(frag ai.Fragment) {
		h.acc.Apply(sessionID, frag)
		writeFragment(enc, frag)
	})
	if streamErr != nil {
		h.acc.Fail(sessionID, streamErr)
		enc.Event(sse.Event{Error: streamErr.Error()})
		return
	}

	h.acc.Finish(sessionID)
	enc.Done()
	log.Printf("[stream] completed response for session=%s", sessionID)
}

// validateInput applies the text and attachment gates shared by both
// endpoints. Validation failures leave no state behind.
func (h *Handler) validateInput(text string, attachments []attachmentPayload) (string, bool) {
	if res := h.limits.ValidateText(text); !res.Valid {
		return res.Reason, false
	}

	files := make([]security.FileInfo, 0, len(attachments))
	for i, att := range attachments {
		files = append(files, security.FileInfo{
			Name:     fmt.Sprintf("attachment-%d", i+1),
			MimeType: att.MimeType,
			Size:     int64(base64.StdEncoding.DecodedLen(len(att.Data))),
		})
	}
	if res := h.limits.ValidateAttachments(files); !res.Valid {
		return res.Reason, false
	}
	return "", true
}

func writeFragment(enc *sse.Encoder, frag ai.Fragment) {
	switch frag.Kind {
	case ai.FragmentReasoning:
		enc.Event(sse.Event{Thought: frag.Text})
	default:
		enc.Event(sse.Event{Text: frag.Text})
	}
}

func toAttachments(payload []attachmentPayload) []modelchat.Attachment {
	if len(payload) == 0 {
		return nil
	}
	out := make([]modelchat.Attachment, 0, len(payload))
	for _, att := range payload {
		out = append(out, modelchat.Attachment{MimeType: att.MimeType, Data: att.Data})
	}
	return out
}
