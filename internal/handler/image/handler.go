// Package image serves the single-shot image generation endpoint.
package image

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mxfan/gemchat/backend/internal/security"
	"github.com/mxfan/gemchat/backend/internal/service/ai"
	"github.com/mxfan/gemchat/backend/pkg/utils"
)

// Generator is the image client contract: one request, one decoded image or
// a failure. No retries.
type Generator interface {
	GenerateImage(ctx context.Context, prompt, modelID string) ([]byte, string, error)
}

// Handler serves POST /image.
type Handler struct {
	generator Generator
	limiter   *security.RateLimiter
}

// New creates the image handler. The limiter is the dedicated gate for the
// image generation surface.
func New(generator Generator, limiter *security.RateLimiter) *Handler {
	return &Handler{generator: generator, limiter: limiter}
}

// RegisterRoutes mounts the image route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/image", h.handleGenerate)
}

type generateRequest struct {
	Prompt  string `json:"prompt"`
	ModelID string `json:"modelId"`
}

type generateResponse struct {
	Success   bool   `json:"success"`
	ImageData string `json:"imageData,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var payload generateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "missing prompt")
		return
	}

	if !h.limiter.CanProceed() {
		utils.RespondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        "generating too fast",
			"retryAfterMs": h.limiter.RemainingTime().Milliseconds(),
		})
		return
	}

	data, mimeType, err := h.generator.GenerateImage(r.Context(), payload.Prompt, payload.ModelID)
	if err != nil {
		log.Printf("[image] generation failed: %v", err)
		message := "image generation failed"
		if errors.Is(err, ai.ErrNoImage) {
			message = "no image generated"
		}
		utils.RespondJSON(w, http.StatusInternalServerError, generateResponse{Success: false, Error: message})
		return
	}

	utils.RespondJSON(w, http.StatusOK, generateResponse{
		Success:   true,
		ImageData: base64.StdEncoding.EncodeToString(data),
		MimeType:  mimeType,
	})
}
