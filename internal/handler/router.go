package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	chathandler "github.com/mxfan/gemchat/backend/internal/handler/chat"
	"github.com/mxfan/gemchat/backend/internal/handler/events"
	imagehandler "github.com/mxfan/gemchat/backend/internal/handler/image"
	streamhandler "github.com/mxfan/gemchat/backend/internal/handler/stream"
	middlewarePkg "github.com/mxfan/gemchat/backend/internal/middleware"
	"github.com/mxfan/gemchat/backend/internal/security"
	"github.com/mxfan/gemchat/backend/internal/service/ai"
	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
	streamservice "github.com/mxfan/gemchat/backend/internal/service/stream"
	"github.com/mxfan/gemchat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. aiSvc may be nil when the
// upstream credentials are absent; the AI-backed endpoints then answer 503
// while session management keeps working.
func NewRouter(store *chatservice.Service, aiSvc *ai.Service, limits security.Limits, limiters *security.LimiterRegistry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	sessionHandler := chathandler.New(store)
	eventsHandler := events.New(store)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
		eventsHandler.RegisterRoutes(api)

		if aiSvc == nil {
			api.Post("/chat", aiUnavailable)
			api.Post("/sessions/{sessionID}/stream", aiUnavailable)
			api.Post("/image", aiUnavailable)
			api.Get("/models", aiUnavailable)
			return
		}

		accumulator := streamservice.New(store)
		streamHandler := streamhandler.New(aiSvc, store, accumulator, limits, limiters)
		streamHandler.RegisterRoutes(api)

		imageHandler := imagehandler.New(aiSvc, limiters.Get("image-gen"))
		imageHandler.RegisterRoutes(api)

		api.Get("/models", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, aiSvc.Models())
		})
	})

	return r
}

func aiUnavailable(w http.ResponseWriter, r *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "ai backend unavailable")
}
