package handler

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mleone/profile-chatbot/backend/internal/config"
	"github.com/mleone/profile-chatbot/backend/internal/guard"
	chatHandler "github.com/mleone/profile-chatbot/backend/internal/handler/chat"
	streamHandler "github.com/mleone/profile-chatbot/backend/internal/handler/stream"
	middlewarePkg "github.com/mleone/profile-chatbot/backend/internal/middleware"
	"github.com/mleone/profile-chatbot/backend/internal/service/ai"
	chatService "github.com/mleone/profile-chatbot/backend/internal/service/chat"
	"github.com/mleone/profile-chatbot/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg *config.Config, g *guard.Guard, chatSvc *chatService.Service, aiSvc *ai.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Server.CORSOrigins))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"message": "Professional Profile Chatbot API",
			"version": "1.0",
			"endpoints": map[string]string{
				"health": "/health",
				"chat":   "/api/chat",
			},
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":      "healthy",
			"environment": cfg.Server.Environment,
			"model":       cfg.AI.Model,
		})
	})

	var responder chatHandler.Responder
	if aiSvc != nil {
		responder = aiSvc
	}

	var sh *streamHandler.Handler
	if aiSvc != nil {
		sh = streamHandler.New(g, chatSvc, aiSvc)
	}

	r.Route("/api", func(api chi.Router) {
		chatHandler.New(g, chatSvc, responder).RegisterRoutes(api)

		// SSE variant of the chat endpoint; same admission path.
		api.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
			if sh == nil || !aiSvc.StreamingEnabled() {
				utils.RespondError(w, http.StatusServiceUnavailable, "streaming unavailable")
				return
			}

			message, err := chatHandler.ValidateMessage(r.URL.Query().Get("message"))
			if err != nil {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}
			sessionID, err := chatHandler.ValidateSessionID(r.URL.Query().Get("sessionId"))
			if err != nil {
				utils.RespondError(w, http.StatusBadRequest, err.Error())
				return
			}

			decision := g.Admit(r.Context(), guard.Request{
				SessionID: sessionID,
				Message:   message,
				IP:        chatHandler.ClientIP(r),
			})
			if !decision.Admitted {
				chatHandler.WriteDenial(w, decision)
				return
			}

			if err := sh.HandleStreamRequest(r.Context(), w, decision, message); err != nil {
				log.Printf("[stream] error handling request: %v", err)
			}
		})
	})

	return r
}
