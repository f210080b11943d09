package chat

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mleone/profile-chatbot/backend/internal/guard"
	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
	"github.com/mleone/profile-chatbot/backend/internal/service/ai"
	chatService "github.com/mleone/profile-chatbot/backend/internal/service/chat"
	"github.com/mleone/profile-chatbot/backend/pkg/utils"
)

const maxMessageLength = 2000

// Responder produces the assistant reply for an admitted request.
type Responder interface {
	GenerateResponse(ctx context.Context, sessionID string, history []chat.Message, userMessage string) (string, ai.Usage, error)
}

// Handler serves the chat endpoints.
type Handler struct {
	guard     *guard.Guard
	chatSvc   *chatService.Service
	responder Responder
}

// New creates the chat handler. responder may be nil when no model is
// configured; chat requests then get a 503.
func New(g *guard.Guard, chatSvc *chatService.Service, responder Responder) *Handler {
	return &Handler{
		guard:     g,
		chatSvc:   chatSvc,
		responder: responder,
	}
}

// RegisterRoutes mounts the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Get("/chat/{sessionID}/history", h.handleHistory)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload chatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := ValidateMessage(payload.Message)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessionID, err := ValidateSessionID(payload.SessionID)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A request that can never be answered must not burn quota, so
	// check model availability before admission.
	if h.responder == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat is not available right now")
		return
	}

	decision := h.guard.Admit(r.Context(), guard.Request{
		SessionID: sessionID,
		Message:   message,
		IP:        ClientIP(r),
	})
	if !decision.Admitted {
		WriteDenial(w, decision)
		return
	}

	history, err := h.chatSvc.LoadTranscript(r.Context(), decision.Session.ID)
	if err != nil {
		// A lost transcript degrades context, it does not block the turn.
		log.Printf("[chat] transcript load failed for session=%s: %v", decision.Session.ID, err)
		history = nil
	}

	response, usage, err := h.responder.GenerateResponse(r.Context(), decision.Session.ID, history, message)
	if err != nil {
		log.Printf("[chat] generation failed for session=%s: %v", decision.Session.ID, err)
		utils.RespondError(w, http.StatusInternalServerError, "AI service error")
		return
	}

	h.guard.Commit(r.Context(), decision.Session.ID, decision.TokenEstimate, usage.TotalTokens)

	if err := h.chatSvc.AppendExchange(r.Context(), decision.Session.ID, message, response); err != nil {
		log.Printf("[chat] transcript save failed for session=%s: %v", decision.Session.ID, err)
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		Response:  response,
		SessionID: decision.Session.ID,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := ValidateSessionID(chi.URLParam(r, "sessionID"))
	if err != nil || sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "invalid session ID format")
		return
	}

	messages, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		log.Printf("[chat] transcript load failed for session=%s: %v", sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"messages":  messages,
	})
}

// WriteDenial maps a guard decision to a short, non-diagnostic refusal.
// Internal reason codes stay in the logs.
func WriteDenial(w http.ResponseWriter, decision guard.Decision) {
	switch decision.Reason {
	case guard.ReasonPolicyViolation:
		utils.RespondError(w, http.StatusBadRequest, "Invalid request detected")
	case guard.ReasonIPQuota:
		if decision.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())+1))
		}
		utils.RespondError(w, http.StatusTooManyRequests, "Too many sessions from your network. Please try again later.")
	case guard.ReasonStoreUnavailable:
		utils.RespondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	default:
		// Session-scoped quota and expiry denials.
		utils.RespondError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	}
}

// ClientIP extracts the caller's address. chi's RealIP middleware has
// already folded the trusted edge's X-Forwarded-For into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ValidateMessage collapses whitespace and applies the length and spam
// rules the widget relies on.
func ValidateMessage(raw string) (string, error) {
	message := strings.Join(strings.Fields(raw), " ")
	if message == "" {
		return "", errMessageEmpty
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return "", errMessageTooLong
	}

	// Repeated-character spam: long messages built from a handful of
	// distinct runes.
	if utf8.RuneCountInString(message) > 20 {
		distinct := make(map[rune]struct{})
		for _, r := range message {
			distinct[r] = struct{}{}
		}
		if len(distinct) < 5 {
			return "", errMessageSpam
		}
	}

	return message, nil
}

func ValidateSessionID(raw string) (string, error) {
	sessionID := strings.TrimSpace(raw)
	if sessionID == "" {
		return "", nil
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return "", errBadSessionID
	}
	return sessionID, nil
}
