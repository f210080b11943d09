package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/mleone/profile-chatbot/backend/internal/guard"
	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
	"github.com/mleone/profile-chatbot/backend/internal/service/ai"
	chatService "github.com/mleone/profile-chatbot/backend/internal/service/chat"
	"github.com/mleone/profile-chatbot/backend/pkg/utils"
)

// Streamer produces a chunked model response for an admitted request.
type Streamer interface {
	StreamResponse(ctx context.Context, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Handler streams assistant replies over Server-Sent Events. The guard
// path is identical to the non-streaming endpoint.
type Handler struct {
	guard    *guard.Guard
	chatSvc  *chatService.Service
	streamer Streamer
}

// New creates the stream handler.
func New(g *guard.Guard, chatSvc *chatService.Service, streamer Streamer) *Handler {
	return &Handler{
		guard:    g,
		chatSvc:  chatSvc,
		streamer: streamer,
	}
}

type chunkEvent struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
}

// HandleStreamRequest admits the request and relays model chunks as SSE
// frames until the stream finishes or the client goes away.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, decision guard.Decision, userMessage string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming unsupported")
	}

	sessionID := decision.Session.ID
	history, err := h.chatSvc.LoadTranscript(ctx, sessionID)
	if err != nil {
		log.Printf("[stream] transcript load failed for session=%s: %v", sessionID, err)
		history = nil
	}

	reader, err := h.streamer.StreamResponse(ctx, history, userMessage)
	if err != nil {
		return fmt.Errorf("start model stream: %w", err)
	}
	defer reader.Close()

	utils.SetupSSEHeaders(w)
	utils.SendSSEChunk(w, flusher, chunkEvent{Event: "session", SessionID: sessionID})

	var builder strings.Builder
	var usage ai.Usage
	for {
		chunk, err := reader.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			utils.SendSSEChunk(w, flusher, chunkEvent{Event: "error"})
			return fmt.Errorf("receive model chunk: %w", err)
		}

		if chunk.Content != "" {
			builder.WriteString(chunk.Content)
			utils.SendSSEChunk(w, flusher, chunkEvent{Event: "message", Content: chunk.Content})
		}
		// Providers attach usage to the final chunk.
		if u := ai.UsageFromMessage(chunk); u.TotalTokens > 0 {
			usage = u
		}
	}

	h.guard.Commit(ctx, sessionID, decision.TokenEstimate, usage.TotalTokens)

	if err := h.chatSvc.AppendExchange(ctx, sessionID, userMessage, builder.String()); err != nil {
		log.Printf("[stream] transcript save failed for session=%s: %v", sessionID, err)
	}

	utils.SendSSEChunk(w, flusher, chunkEvent{Event: "done", SessionID: sessionID, Finished: true})
	return nil
}
