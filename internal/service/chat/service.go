package chat

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
)

// maxStoredMessages caps how much transcript one session can persist.
const maxStoredMessages = 100

// Service manages conversation transcripts over a pluggable store.
type Service struct {
	store HistoryStore
}

// NewService wraps the supplied history store.
func NewService(store HistoryStore) *Service {
	return &Service{store: store}
}

// LoadTranscript returns the stored messages for a session, oldest
// first. Unknown sessions get an empty transcript.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.Load(ctx, sessionID)
}

// AppendExchange records one user/assistant turn pair and persists the
// transcript, trimming to the stored-message cap.
func (s *Service) AppendExchange(ctx context.Context, sessionID, userMessage, assistantMessage string) error {
	messages, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	messages = append(messages,
		chat.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Sender:    "user",
			Content:   userMessage,
			CreatedAt: now,
		},
		chat.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Sender:    "assistant",
			Content:   assistantMessage,
			CreatedAt: now,
		},
	)

	if len(messages) > maxStoredMessages {
		messages = messages[len(messages)-maxStoredMessages:]
	}

	return s.store.Save(ctx, sessionID, messages)
}
