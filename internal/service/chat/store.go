package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
)

// HistoryStore persists conversation transcripts keyed by session id.
// Load returns an empty transcript for unknown sessions.
type HistoryStore interface {
	Load(ctx context.Context, sessionID string) ([]chat.Message, error)
	Save(ctx context.Context, sessionID string, messages []chat.Message) error
}

// MemoryHistoryStore keeps transcripts in process, for tests and local
// runs without persistence.
type MemoryHistoryStore struct {
	mu          sync.RWMutex
	transcripts map[string][]chat.Message
}

// NewMemoryHistoryStore returns an empty in-memory store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{transcripts: make(map[string][]chat.Message)}
}

// Load returns a copy of the stored transcript.
func (s *MemoryHistoryStore) Load(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.transcripts[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Save replaces the stored transcript.
func (s *MemoryHistoryStore) Save(_ context.Context, sessionID string, messages []chat.Message) error {
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)

	s.mu.Lock()
	s.transcripts[sessionID] = copied
	s.mu.Unlock()
	return nil
}

// FileHistoryStore writes each transcript as <dir>/<session>.json.
type FileHistoryStore struct {
	dir string
}

// NewFileHistoryStore ensures dir exists and returns the store.
func NewFileHistoryStore(dir string) (*FileHistoryStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FileHistoryStore{dir: dir}, nil
}

func (s *FileHistoryStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Load reads the transcript file; a missing file is an empty transcript.
func (s *FileHistoryStore) Load(_ context.Context, sessionID string) ([]chat.Message, error) {
	raw, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var messages []chat.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return messages, nil
}

// Save writes the transcript file.
func (s *FileHistoryStore) Save(_ context.Context, sessionID string, messages []chat.Message) error {
	raw, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := os.WriteFile(s.path(sessionID), raw, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}
