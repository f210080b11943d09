package quota

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
)

// ipWindow tracks one address's session mints within a rolling day.
const ipWindowLength = 24 * time.Hour

// MemorySessionStore implements SessionStore with a mutex-guarded map,
// suitable for single-instance deployments and tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	limits   Limits
	sessions map[string]chat.Session
}

// NewMemorySessionStore builds an empty in-memory session store.
func NewMemorySessionStore(limits Limits) *MemorySessionStore {
	return &MemorySessionStore{
		limits:   limits,
		sessions: make(map[string]chat.Session),
	}
}

// Resolve returns the non-expired session for id. Expired entries are
// reclaimed on the way out.
func (s *MemorySessionStore) Resolve(_ context.Context, id string, now time.Time) (chat.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, false, nil
	}
	if session.Expired(now) {
		delete(s.sessions, id)
		return chat.Session{}, false, nil
	}
	return session, true, nil
}

// Mint creates and stores a fresh session bound to ip.
func (s *MemorySessionStore) Mint(_ context.Context, ip string, now time.Time) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		IP:        ip,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(s.limits.SessionExpiry),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session, nil
}

// Reserve charges one request and tokenEstimate tokens under the lock,
// so concurrent reservations cannot both observe headroom.
func (s *MemorySessionStore) Reserve(_ context.Context, id string, tokenEstimate int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Expired(now) {
		delete(s.sessions, id)
		return ErrSessionExpired
	}
	if session.RequestCount+1 > s.limits.MaxRequestsPerSession {
		return ErrRequestQuotaExceeded
	}
	if session.TokenCount+tokenEstimate > s.limits.MaxTokensPerSession {
		return ErrTokenQuotaExceeded
	}

	session.RequestCount++
	session.TokenCount += tokenEstimate
	s.sessions[id] = session
	return nil
}

// CommitTokens reconciles the estimate with actual usage.
func (s *MemorySessionStore) CommitTokens(_ context.Context, id string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil
	}

	session.TokenCount += delta
	if session.TokenCount < 0 {
		session.TokenCount = 0
	}
	s.sessions[id] = session
	return nil
}

type ipEntry struct {
	windowStart  time.Time
	sessionCount int
}

// MemoryIPLedger implements IPLedger with a mutex-guarded map.
type MemoryIPLedger struct {
	mu      sync.Mutex
	limits  Limits
	entries map[string]ipEntry
}

// NewMemoryIPLedger builds an empty in-memory ledger.
func NewMemoryIPLedger(limits Limits) *MemoryIPLedger {
	return &MemoryIPLedger{
		limits:  limits,
		entries: make(map[string]ipEntry),
	}
}

// AdmitNewSession performs the rolling-window check-and-increment for
// ip under the lock.
func (l *MemoryIPLedger) AdmitNewSession(_ context.Context, ip string, now time.Time) (Admission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[ip]
	if !ok || now.Sub(entry.windowStart) >= ipWindowLength {
		entry = ipEntry{windowStart: now}
	}

	if entry.sessionCount >= l.limits.MaxSessionsPerIP {
		retry := entry.windowStart.Add(ipWindowLength).Sub(now)
		return Admission{RetryAfter: retry}, nil
	}

	entry.sessionCount++
	l.entries[ip] = entry
	return Admission{Allowed: true}, nil
}
