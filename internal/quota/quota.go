// Package quota owns the session counters and the per-IP session ledger
// that back chat admission. Both have an in-memory backend for local use
// and a Redis backend for deployments where concurrent instances share
// state; every check-and-increment is a single atomic step against the
// backing store.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
)

var (
	// ErrSessionExpired is returned by Reserve when the session lapsed
	// between resolution and reservation.
	ErrSessionExpired = errors.New("session expired")

	// ErrRequestQuotaExceeded is returned when the session has spent its
	// request budget.
	ErrRequestQuotaExceeded = errors.New("session request quota exceeded")

	// ErrTokenQuotaExceeded is returned when the reservation would push
	// the session past its token budget.
	ErrTokenQuotaExceeded = errors.New("session token quota exceeded")
)

// Limits carries the admission ceilings shared by both backends.
type Limits struct {
	MaxRequestsPerSession int
	MaxTokensPerSession   int
	MaxSessionsPerIP      int
	SessionExpiry         time.Duration
}

// Admission reports an IP ledger decision. RetryAfter is set on denial
// with the time remaining until the address's window resets.
type Admission struct {
	Allowed    bool
	RetryAfter time.Duration
}

// SessionStore persists per-session quota counters. Expired sessions
// read as absent; reclamation is lazy.
type SessionStore interface {
	// Resolve returns the non-expired session for id, if any.
	Resolve(ctx context.Context, id string, now time.Time) (chat.Session, bool, error)

	// Mint creates a fresh session for the given client address. Callers
	// must obtain IP ledger admission first.
	Mint(ctx context.Context, ip string, now time.Time) (chat.Session, error)

	// Reserve atomically charges one request plus tokenEstimate tokens
	// against the session, or denies with ErrSessionExpired,
	// ErrRequestQuotaExceeded, or ErrTokenQuotaExceeded.
	Reserve(ctx context.Context, id string, tokenEstimate int, now time.Time) error

	// CommitTokens reconciles the reserved estimate with actual usage.
	// The delta may be negative; the counter never drops below zero. A
	// commit never denies, even when it lands past the token ceiling --
	// the overrun surfaces on the next Reserve.
	CommitTokens(ctx context.Context, id string, delta int) error
}

// IPLedger bounds how many sessions one address may mint per rolling
// day window.
type IPLedger interface {
	AdmitNewSession(ctx context.Context, ip string, now time.Time) (Admission, error)
}
