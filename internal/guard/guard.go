// Package guard decides whether an inbound chat request may proceed to
// model invocation. It runs the abuse filter, the per-IP session ledger,
// and the session quota reservation in that order; every denial is final
// for the request. Store failures deny rather than admit.
package guard

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mleone/profile-chatbot/backend/internal/abuse"
	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
	"github.com/mleone/profile-chatbot/backend/internal/quota"
)

// Reason classifies a denial. Reasons are logged, never echoed verbatim
// to clients.
type Reason string

const (
	ReasonPolicyViolation  Reason = "policy_violation"
	ReasonIPQuota          Reason = "ip_quota_exceeded"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonRequestQuota     Reason = "request_quota_exceeded"
	ReasonTokenQuota       Reason = "token_quota_exceeded"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Request carries the admission inputs for one chat turn.
type Request struct {
	SessionID string
	Message   string
	IP        string
}

// Decision is the admission outcome handed to the request handler.
type Decision struct {
	Admitted      bool
	Session       chat.Session
	Reason        Reason
	RetryAfter    time.Duration
	TokenEstimate int
}

// TokenEstimator predicts the token cost of a chat turn before the
// model call reports actual usage.
type TokenEstimator interface {
	EstimateTurn(message string) int
}

// Guard orchestrates the admission policy.
type Guard struct {
	filter    *abuse.Filter
	sessions  quota.SessionStore
	ledger    quota.IPLedger
	estimator TokenEstimator
	now       func() time.Time
}

// New wires the guard over its collaborators.
func New(filter *abuse.Filter, sessions quota.SessionStore, ledger quota.IPLedger, estimator TokenEstimator) *Guard {
	return &Guard{
		filter:    filter,
		sessions:  sessions,
		ledger:    ledger,
		estimator: estimator,
		now:       time.Now,
	}
}

// Admit runs the per-request state machine: filter, identify, quota
// check. On success the returned decision carries the session to charge
// and the token estimate that was reserved.
func (g *Guard) Admit(ctx context.Context, req Request) Decision {
	now := g.now()

	if res := g.filter.Inspect(req.Message); res.Flagged {
		log.Printf("[guard] policy violation from ip=%s session=%s pattern=%q", req.IP, req.SessionID, res.Pattern)
		return Decision{Reason: ReasonPolicyViolation}
	}

	session, ok, err := g.resolve(ctx, req.SessionID, now)
	if err != nil {
		return g.failClosed("resolve", err)
	}
	if !ok {
		admission, err := g.ledger.AdmitNewSession(ctx, req.IP, now)
		if err != nil {
			return g.failClosed("ip ledger", err)
		}
		if !admission.Allowed {
			log.Printf("[guard] ip quota exhausted for ip=%s retry_after=%s", req.IP, admission.RetryAfter)
			return Decision{Reason: ReasonIPQuota, RetryAfter: admission.RetryAfter}
		}

		session, err = g.sessions.Mint(ctx, req.IP, now)
		if err != nil {
			return g.failClosed("mint", err)
		}
	}

	estimate := g.estimator.EstimateTurn(req.Message)
	if err := g.sessions.Reserve(ctx, session.ID, estimate, now); err != nil {
		switch {
		case errors.Is(err, quota.ErrSessionExpired):
			log.Printf("[guard] session %s expired between resolve and reserve", session.ID)
			return Decision{Reason: ReasonSessionExpired}
		case errors.Is(err, quota.ErrRequestQuotaExceeded):
			log.Printf("[guard] request quota exhausted for session=%s", session.ID)
			return Decision{Reason: ReasonRequestQuota}
		case errors.Is(err, quota.ErrTokenQuotaExceeded):
			log.Printf("[guard] token quota exhausted for session=%s", session.ID)
			return Decision{Reason: ReasonTokenQuota}
		default:
			return g.failClosed("reserve", err)
		}
	}

	return Decision{Admitted: true, Session: session, TokenEstimate: estimate}
}

// Commit reconciles the reserved estimate with the usage the model
// reported. Reconciliation is forward-looking: it can exhaust the token
// budget for future turns but never fails the completed one.
func (g *Guard) Commit(ctx context.Context, sessionID string, estimate, actual int) {
	if actual <= 0 {
		// Provider reported no usage; the estimate stands as charged.
		return
	}
	if err := g.sessions.CommitTokens(ctx, sessionID, actual-estimate); err != nil {
		log.Printf("[guard] token commit failed for session=%s: %v", sessionID, err)
	}
}

func (g *Guard) resolve(ctx context.Context, sessionID string, now time.Time) (chat.Session, bool, error) {
	if sessionID == "" {
		return chat.Session{}, false, nil
	}
	return g.sessions.Resolve(ctx, sessionID, now)
}

// failClosed logs the infrastructure fault as an operational incident
// and denies.
func (g *Guard) failClosed(op string, err error) Decision {
	log.Printf("[guard] INCIDENT: %s store unavailable, denying request: %v", op, err)
	return Decision{Reason: ReasonStoreUnavailable}
}
