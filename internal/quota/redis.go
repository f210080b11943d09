package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mleone/profile-chatbot/backend/internal/model/chat"
)

const (
	sessionKeyPrefix = "chat:session:"
	ledgerKeyPrefix  = "chat:ipledger:"
)

// reserveScript performs the whole check-and-consume as one atomic step
// so concurrent instances cannot both observe headroom. Returns "expired",
// "requests", "tokens", or "ok".
var reserveScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return 'expired'
end
local expires = tonumber(redis.call('HGET', key, 'expires_at') or '0')
if tonumber(ARGV[4]) > expires then
  redis.call('DEL', key)
  return 'expired'
end
local requests = tonumber(redis.call('HGET', key, 'request_count') or '0')
if requests + 1 > tonumber(ARGV[1]) then
  return 'requests'
end
local tokens = tonumber(redis.call('HGET', key, 'token_count') or '0')
if tokens + tonumber(ARGV[3]) > tonumber(ARGV[2]) then
  return 'tokens'
end
redis.call('HINCRBY', key, 'request_count', 1)
redis.call('HINCRBY', key, 'token_count', ARGV[3])
return 'ok'
`)

// commitScript applies the post-call usage delta, flooring at zero.
var commitScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return 0
end
local tokens = redis.call('HINCRBY', key, 'token_count', ARGV[1])
if tokens < 0 then
  redis.call('HSET', key, 'token_count', 0)
end
return 1
`)

// admitScript increments the address's window counter only while under
// the ceiling, starting the window TTL on first use. Returns
// {allowed, retry_after_seconds}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local max = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call('GET', key) or '0')
if count >= max then
  local ttl = redis.call('TTL', key)
  if ttl < 0 then ttl = window end
  return {0, ttl}
end
count = redis.call('INCR', key)
if count == 1 then
  redis.call('EXPIRE', key, window)
end
return {1, 0}
`)

// RedisSessionStore implements SessionStore on a shared Redis, for
// deployments where concurrent instances serve traffic.
type RedisSessionStore struct {
	client *redis.Client
	limits Limits
}

// NewRedisSessionStore connects to redisURL and returns the store.
func NewRedisSessionStore(redisURL string, limits Limits) (*RedisSessionStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSessionStore{client: redis.NewClient(opt), limits: limits}, nil
}

// Close releases the underlying connection pool.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// Resolve loads the session hash; a missing or lapsed hash reads as
// absent. Redis key TTL handles physical reclamation.
func (s *RedisSessionStore) Resolve(ctx context.Context, id string, now time.Time) (chat.Session, bool, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("resolve session: %w", err)
	}
	if len(fields) == 0 {
		return chat.Session{}, false, nil
	}

	session, err := sessionFromHash(id, fields)
	if err != nil {
		return chat.Session{}, false, err
	}
	if session.Expired(now) {
		return chat.Session{}, false, nil
	}
	return session, true, nil
}

// Mint writes a fresh session hash with a TTL matching its expiry.
func (s *RedisSessionStore) Mint(ctx context.Context, ip string, now time.Time) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		IP:        ip,
		CreatedAt: now.UTC(),
		ExpiresAt: now.UTC().Add(s.limits.SessionExpiry),
	}

	key := sessionKey(session.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"ip":            session.IP,
		"created_at":    session.CreatedAt.Unix(),
		"expires_at":    session.ExpiresAt.Unix(),
		"request_count": 0,
		"token_count":   0,
	})
	pipe.ExpireAt(ctx, key, session.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return chat.Session{}, fmt.Errorf("mint session: %w", err)
	}
	return session, nil
}

// Reserve runs the atomic check-and-consume script.
func (s *RedisSessionStore) Reserve(ctx context.Context, id string, tokenEstimate int, now time.Time) error {
	result, err := reserveScript.Run(ctx, s.client, []string{sessionKey(id)},
		s.limits.MaxRequestsPerSession,
		s.limits.MaxTokensPerSession,
		tokenEstimate,
		now.Unix(),
	).Text()
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}

	switch result {
	case "ok":
		return nil
	case "expired":
		return ErrSessionExpired
	case "requests":
		return ErrRequestQuotaExceeded
	case "tokens":
		return ErrTokenQuotaExceeded
	default:
		return fmt.Errorf("reserve quota: unexpected script result %q", result)
	}
}

// CommitTokens applies the reconciliation delta. A vanished session is
// not an error; its quota died with it.
func (s *RedisSessionStore) CommitTokens(ctx context.Context, id string, delta int) error {
	if err := commitScript.Run(ctx, s.client, []string{sessionKey(id)}, delta).Err(); err != nil {
		return fmt.Errorf("commit tokens: %w", err)
	}
	return nil
}

func sessionFromHash(id string, fields map[string]string) (chat.Session, error) {
	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return chat.Session{}, fmt.Errorf("corrupt session %s: created_at %q", id, fields["created_at"])
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return chat.Session{}, fmt.Errorf("corrupt session %s: expires_at %q", id, fields["expires_at"])
	}
	requests, _ := strconv.Atoi(fields["request_count"])
	tokens, _ := strconv.Atoi(fields["token_count"])

	return chat.Session{
		ID:           id,
		IP:           fields["ip"],
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
		ExpiresAt:    time.Unix(expiresAt, 0).UTC(),
		RequestCount: requests,
		TokenCount:   tokens,
	}, nil
}

// RedisIPLedger implements IPLedger on a shared Redis.
type RedisIPLedger struct {
	client *redis.Client
	limits Limits
}

// NewRedisIPLedger connects to redisURL and returns the ledger. The
// client is separate from the session store's so either can be closed
// independently.
func NewRedisIPLedger(redisURL string, limits Limits) (*RedisIPLedger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisIPLedger{client: redis.NewClient(opt), limits: limits}, nil
}

// Close releases the underlying connection pool.
func (l *RedisIPLedger) Close() error {
	return l.client.Close()
}

// AdmitNewSession runs the atomic window check for ip. The window rolls
// 24h after the address's first mint, carried by the key TTL.
func (l *RedisIPLedger) AdmitNewSession(ctx context.Context, ip string, _ time.Time) (Admission, error) {
	result, err := admitScript.Run(ctx, l.client, []string{ledgerKeyPrefix + ip},
		l.limits.MaxSessionsPerIP,
		int(ipWindowLength.Seconds()),
	).Int64Slice()
	if err != nil {
		return Admission{}, fmt.Errorf("admit session: %w", err)
	}
	if len(result) != 2 {
		return Admission{}, fmt.Errorf("admit session: unexpected script result %v", result)
	}

	if result[0] == 1 {
		return Admission{Allowed: true}, nil
	}
	return Admission{RetryAfter: time.Duration(result[1]) * time.Second}, nil
}
