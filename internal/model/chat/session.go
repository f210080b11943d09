package chat

import "time"

// Session captures one anonymous conversation and the quota counters
// charged against it.
type Session struct {
	ID           string    `json:"id"`
	IP           string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	RequestCount int       `json:"requestCount"`
	TokenCount   int       `json:"tokenCount"`
}

// Expired reports whether the session should be treated as absent.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
