// Package session defines the request-scoped identity derived from a bearer
// token. A Session is a value type: immutable once constructed, never
// persisted, alive for one request or one token validity window.
package session

import (
	"slices"
	"time"
)

// Session is the identity decoded from a validated access token.
type Session struct {
	UserID    int64
	SessionID string
	Username  string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the session has not expired at the given instant.
func (s Session) Valid(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// HasRole reports whether the session carries the given role tag.
func (s Session) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// HasAnyRole reports whether the session carries at least one of the given roles.
func (s Session) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if slices.Contains(s.Roles, role) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether the session carries every one of the given roles.
func (s Session) HasAllRoles(roles ...string) bool {
	for _, role := range roles {
		if !slices.Contains(s.Roles, role) {
			return false
		}
	}
	return true
}

// Remaining returns the time left before expiry, clamped at zero.
func (s Session) Remaining(now time.Time) time.Duration {
	if s.ExpiresAt.IsZero() {
		return 0
	}
	remaining := s.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ExpiringSoon reports whether less than window remains before expiry.
// A session with no expiry set counts as expiring.
func (s Session) ExpiringSoon(now time.Time, window time.Duration) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return s.ExpiresAt.Before(now.Add(window))
}
