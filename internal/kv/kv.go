// Package kv abstracts the TTL-backed keyed store behind the verification
// code, captcha, and send-cooldown machinery. The one non-negotiable contract
// is GetDel: consume must be a single atomic get-and-delete, never a get
// followed by a delete.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates a transient store failure. Callers must not
// conflate it with "absent": a timeout is retryable, a missing key is not.
var ErrUnavailable = errors.New("ttl store unavailable")

// Store is a keyed store whose entries expire automatically.
type Store interface {
	// Set writes value under key with the given ttl, replacing any prior value.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the live value for key, with ok=false when absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// GetDel atomically reads and removes the value for key.
	GetDel(ctx context.Context, key string) (value string, ok bool, err error)

	// Incr increments a counter key and returns the new value. The first
	// increment starts a fixed window of the given ttl.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Decr decrements a counter key and returns the new value. A counter
	// that reaches zero or below is removed so no stale key lingers.
	Decr(ctx context.Context, key string) (int64, error)
}
