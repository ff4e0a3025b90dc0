package authcore

import (
	"errors"

	"github.com/siku-platform/authcore/internal/kv"
	"github.com/siku-platform/authcore/token"
	"github.com/siku-platform/authcore/verification"
)

// Subpackage sentinels re-exported so callers can stay on a single import.
// All of them are checked with errors.Is.
var (
	// ErrConfigInvalid rejects unusable configuration at Build time, most
	// notably a signing secret shorter than token.MinSecretLen bytes.
	ErrConfigInvalid = token.ErrConfigInvalid

	// ErrTokenInvalid covers malformed tokens, bad signatures, wrong
	// issuer or audience, and kind mismatch (refresh where access is
	// expected and vice versa).
	ErrTokenInvalid = token.ErrInvalid

	// ErrTokenExpired is a structurally valid token past its exp.
	ErrTokenExpired = token.ErrExpired

	// ErrClaimCorrupt is a well-signed token whose claims cannot be
	// mapped to a session.
	ErrClaimCorrupt = token.ErrClaimCorrupt

	ErrInvalidAddress = verification.ErrInvalidAddress
	ErrInvalidPurpose = verification.ErrInvalidPurpose
	ErrRateLimited    = verification.ErrRateLimited
	ErrSendFailed     = verification.ErrSendFailed

	// ErrStoreUnavailable signals a backing-store outage, distinct from
	// "key absent".
	ErrStoreUnavailable = kv.ErrUnavailable
)

// Engine-level errors.
var (
	ErrUserLookupFailed = errors.New("user lookup failed")
)
