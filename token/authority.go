// Package token signs and verifies the bearer tokens of the authentication
// subsystem. A single symmetric HS256 key backs both token kinds: short-lived
// access tokens carrying authorization claims, and long-lived refresh tokens
// that carry none.
package token

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/siku-platform/authcore/session"
)

// Token kind discriminator carried in the "type" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// MinSecretLen is the minimum accepted signing-secret length in bytes.
// HS256 with a shorter key is a configuration error, not a runtime condition.
const MinSecretLen = 32

var (
	// ErrConfigInvalid indicates an unusable signing configuration at startup.
	ErrConfigInvalid = errors.New("invalid token configuration")
	// ErrInvalid indicates a malformed token, a bad signature, or a token of
	// the wrong kind.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired indicates a correctly signed token past its expiry.
	ErrExpired = errors.New("token expired")
	// ErrClaimCorrupt indicates a verifiable token whose claims do not decode
	// into the expected shape. Distinct from ErrInvalid: it points at
	// tampering or an issuer bug rather than a garbage string.
	ErrClaimCorrupt = errors.New("token claims corrupt")
)

// Config holds the signing parameters. Treated as immutable after NewAuthority.
type Config struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
}

// Claims is the wire shape of both token kinds. Subject is the stringified
// integer user id.
type Claims struct {
	SessionID string   `json:"sid"`
	Username  string   `json:"username,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Kind      string   `json:"type"`
	jwt.RegisteredClaims
}

// Authority issues and validates bearer tokens with a process-wide symmetric
// key that is read-only after initialization.
type Authority struct {
	cfg Config
	now func() time.Time
}

// NewAuthority validates the configuration and returns a ready authority.
func NewAuthority(cfg Config) (*Authority, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrConfigInvalid, MinSecretLen)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrConfigInvalid)
	}
	if cfg.Audience == "" {
		return nil, fmt.Errorf("%w: audience is required", ErrConfigInvalid)
	}

	return &Authority{cfg: cfg, now: time.Now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (a *Authority) AccessTTL() time.Duration {
	return a.cfg.AccessTTL
}

// RefreshTTL returns the configured refresh-token lifetime.
func (a *Authority) RefreshTTL() time.Duration {
	return a.cfg.RefreshTTL
}

// IssueAccess signs an access token for the session. An empty SessionID gets
// a fresh random one.
func (a *Authority) IssueAccess(s session.Session) (string, error) {
	return a.issue(s, KindAccess, a.cfg.AccessTTL)
}

// IssueRefresh signs a refresh token for the session. Refresh tokens omit
// username and roles: they must never carry authorization data.
func (a *Authority) IssueRefresh(s session.Session) (string, error) {
	s.Username = ""
	s.Roles = nil
	return a.issue(s, KindRefresh, a.cfg.RefreshTTL)
}

func (a *Authority) issue(s session.Session, kind string, ttl time.Duration) (string, error) {
	sid := s.SessionID
	if sid == "" {
		sid = uuid.NewString()
	}

	now := a.now()
	claims := Claims{
		SessionID: sid,
		Username:  s.Username,
		Roles:     s.Roles,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(s.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    a.cfg.Issuer,
			Audience:  jwt.ClaimStrings{a.cfg.Audience},
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
}

// Validate verifies signature, issuer, audience, and kind, then checks expiry
// explicitly. It returns the session derived from the claims.
func (a *Authority) Validate(tokenString string) (session.Session, error) {
	return a.validate(tokenString, KindAccess)
}

// ValidateRefresh is Validate for the refresh kind.
func (a *Authority) ValidateRefresh(tokenString string) (session.Session, error) {
	return a.validate(tokenString, KindRefresh)
}

func (a *Authority) validate(tokenString, wantKind string) (session.Session, error) {
	claims, userID, err := a.decode(tokenString)
	if err != nil {
		return session.Session{}, err
	}

	if claims.Kind != wantKind {
		// A refresh token where an access token is expected (or the reverse)
		// is rejected without disclosing why.
		return session.Session{}, ErrInvalid
	}

	// Expiry is checked here rather than by the parser so that the
	// expiring-soon advisory can share one decode path.
	if !a.now().Before(claims.ExpiresAt.Time) {
		return session.Session{}, ErrExpired
	}

	return session.Session{
		UserID:    userID,
		SessionID: claims.SessionID,
		Username:  claims.Username,
		Roles:     claims.Roles,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ExpiringSoon reports whether less than window remains of the token's
// lifetime. A token that fails to decode counts as expiring, so callers that
// only hold a stale or damaged token are steered into the refresh flow.
func (a *Authority) ExpiringSoon(tokenString string, window time.Duration) bool {
	claims, _, err := a.decode(tokenString)
	if err != nil {
		return true
	}
	return claims.ExpiresAt.Time.Before(a.now().Add(window))
}

// decode verifies the signature, issuer, and audience and decodes the claim
// shape. Expiry is deliberately not enforced here.
func (a *Authority) decode(tokenString string) (*Claims, int64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	parsed, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.cfg.Secret, nil
	})
	if err != nil {
		return nil, 0, ErrInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, 0, ErrInvalid
	}
	if claims.Issuer != a.cfg.Issuer || !slices.Contains(claims.Audience, a.cfg.Audience) {
		return nil, 0, ErrInvalid
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, 0, ErrClaimCorrupt
	}
	if claims.Kind != KindAccess && claims.Kind != KindRefresh {
		return nil, 0, ErrClaimCorrupt
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, 0, ErrClaimCorrupt
	}

	return claims, userID, nil
}
