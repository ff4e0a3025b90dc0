package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/siku-platform/authcore/audit"
	"github.com/siku-platform/authcore/captcha"
	"github.com/siku-platform/authcore/internal/kv"
	"github.com/siku-platform/authcore/middleware"
	"github.com/siku-platform/authcore/session"
	"github.com/siku-platform/authcore/token"
	"github.com/siku-platform/authcore/verification"
)

// User is the identity snapshot the engine needs to mint tokens. Storage and
// lifecycle of accounts stay outside this subsystem.
type User struct {
	ID       int64
	Username string
	Roles    []string
}

// UserProvider resolves identities for token issuance and refresh.
type UserProvider interface {
	FindUserByID(ctx context.Context, userID int64) (User, error)
}

// TokenPair is the result of issuing or refreshing tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string

	// ExpiresIn is the access token lifetime.
	ExpiresIn time.Duration
}

// Engine is the assembled subsystem facade. Build one via Builder; it is
// safe for concurrent use and immutable after Build.
type Engine struct {
	cfg          Config
	authority    *token.Authority
	store        kv.Store
	issuer       *verification.Issuer
	captcha      *captcha.Service
	recorder     *audit.Recorder
	metrics      *metrics
	userProvider UserProvider
	logger       *slog.Logger
}

// IssueTokens resolves the user and mints an access+refresh pair sharing one
// fresh session id. The caller decides when issuance is appropriate (its
// login flow, an admin impersonation endpoint); the engine only mints.
func (e *Engine) IssueTokens(ctx context.Context, userID int64) (TokenPair, error) {
	user, err := e.userProvider.FindUserByID(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUserLookupFailed, err)
	}

	s := session.Session{
		UserID:    user.ID,
		SessionID: uuid.NewString(),
		Username:  user.Username,
		Roles:     user.Roles,
	}

	access, err := e.authority.IssueAccess(s)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := e.authority.IssueRefresh(s)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    e.authority.AccessTTL(),
	}, nil
}

// ValidateAccess checks an access token and returns its session.
func (e *Engine) ValidateAccess(tokenString string) (session.Session, error) {
	s, err := e.authority.Validate(tokenString)
	e.metrics.tokenValidations.WithLabelValues(validationResult(err)).Inc()
	return s, err
}

func validationResult(err error) string {
	switch {
	case err == nil:
		return validationOK
	case errors.Is(err, ErrTokenExpired):
		return validationExpired
	default:
		return validationInvalid
	}
}

// RefreshAccess redeems a refresh token for a new access token. The user is
// re-resolved so role changes since login take effect; the session id is
// carried over unchanged. The refresh token itself stays valid until its own
// expiry and is returned as-is.
func (e *Engine) RefreshAccess(ctx context.Context, refreshToken string) (TokenPair, error) {
	s, err := e.authority.ValidateRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, err
	}

	user, err := e.userProvider.FindUserByID(ctx, s.UserID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrUserLookupFailed, err)
	}

	fresh := session.Session{
		UserID:    user.ID,
		SessionID: s.SessionID,
		Username:  user.Username,
		Roles:     user.Roles,
	}

	access, err := e.authority.IssueAccess(fresh)
	if err != nil {
		return TokenPair{}, err
	}

	e.recorder.Record(ctx, audit.EventTokenRefresh, audit.LevelInfo, "access token refreshed",
		audit.ResultSuccess, audit.RiskLow, map[string]any{"username": user.Username})

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    e.authority.AccessTTL(),
	}, nil
}

// AccessExpiringSoon reports whether the token is inside the configured
// refresh-advisory window. Undecodable tokens count as expiring.
func (e *Engine) AccessExpiringSoon(tokenString string) bool {
	return e.authority.ExpiringSoon(tokenString, e.cfg.JWT.ExpiringSoonWindow)
}

// SendVerificationCode issues a one-time code over the channel.
func (e *Engine) SendVerificationCode(ctx context.Context, channel verification.Channel, address, purpose string) (verification.Issued, error) {
	issued, err := e.issuer.Issue(ctx, channel, address, purpose)
	switch {
	case err == nil:
		e.metrics.codesIssued.WithLabelValues(string(channel)).Inc()
	case errors.Is(err, ErrRateLimited):
		e.metrics.rateLimitedSends.Inc()
	}
	return issued, err
}

// VerifyCode redeems a one-time code. False with nil error means wrong,
// expired, or already used.
func (e *Engine) VerifyCode(ctx context.Context, channel verification.Channel, address, code, purpose string) (bool, error) {
	return e.issuer.Verify(ctx, channel, address, code, purpose)
}

// GenerateCaptcha creates an image challenge.
func (e *Engine) GenerateCaptcha(ctx context.Context) (captcha.Challenge, error) {
	return e.captcha.Generate(ctx)
}

// VerifyCaptcha redeems a challenge, case-insensitively and at most once.
func (e *Engine) VerifyCaptcha(ctx context.Context, id, input string) (bool, error) {
	return e.captcha.Verify(ctx, id, input)
}

// Audit exposes the recorder for application-level events and reporting.
func (e *Engine) Audit() *audit.Recorder {
	return e.recorder
}

// Gate returns the request authentication middleware wired to this engine.
func (e *Engine) Gate() func(http.Handler) http.Handler {
	return middleware.Gate(e.authority, middleware.GateConfig{
		PublicPrefixes: e.cfg.PublicPrefixes,
	})
}

// MetricsHandler serves this engine's Prometheus registry.
func (e *Engine) MetricsHandler() http.Handler {
	return e.metrics.handler()
}

// Close drains the audit pipeline. The redis client and audit store belong
// to the caller and are not closed here.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.recorder.Close()
	if dropped := e.recorder.Dropped(); dropped > 0 {
		e.logger.Warn("audit events dropped", slog.Uint64("count", dropped))
	}
}
