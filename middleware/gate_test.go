package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siku-platform/authcore/audit"
	"github.com/siku-platform/authcore/session"
	"github.com/siku-platform/authcore/token"
)

type stubValidator struct {
	session session.Session
	err     error
	tokens  []string
}

func (s *stubValidator) Validate(tokenString string) (session.Session, error) {
	s.tokens = append(s.tokens, tokenString)
	return s.session, s.err
}

func testSession() session.Session {
	return session.Session{
		UserID:    42,
		SessionID: "sess-1",
		Username:  "alice",
		Roles:     []string{"USER", "ADMIN"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// capture records what the wrapped handler observed.
type capture struct {
	called  bool
	session session.Session
	hasSess bool
	meta    audit.RequestMeta
	hasMeta bool
	actor   audit.Actor
}

func captureHandler(c *capture) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.called = true
		c.session, c.hasSess = SessionFromContext(r.Context())
		c.meta, c.hasMeta = audit.MetaFromContext(r.Context())
		c.actor, _ = audit.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestGateValidBearerToken(t *testing.T) {
	validator := &stubValidator{session: testSession()}
	var got capture
	handler := Gate(validator, GateConfig{})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/me?tab=profile", nil)
	req.Header.Set("Authorization", "Bearer tok-abc")
	req.Header.Set("User-Agent", "curl/8.0")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, got.called)
	assert.Equal(t, []string{"tok-abc"}, validator.tokens)

	require.True(t, got.hasSess)
	assert.Equal(t, int64(42), got.session.UserID)

	require.True(t, got.hasMeta)
	assert.Equal(t, http.MethodGet, got.meta.Method)
	assert.Equal(t, "/api/me", got.meta.URI)
	assert.Equal(t, "curl/8.0", got.meta.UserAgent)
	assert.Equal(t, "sess-1", got.meta.SessionID)
	assert.Equal(t, "profile", got.meta.Params["tab"])

	assert.Equal(t, audit.Actor{UserID: 42, Username: "alice"}, got.actor)
}

func TestGateQueryParamFallback(t *testing.T) {
	validator := &stubValidator{session: testSession()}
	var got capture
	handler := Gate(validator, GateConfig{})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=tok-qs&channel=7", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"tok-qs"}, validator.tokens)
	require.True(t, got.hasMeta)
	assert.Equal(t, "7", got.meta.Params["channel"])
	assert.NotContains(t, got.meta.Params, "token", "the credential must not leak into the request snapshot")
}

func TestGateHeaderWinsOverQueryParam(t *testing.T) {
	validator := &stubValidator{session: testSession()}
	handler := Gate(validator, GateConfig{})(captureHandler(&capture{}))

	req := httptest.NewRequest(http.MethodGet, "/api/me?token=tok-qs", nil)
	req.Header.Set("Authorization", "Bearer tok-hdr")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{"tok-hdr"}, validator.tokens)
}

func TestGateInvalidTokenRejected(t *testing.T) {
	validator := &stubValidator{err: token.ErrExpired}
	var got capture
	handler := Gate(validator, GateConfig{})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, got.called, "handler must not run on a rejected token")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":401,"message":"unauthorized"}`, rec.Body.String())
}

func TestGateMissingTokenPassesThrough(t *testing.T) {
	validator := &stubValidator{}
	var got capture
	handler := Gate(validator, GateConfig{})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/open", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, got.called)
	assert.False(t, got.hasSess, "no session without a token")
	assert.True(t, got.hasMeta, "request snapshot is attached regardless")
	assert.Empty(t, validator.tokens)
}

func TestGatePublicPrefixSkipsValidation(t *testing.T) {
	validator := &stubValidator{err: token.ErrInvalid}
	var got capture
	handler := Gate(validator, GateConfig{PublicPrefixes: []string{"/api/public/", "/healthz"}})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/public/captcha", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, got.called)
	assert.Empty(t, validator.tokens, "public paths never hit the validator")
}

func TestGateEmptyBearerFallsBack(t *testing.T) {
	validator := &stubValidator{}
	var got capture
	handler := Gate(validator, GateConfig{})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.called)
	assert.Empty(t, validator.tokens, "an empty bearer value counts as absent")
}

func TestGateClientIPResolution(t *testing.T) {
	validator := &stubValidator{session: testSession()}

	cases := []struct {
		name    string
		prepare func(*http.Request)
		want    string
	}{
		{
			name:    "x-forwarded-for first hop",
			prepare: func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1") },
			want:    "203.0.113.9",
		},
		{
			name:    "x-real-ip",
			prepare: func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.7") },
			want:    "198.51.100.7",
		},
		{
			name:    "remote addr host",
			prepare: func(r *http.Request) {},
			want:    "192.0.2.1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got capture
			handler := Gate(validator, GateConfig{})(captureHandler(&got))

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.Header.Set("Authorization", "Bearer tok")
			tc.prepare(req)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			require.True(t, got.hasMeta)
			assert.Equal(t, tc.want, got.meta.IP)
		})
	}
}

func TestGateWithRealAuthority(t *testing.T) {
	authority, err := token.NewAuthority(token.Config{
		Secret:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:   "SiKu-Backend",
		Audience: "SiKu-Mobile",
	})
	require.NoError(t, err)

	issued, err := authority.IssueAccess(testSession())
	require.NoError(t, err)

	var got capture
	handler := Gate(authority, GateConfig{})(captureHandler(&got))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, got.hasSess)
	assert.Equal(t, "alice", got.session.Username)
}
