package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/siku-platform/authcore/audit"
	"github.com/siku-platform/authcore/session"
)

// queryTokenParam is the fallback token carrier for transports that cannot
// set headers (EventSource, websocket handshakes behind some proxies).
const queryTokenParam = "token"

// TokenValidator validates an access token and returns the session it
// represents. *token.Authority satisfies this.
type TokenValidator interface {
	Validate(tokenString string) (session.Session, error)
}

// GateConfig tunes the request gate.
type GateConfig struct {
	// PublicPrefixes lists URL path prefixes that bypass token validation
	// entirely, e.g. "/api/public/" or "/healthz".
	PublicPrefixes []string
}

type sessionContextKey struct{}

// SessionFromContext returns the session attached by Gate, if any.
func SessionFromContext(ctx context.Context) (session.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(session.Session)
	return s, ok
}

// Gate returns middleware that authenticates requests against the validator.
//
// Resolution order: public-prefix match passes through untouched (beyond the
// request snapshot); a missing token passes through unauthenticated; a token
// that fails validation is rejected with a generic 401 so callers cannot
// probe for expired-versus-malformed; a valid token attaches the session and
// the acting identity to the request context.
func Gate(validator TokenValidator, cfg GateConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			meta := snapshotRequest(r)
			ctx := audit.WithMeta(r.Context(), meta)

			if publicPath(cfg.PublicPrefixes, r.URL.Path) {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			tokenString, ok := extractToken(r)
			if !ok {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if validator == nil {
				writeUnauthorized(w)
				return
			}

			s, err := validator.Validate(tokenString)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			meta.SessionID = s.SessionID
			ctx = audit.WithMeta(r.Context(), meta)
			ctx = audit.WithActor(ctx, audit.Actor{UserID: s.UserID, Username: s.Username})
			ctx = context.WithValue(ctx, sessionContextKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func publicPath(prefixes []string, path string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func extractToken(r *http.Request) (string, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if token := r.URL.Query().Get(queryTokenParam); token != "" {
		return token, true
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func snapshotRequest(r *http.Request) audit.RequestMeta {
	params := map[string]string{}
	for key, values := range r.URL.Query() {
		if key == queryTokenParam {
			continue
		}
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	if len(params) == 0 {
		params = nil
	}

	return audit.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		URI:       r.URL.Path,
		Params:    params,
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if first, _, found := strings.Cut(forwarded, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
