package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/siku-platform/authcore/session"
)

// rolePrefix namespaces role tags so they cannot collide with other
// permission kinds carried in the same claim set.
const rolePrefix = "role:"

// RoleTag returns the namespaced form of a role name. Already-namespaced
// input is returned unchanged.
func RoleTag(role string) string {
	if strings.HasPrefix(role, rolePrefix) {
		return role
	}
	return rolePrefix + role
}

// RequireRole returns middleware that rejects requests whose session does not
// hold the role. Unauthenticated requests get 401, authenticated ones missing
// the role get 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return requireRoles(func(s session.Session) bool {
		return hasRole(s, role)
	})
}

// RequireAnyRole is RequireRole for "at least one of".
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return requireRoles(func(s session.Session) bool {
		for _, role := range roles {
			if hasRole(s, role) {
				return true
			}
		}
		return false
	})
}

func requireRoles(allowed func(session.Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}
			if !allowed(s) {
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasRole matches in namespaced form, so sessions carrying either "ADMIN" or
// "role:ADMIN" satisfy RequireRole("ADMIN").
func hasRole(s session.Session, role string) bool {
	want := RoleTag(role)
	for _, held := range s.Roles {
		if RoleTag(held) == want {
			return true
		}
	}
	return false
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "forbidden")
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorBody{Code: code, Message: message})
}
