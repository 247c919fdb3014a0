package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-keeper/token/jwt"
	"github.com/jrsteele09/go-session-keeper/users"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUserID stores the authenticated user ID
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyClaims stores the verified token introspection
	ContextKeyClaims ContextKey = "claims"
)

// ClaimsFrom returns the verified access token of an authenticated request.
func ClaimsFrom(ctx context.Context) (*jwt.TokenIntrospection, bool) {
	ti, ok := ctx.Value(ContextKeyClaims).(*jwt.TokenIntrospection)
	return ti, ok
}

// RequireAuth is middleware that validates a Bearer access token and the session it
// belongs to.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			// Extract Bearer token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, "unauthorized", "Missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
				writeJSONError(w, "unauthorized", "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			ti, err := s.inspector.Introspect(parts[1])
			if err != nil || !ti.Active {
				writeJSONError(w, "invalid_token", "Access token expired or revoked", http.StatusUnauthorized)
				return
			}

			// Tokens of revoked sessions stay signed until they expire
			if _, err := s.loginSessions.Get(ti.SessionID); err != nil {
				writeJSONError(w, "invalid_token", "Session has been revoked", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, ti.Sub)
			ctx = context.WithValue(ctx, ContextKeyClaims, ti)
			next(w, r.WithContext(ctx))
		}
	}
}

// RequireRole is middleware that validates the token grants role.
// Should be chained after RequireAuth to ensure claims are present
func (s *Server) RequireRole(role users.RoleType) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ti, ok := ClaimsFrom(r.Context())
			if !ok || !ti.HasRole(string(role)) {
				writeJSONError(w, "forbidden", "Requires the "+string(role)+" role", http.StatusForbidden)
				return
			}
			next(w, r)
		}
	}
}
