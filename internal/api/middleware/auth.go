package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/example/ticket-inventory/internal/auth"
)

const (
	SessionCookieName = "session_token"
	AdminKeyHeader    = "X-Admin-Key"
)

// respondError writes a JSON error response
func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ExtractToken extracts the session token from cookie or Authorization header
func ExtractToken(r *http.Request) string {
	// Try cookie first (for browser)
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	// Fall back to Authorization header (for API clients)
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

type contextKey string

const (
	SessionContextKey contextKey = "session"
)

// SessionMiddleware validates session tokens and adds the claims to context
func SessionMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := ExtractToken(r)
			if tokenString == "" {
				respondError(w, "session required", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateSessionToken(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					respondError(w, "session expired", http.StatusUnauthorized)
					return
				}
				respondError(w, "invalid session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalSessionMiddleware adds session claims to context if a token is present, but doesn't require it
func OptionalSessionMiddleware(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenString := ExtractToken(r); tokenString != "" {
				if claims, err := jwtService.ValidateSessionToken(tokenString); err == nil {
					ctx := context.WithValue(r.Context(), SessionContextKey, claims)
					r = r.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdminKey checks the X-Admin-Key header against a bcrypt hash.
// An empty hash disables the admin surface.
func RequireAdminKey(keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if keyHash == "" {
				respondError(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}

			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				respondError(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !auth.CheckAdminKey(key, keyHash) {
				respondError(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetSessionFromContext retrieves session claims from the request context
func GetSessionFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(SessionContextKey).(*auth.Claims)
	return claims, ok
}

// GetSessionID is a helper to get just the session ID from context
func GetSessionID(ctx context.Context) string {
	claims, ok := GetSessionFromContext(ctx)
	if !ok {
		return ""
	}
	return claims.SessionID
}
