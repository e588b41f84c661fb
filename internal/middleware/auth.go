// Package middleware holds the HTTP middlewares wrapped around the console API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"posvision/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey ContextKey = "user"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	IsEnabled() bool
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthMiddleware creates an HTTP middleware for JWT authentication.
// WebSocket upgrades may pass the token as the "token" query parameter.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := validator.ValidateToken(tokenString)
			if err != nil {
				if err == auth.ErrExpiredToken {
					writeError(w, http.StatusUnauthorized, "token has expired")
				} else {
					writeError(w, http.StatusUnauthorized, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token and whether any credential was presented
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" && isWebSocketUpgrade(r) {
			return t, true
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}
	return parts[1], true
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}
