package services

import (
	"context"
	"errors"

	"posvision/internal/auth"
	"posvision/internal/middleware"
)

// ErrUnauthorized wraps every login failure
var ErrUnauthorized = errors.New("unauthorized")

// LoginResult is a granted token
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// AuthStatus describes the caller's authentication state
type AuthStatus struct {
	Enabled         bool    `json:"enabled"`
	Authenticated   bool    `json:"authenticated"`
	Operator        *string `json:"operator,omitempty"`
	TokenTTLSeconds int64   `json:"tokenTtlSeconds"`
}

// AuthService implements operator login
type AuthService struct {
	authenticator *auth.Authenticator
}

// NewAuthService creates a new auth service
func NewAuthService(authenticator *auth.Authenticator) *AuthService {
	return &AuthService{
		authenticator: authenticator,
	}
}

// UnauthorizedError carries the message returned to the client
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string { return e.Message }

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// Login authenticates an operator and returns a JWT token
func (a *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	token, err := a.authenticator.Authenticate(username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, &UnauthorizedError{Message: "Invalid username or password"}
		}
		if errors.Is(err, auth.ErrAuthDisabled) {
			return nil, &UnauthorizedError{Message: "Authentication is disabled"}
		}
		return nil, &UnauthorizedError{Message: err.Error()}
	}

	return &LoginResult{
		Token:     token.Value,
		ExpiresAt: token.ExpiresAt.Unix(),
	}, nil
}

// Status returns the current authentication status
func (a *AuthService) Status(ctx context.Context) *AuthStatus {
	status := &AuthStatus{
		Enabled:         a.authenticator.IsEnabled(),
		TokenTTLSeconds: int64(a.authenticator.TokenTTL().Seconds()),
	}

	if claims := middleware.GetUserFromContext(ctx); claims != nil {
		status.Authenticated = true
		status.Operator = &claims.Operator
	}
	return status
}
