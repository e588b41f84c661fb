// Package auth provides the optional operator login guarding the console API.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds operator credentials and token settings
type Config struct {
	Enabled  bool
	Username string
	// Password is plaintext or an existing bcrypt hash
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
	// Clock drives token timestamps; nil is the wall clock
	Clock clock.Clock
}

// Authenticator handles operator authentication
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *tokenSigner
}

// NewAuthenticator creates an authenticator from cfg
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled {
		if cfg.Password == "" {
			return nil, errors.New("authentication enabled without a password")
		}
		if isBcryptHash(cfg.Password) {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password: %w", err)
			}
			passwordHash = hash
		}
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		tokens:       newTokenSigner(cfg, cfg.Clock),
	}, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && s[0] == '$'
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate checks operator credentials and issues a console token
func (a *Authenticator) Authenticate(username, password string) (Token, error) {
	if !a.enabled {
		return Token{}, ErrAuthDisabled
	}

	if subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) != 1 {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	return a.tokens.issue(username)
}

// ValidateToken verifies a console token and returns its claims
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.tokens.verify(token)
}

// TokenTTL returns the lifetime of issued tokens
func (a *Authenticator) TokenTTL() time.Duration {
	return a.tokens.ttl
}

// HashPassword creates a bcrypt hash of a password, for AUTH_PASSWORD
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
