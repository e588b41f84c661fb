package auth

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer is set on every console token
	Issuer = "posvision"
	// Audience scopes tokens to the operator console API
	Audience = "posvision-console"
	// DefaultExpiry applies when no expiry is configured
	DefaultExpiry = 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims identify the operator holding a console token
type Claims struct {
	Operator string `json:"op"`
	jwt.RegisteredClaims
}

// Token is a signed console token
type Token struct {
	Value     string
	ID        string
	ExpiresAt time.Time
}

// tokenSigner issues and verifies HS256 console tokens
type tokenSigner struct {
	key    []byte
	ttl    time.Duration
	clock  clock.Clock
	parser *jwt.Parser
}

// newTokenSigner builds a signer from cfg. Without a configured secret the
// key is random, so tokens die with the process.
func newTokenSigner(cfg Config, clk clock.Clock) *tokenSigner {
	key := []byte(cfg.JWTSecret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	ttl := cfg.JWTExpiry
	if ttl <= 0 {
		ttl = DefaultExpiry
	}

	return &tokenSigner{
		key:   key,
		ttl:   ttl,
		clock: clk,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithAudience(Audience),
			jwt.WithExpirationRequired(),
			jwt.WithTimeFunc(clk.Now),
		),
	}
}

func (s *tokenSigner) issue(operator string) (Token, error) {
	now := s.clock.Now()
	tok := Token{ID: uuid.NewString(), ExpiresAt: now.Add(s.ttl)}

	claims := &Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tok.ID,
			Issuer:    Issuer,
			Subject:   operator,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(tok.ExpiresAt),
		},
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return Token{}, err
	}
	tok.Value = value
	return tok, nil
}

func (s *tokenSigner) verify(value string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(value, claims, func(*jwt.Token) (interface{}, error) {
		return s.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil, claims.Operator == "":
		return nil, ErrInvalidToken
	}
	return claims, nil
}
