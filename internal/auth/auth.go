// Package auth guards the state-changing API. An operator exchanges the
// shared API key, stored only as an Argon2id hash, for a short-lived HS256
// JWT that the server then accepts as a bearer token.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "wellapp"
	audience = "wellapp-api"

	minSecretLen = 32
)

// ErrInvalidToken covers every reason a bearer token is refused.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the JWT claims issued to operators.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager signs and validates operator tokens.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

// NewJWTManager creates a manager signing with secret. An empty secret
// generates an ephemeral one, so tokens do not survive a restart.
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if expiration <= 0 {
		return nil, errors.New("auth: token expiration must be positive")
	}
	key := []byte(secret)
	if secret == "" {
		slog.Warn("auth: no WELLAPP_JWT_SECRET configured, generating ephemeral secret (not for production)")
		key = make([]byte, minSecretLen)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
	}
	if len(key) < minSecretLen {
		return nil, fmt.Errorf("auth: jwt secret must be at least %d bytes", minSecretLen)
	}
	return &JWTManager{secret: key, expiration: expiration, now: time.Now}, nil
}

// IssueToken signs a token for subject and returns it with its expiry.
func (m *JWTManager) IssueToken(subject string) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.New().String(),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses a bearer token and returns its claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}
