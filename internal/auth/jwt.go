// Thesisguard - Thesis Archive Access Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/thesisguard

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/thesisguard/internal/models"
)

// MinSecretLength is the shortest accepted HMAC secret.
const MinSecretLength = 32

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents JWT claims issued by the identity provider.
type Claims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Principal returns the principal the token speaks for.
func (c *Claims) Principal() models.Principal {
	return models.Principal{ID: c.Subject, Role: models.Role(c.Role)}
}

// Session builds the session record the token describes.
func (c *Claims) Session() *Session {
	s := &Session{
		ID:          c.SessionID,
		PrincipalID: c.Subject,
		Role:        models.Role(c.Role),
	}
	if c.IssuedAt != nil {
		s.CreatedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

// TokenManager validates (and, for tooling and tests, issues) HS256 tokens.
type TokenManager struct {
	secret  []byte
	timeout time.Duration
	issuer  string
}

// NewTokenManager creates a token manager.
func NewTokenManager(secret, issuer string, timeout time.Duration) (*TokenManager, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)
	}
	if timeout <= 0 {
		timeout = 8 * time.Hour
	}
	return &TokenManager{secret: []byte(secret), timeout: timeout, issuer: issuer}, nil
}

// GenerateToken creates a signed token for principal bound to sessionID.
func (m *TokenManager) GenerateToken(principal models.Principal, sessionID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role:      string(principal.Role),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token. Tokens without a subject or
// session id are rejected.
func (m *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalidToken)
	}
	return claims, nil
}
