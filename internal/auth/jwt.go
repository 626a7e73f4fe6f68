// PharmSync - Multi-Tenant Pharmacy Realtime Event Distribution
// Copyright 2026 Apotheca Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/apotheca-labs/pharmsync

// Package auth validates bearer tokens presented at hub connection time.
//
// Token issuance lives in the platform's identity service; this package
// only verifies the signature and extracts the tenant and role claims the
// registry needs for group placement.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/apotheca-labs/pharmsync/internal/event"
)

var (
	// ErrTokenInvalid covers malformed, expired, or badly signed tokens.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrMissingClaim is returned when a structurally valid token lacks the
	// tenant or role claim the hub requires for group placement.
	ErrMissingClaim = errors.New("required claim missing")
)

// Claims are the token claims the hub consumes. UserID is optional so
// system and anonymous connections can still be tenant-scoped.
type Claims struct {
	TenantID string     `json:"tenant_id"`
	Role     event.Role `json:"role"`
	UserID   string     `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier. The secret must be at least 32
// bytes; anything shorter is trivially brute-forceable for HS256.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters, got %d", len(secret))
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses and validates a token string and returns its claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id", ErrMissingClaim)
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: role %q unknown", ErrMissingClaim, claims.Role)
	}
	return claims, nil
}

// VerifyRequest extracts and validates the bearer token from an HTTP
// request. The token may arrive as an Authorization header or, for browser
// websocket clients that cannot set headers, as an access_token query
// parameter.
func (v *Verifier) VerifyRequest(r *http.Request) (*Claims, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		token = q
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no bearer token presented", ErrTokenInvalid)
	}
	return v.Verify(token)
}

// Sign issues a token for the given claims. Production tokens come from
// the identity service; this exists for tests and local tooling.
func (v *Verifier) Sign(tenantID string, role event.Role, userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		TenantID: tenantID,
		Role:     role,
		UserID:   userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
