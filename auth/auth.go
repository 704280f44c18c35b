// Copyright 2026 Pistenotes
// SPDX-License-Identifier: Apache-2.0

// Package auth provides the bearer credential plumbing for the commsync
// gateway: HS256 token minting and validation, and a caching TokenSource
// that re-mints shortly before expiry.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims carried by commentator-platform tokens. The
// device id (did) lets the server attribute uploads to one client device;
// the user id travels in the standard sub claim.
type Claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

// TokenSource mints and caches HS256 tokens. Token satisfies the gateway's
// TokenProvider contract and is safe for concurrent use.
type TokenSource struct {
	secret   []byte
	userID   string
	deviceID string
	ttl      time.Duration

	mu     sync.Mutex
	cached string
	expiry time.Time
	now    func() time.Time
}

// refreshMargin is how long before expiry a cached token is replaced.
const refreshMargin = time.Minute

// NewTokenSource creates a token source for one signed-in user and device.
func NewTokenSource(secret, userID, deviceID string, ttl time.Duration) *TokenSource {
	return &TokenSource{
		secret:   []byte(secret),
		userID:   userID,
		deviceID: deviceID,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Token returns a valid bearer token, minting a fresh one when the cached
// token is within the refresh margin of expiry.
func (s *TokenSource) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(refreshMargin).Before(s.expiry) {
		return s.cached, nil
	}

	expiry := now.Add(s.ttl)
	claims := &Claims{
		DeviceID: s.deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "go-commsync",
			Subject:   s.userID,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	s.cached = token
	s.expiry = expiry
	return token, nil
}

// ValidateToken parses and validates a token minted with the given secret.
// Used by tests and by local dev servers standing in for the remote API.
func ValidateToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.DeviceID == "" {
		return nil, fmt.Errorf("missing did (device ID) in token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub (user ID) in token")
	}
	return claims, nil
}
