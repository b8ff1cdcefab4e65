// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package auth

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/models"
)

// Claims represents JWT claims
type Claims struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Groups   []int64  `json:"groups"`
	jwt.RegisteredClaims
}

// JWTManager handles JWT token creation and validation
type JWTManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewJWTManager creates a manager that signs and verifies HS256 tokens.
// The secret must be at least 32 bytes.
func NewJWTManager(cfg config.SecurityConfig) (*JWTManager, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	return &JWTManager{secret: []byte(cfg.JWTSecret), issuer: cfg.JWTIssuer, now: time.Now}, nil
}

// GenerateToken signs a token for caller valid for ttl. The subject is the
// caller's user id.
func (m *JWTManager) GenerateToken(caller models.Caller, ttl time.Duration) (string, error) {
	if caller.UserID == nil {
		return "", fmt.Errorf("token requires a user id")
	}
	now := m.now()
	claims := &Claims{
		Username: caller.Username,
		Roles:    caller.Roles,
		Groups:   caller.GroupIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(*caller.UserID, 10),
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, algorithm, expiry and issuer and
// returns the claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
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
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// CallerFromClaims converts verified claims into a Caller. Authenticated
// callers are always members of the public group.
func CallerFromClaims(c *Claims) (models.Caller, error) {
	uid, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return models.Caller{}, fmt.Errorf("token subject %q is not a user id", c.Subject)
	}
	groups := append([]int64{}, c.Groups...)
	if !slices.Contains(groups, models.PublicGroupID) {
		groups = append(groups, models.PublicGroupID)
	}
	roles := c.Roles
	if len(roles) == 0 {
		roles = []string{models.RoleUser}
	}
	return models.Caller{UserID: &uid, Username: c.Username, GroupIDs: groups, Roles: roles}, nil
}
