// Lumen - Dynamic Image Generation Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lumen

package auth

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/lumen/internal/config"
	"github.com/tomtom215/lumen/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() config.SecurityConfig {
	return config.SecurityConfig{AuthMode: "jwt", JWTSecret: testSecret, JWTIssuer: "lumen"}
}

func userCaller(id int64, roles ...string) models.Caller {
	return models.Caller{UserID: &id, Username: "alice", GroupIDs: []int64{5}, Roles: roles}
}

func TestNewJWTManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewJWTManager(config.SecurityConfig{JWTSecret: "short"}); err == nil {
		t.Error("NewJWTManager(short secret) succeeded")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewJWTManager(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.GenerateToken(userCaller(42, models.RoleAdmin), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	caller, err := CallerFromClaims(claims)
	if err != nil {
		t.Fatal(err)
	}
	if *caller.UserID != 42 || !caller.HasRole(models.RoleAdmin) {
		t.Errorf("caller = %+v", caller)
	}
	if !slices.Contains(caller.GroupIDs, models.PublicGroupID) || !slices.Contains(caller.GroupIDs, 5) {
		t.Errorf("groups = %v, want 5 and the public group", caller.GroupIDs)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	m, _ := NewJWTManager(testConfig())
	good, _ := m.GenerateToken(userCaller(1), time.Hour)

	other, _ := NewJWTManager(config.SecurityConfig{JWTSecret: testSecret + "x", JWTIssuer: "lumen"})
	wrongKey, _ := other.GenerateToken(userCaller(1), time.Hour)

	wrongIss, _ := NewJWTManager(config.SecurityConfig{JWTSecret: testSecret, JWTIssuer: "someone-else"})
	foreign, _ := wrongIss.GenerateToken(userCaller(1), time.Hour)

	expired, _ := m.GenerateToken(userCaller(1), -time.Minute)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"wrong key":    wrongKey,
		"wrong issuer": foreign,
		"expired":      expired,
		"alg none":     unsigned,
		"garbage":      "not.a.token",
		"tampered":     good[:len(good)-2] + "xx",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := m.ValidateToken(token); err == nil {
				t.Error("ValidateToken() succeeded")
			}
		})
	}
}

func TestCallerFromClaimsDefaultsRole(t *testing.T) {
	c, err := CallerFromClaims(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "9"}})
	if err != nil || !c.HasRole(models.RoleUser) || c.Anonymous {
		t.Errorf("CallerFromClaims() = %+v, %v", c, err)
	}
	if _, err := CallerFromClaims(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}}); err == nil {
		t.Error("non-numeric subject accepted")
	}
}

func recordError(w http.ResponseWriter, _ *http.Request, err error) {
	w.WriteHeader(models.KindOf(err).HTTPStatus())
}

func TestMiddleware(t *testing.T) {
	mw, err := NewMiddleware(testConfig(), recordError)
	if err != nil {
		t.Fatal(err)
	}
	token, _ := mw.Manager().GenerateToken(userCaller(7), time.Hour)

	var seen models.Caller
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFrom(r.Context())
	}))

	tests := []struct {
		name      string
		setup     func(r *http.Request)
		wantCode  int
		anonymous bool
	}{
		{name: "no token", setup: func(*http.Request) {}, wantCode: http.StatusOK, anonymous: true},
		{name: "bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, wantCode: http.StatusOK},
		{name: "cookie", setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: token}) }, wantCode: http.StatusOK},
		{name: "bad token", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = models.Caller{}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Code == http.StatusOK && seen.Anonymous != tt.anonymous {
				t.Errorf("caller = %+v", seen)
			}
		})
	}
}

func TestMiddlewareNoneMode(t *testing.T) {
	mw, err := NewMiddleware(config.SecurityConfig{AuthMode: "none"}, recordError)
	if err != nil {
		t.Fatal(err)
	}
	var seen models.Caller
	h := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if !seen.Anonymous {
		t.Errorf("caller = %+v, want anonymous", seen)
	}
}

func TestRequireAuthenticated(t *testing.T) {
	h := RequireAuthenticated(recordError)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCaller(req.Context(), userCaller(1)))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", rec.Code)
	}
}

func TestParseAuthMode(t *testing.T) {
	if m, err := ParseAuthMode(""); err != nil || m != AuthModeNone {
		t.Errorf("ParseAuthMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseAuthMode("oidc"); err == nil {
		t.Error("ParseAuthMode(oidc) succeeded")
	}
}
