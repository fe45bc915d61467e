package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"collab-server/core"
	"collab-server/stores/memory"

	"github.com/golang-jwt/jwt/v5"
)

func newGate(t *testing.T) *Gate {
	t.Helper()
	store := memory.NewStore()
	store.AddUser("u1", "Avery Quinn", "avery@example.com")
	return NewGate("test-secret", store)
}

func TestAuthenticateValidToken(t *testing.T) {
	gate := newGate(t)
	token, err := gate.IssueToken("u1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	user, err := gate.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	if user.ID != "u1" || user.DisplayName != "Avery Quinn" {
		t.Errorf("Unexpected identity: %+v", user)
	}
}

func TestAuthenticateSubjectOnly(t *testing.T) {
	gate := newGate(t)
	claims := jwt.RegisteredClaims{Subject: "u1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() failed: %v", err)
	}

	if _, err := gate.Authenticate(context.Background(), token); err != nil {
		t.Errorf("Expected subject-only token to be accepted, got %v", err)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	gate := newGate(t)
	other := NewGate("other-secret", memory.NewStore())

	expired, _ := gate.IssueToken("u1", -time.Minute)
	unknownUser, _ := gate.IssueToken("ghost", time.Hour)
	wrongKey, _ := other.IssueToken("u1", time.Hour)
	refresh, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		UserID:           "u1",
		TokenType:        "refresh",
	}).SignedString([]byte("test-secret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		UserID:    "u1",
		TokenType: "access",
	}).SignedString([]byte("test-secret"))
	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, AppClaims{UserID: "u1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"empty":         "",
		"garbage":       "not.a.jwt",
		"expired":       expired,
		"unknown user":  unknownUser,
		"wrong key":     wrongKey,
		"refresh token": refresh,
		"no expiry":     noExpiry,
		"none alg":      noneAlg,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			user, err := gate.Authenticate(context.Background(), token)
			if !errors.Is(err, core.ErrInvalidCredential) {
				t.Errorf("Expected ErrInvalidCredential, got %v", err)
			}
			if user.ID != "" {
				t.Errorf("Expected no identity, got %+v", user)
			}
		})
	}
}

func TestAuthenticateWithoutSecret(t *testing.T) {
	gate := NewGate("", memory.NewStore())
	if _, err := gate.Authenticate(context.Background(), "anything"); !errors.Is(err, core.ErrInvalidCredential) {
		t.Errorf("Expected ErrInvalidCredential, got %v", err)
	}
}
