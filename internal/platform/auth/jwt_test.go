package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "unit-test-session-secret"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}

	raw := mintToken(t, testSecret, jwt.MapClaims{
		"userId": "usr_123",
		"email":  "kaveri@example.com",
		"role":   "admin",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "usr_123" {
		t.Fatalf("unexpected user id %q", identity.UserID)
	}
	if !identity.IsAdmin() {
		t.Fatalf("expected admin identity")
	}
}

func TestJWTVerifierRejectsWrongSecret(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)

	raw := mintToken(t, "some-other-secret", jwt.MapClaims{
		"userId": "usr_123",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	if _, err := verifier.Verify(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTVerifierRejectsExpiredToken(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)

	raw := mintToken(t, testSecret, jwt.MapClaims{
		"userId": "usr_123",
		"exp":    time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := verifier.Verify(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestJWTVerifierDefaultsRole(t *testing.T) {
	verifier, _ := NewJWTVerifier(testSecret)

	raw := mintToken(t, testSecret, jwt.MapClaims{
		"sub": "usr_456",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != "usr_456" {
		t.Fatalf("expected subject fallback, got %q", identity.UserID)
	}
	if identity.Role != RoleUser {
		t.Fatalf("expected default role %q, got %q", RoleUser, identity.Role)
	}
}

func TestBearerToken(t *testing.T) {
	if _, ok := BearerToken("Basic abc"); ok {
		t.Fatalf("Basic scheme should not parse")
	}
	if _, ok := BearerToken(""); ok {
		t.Fatalf("empty header should not parse")
	}
	token, ok := BearerToken("Bearer abc.def.ghi")
	if !ok || token != "abc.def.ghi" {
		t.Fatalf("unexpected parse result %q %v", token, ok)
	}
}
