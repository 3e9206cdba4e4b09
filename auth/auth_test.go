package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed, err := TestToken(secret, "user-123", time.Minute*5)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	a := New(nil, "", "", secret)

	userID, err := a.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDChecksAudienceAndIssuer(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://other",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	a := New(nil, "api://aud", "https://issuer/", secret)
	if _, err := a.UserIDFromToken(signed); !errors.Is(err, ErrUnauthorized) || !strings.Contains(err.Error(), "invalid audience") {
		t.Fatalf("expected invalid audience, got %v", err)
	}
}

func TestUserIDRejectsBadTokens(t *testing.T) {
	secret := []byte("test-secret")
	a := New(nil, "", "", secret)
	wrong, _ := TestToken([]byte("other-secret"), "user", time.Minute)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString(secret)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)

	tests := []struct {
		name   string
		header string
	}{
		{name: "empty", header: ""},
		{name: "no bearer", header: "Token abc.def.ghi"},
		{name: "not a jwt", header: "Bearer abc"},
		{name: "wrong secret", header: "Bearer " + wrong},
		{name: "expired", header: "Bearer " + expired},
		{name: "missing sub", header: "Bearer " + noSub},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.UserIDFromAuthHeader(tt.header); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected unauthorized for %q, got %v", tt.header, err)
			}
		})
	}
}

func TestJWKSModeWithoutKeys(t *testing.T) {
	a := New(nil, "", "", nil)
	if a.TestMode() {
		t.Fatal("test mode enabled without secret")
	}
	signed, _ := TestToken([]byte("secret"), "user", time.Minute)
	if _, err := a.UserIDFromToken(signed); err == nil {
		t.Fatal("expected HS256 token to be rejected in JWKS mode")
	}
}

func TestClockSkewAllowance(t *testing.T) {
	secret := []byte("test-secret")
	a := New(nil, "", "", secret)
	sign := func(exp, nbf time.Time) string {
		t.Helper()
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user",
			ExpiresAt: jwt.NewNumericDate(exp),
			NotBefore: jwt.NewNumericDate(nbf),
		}}).SignedString(secret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	now := time.Now()

	tests := []struct {
		name string
		tok  string
		ok   bool
	}{
		{name: "just expired", tok: sign(now.Add(-20*time.Second), now.Add(-time.Hour)), ok: true},
		{name: "clock slightly behind", tok: sign(now.Add(time.Hour), now.Add(20*time.Second)), ok: true},
		{name: "long expired", tok: sign(now.Add(-5*time.Minute), now.Add(-time.Hour)), ok: false},
		{name: "far future nbf", tok: sign(now.Add(time.Hour), now.Add(5*time.Minute)), ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.UserIDFromToken(tt.tok)
			if (err == nil) != tt.ok {
				t.Fatalf("ok=%v, err=%v", tt.ok, err)
			}
		})
	}
}

func TestTestTokenRequiresSecret(t *testing.T) {
	if _, err := TestToken(nil, "user", time.Minute); err == nil {
		t.Fatal("expected error without secret")
	}
}
