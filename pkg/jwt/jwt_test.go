package jwt

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewManagerRejectsEmptySecret(t *testing.T) {
	if _, err := NewManager("", "speakspace", time.Hour); err == nil {
		t.Fatal("expected an error for an empty secret")
	}
}

func TestGenerateAndValidate(t *testing.T) {
	m, err := NewManager("test-secret", "speakspace", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.GenerateToken("u1", "Alice", "https://cdn.test/alice.png")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != "u1" {
		t.Fatalf("expected user id u1, got %q", claims.UserID)
	}
	if claims.DisplayName != "Alice" {
		t.Fatalf("expected display name Alice, got %q", claims.DisplayName)
	}
	if claims.AvatarURL != "https://cdn.test/alice.png" {
		t.Fatalf("expected avatar url, got %q", claims.AvatarURL)
	}
	if claims.Issuer != "speakspace" || claims.Subject != "u1" {
		t.Fatalf("unexpected registered claims %+v", claims.RegisteredClaims)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	m, err := NewManager("test-secret", "speakspace", -time.Minute)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.GenerateToken("u1", "Alice", "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	signer, err := NewManager("secret-one", "speakspace", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	verifier, err := NewManager("secret-two", "speakspace", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := signer.GenerateToken("u1", "Alice", "")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if _, err := verifier.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	m, err := NewManager("test-secret", "speakspace", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestValidateRejectsUnsignedToken(t *testing.T) {
	m, err := NewManager("test-secret", "speakspace", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "speakspace",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "u1",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for alg none, got %v", err)
	}
}

func TestValidateRejectsMissingUserID(t *testing.T) {
	m, err := NewManager("test-secret", "speakspace", time.Hour)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "speakspace",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken without a user id, got %v", err)
	}
}
