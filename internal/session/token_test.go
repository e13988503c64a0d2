package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, err := svc.Issue("session-123")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if claims.Subject != "session-123" {
		t.Errorf("Subject = %q, want session-123", claims.Subject)
	}
	if claims.Type != TokenTypeSession {
		t.Errorf("Type = %q, want %q", claims.Type, TokenTypeSession)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Hour {
		t.Errorf("lifetime = %v, want 1h", got)
	}
}

func TestTokenService_EmptySessionID(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	if _, err := svc.Issue(""); !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("Issue() error = %v, want ErrEmptySessionID", err)
	}
}

// TestTokenService_Expired tests that tokens past their expiry plus leeway
// are rejected with ErrExpiredToken.
func TestTokenService_Expired(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }

	token, err := svc.Issue("session-123")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Validate(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Validate() error = %v, want ErrExpiredToken", err)
	}
}

func TestTokenService_WithinLeeway(t *testing.T) {
	svc := NewTokenService("test-secret", time.Minute)
	issued := time.Now().Add(-time.Minute - 10*time.Second)
	svc.now = func() time.Time { return issued }

	token, err := svc.Issue("session-123")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	svc.now = time.Now
	if _, err := svc.Validate(token); err != nil {
		t.Errorf("Validate() error = %v, want nil within leeway", err)
	}
}

func TestTokenService_WrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", time.Hour).Issue("session-123")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := NewTokenService("secret-b", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

// TestTokenService_Rotation tests that tokens signed with the previous secret
// stay valid during rotation while new tokens use the current secret.
func TestTokenService_Rotation(t *testing.T) {
	old := NewTokenService("old-secret", time.Hour)
	oldToken, err := old.Issue("session-123")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	rotated := NewTokenServiceWithRotation("new-secret", "old-secret", time.Hour)
	if _, err := rotated.Validate(oldToken); err != nil {
		t.Errorf("Validate(old token) error: %v", err)
	}

	newToken, err := rotated.Issue("session-456")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if _, err := old.Validate(newToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("old service accepted token signed with new secret: %v", err)
	}
}

func TestTokenService_RejectsOtherTokenTypes(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: "access",
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}

	svc := NewTokenService("test-secret", time.Hour)
	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenService_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "session-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: TokenTypeSession,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}

	svc := NewTokenService("test-secret", time.Hour)
	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}
