package jwt

import (
	"errors"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "brand")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := svc.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != userID || claims.Role != "brand" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestExpiredAndForeignTokens(t *testing.T) {
	expired := NewService("secret", -time.Minute)
	token, err := expired.GenerateAccessToken(uuid.New(), "admin")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := expired.ValidateAccessToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}

	other := NewService("other", time.Minute)
	token, _ = other.GenerateAccessToken(uuid.New(), "admin")
	if _, err := NewService("secret", time.Minute).ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRejectsWrongIssuer(t *testing.T) {
	svc := NewService("secret", time.Minute)
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, Claims{
		Role: "admin",
		Type: TokenTypeAccess,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   uuid.New().String(),
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateAccessToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
