package session

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/louisbranch/presence.space/internal/platform/errors"
)

// TokenCodec signs and verifies session tokens for the browser cookie.
type TokenCodec struct {
	secret []byte
}

// NewTokenCodec builds a codec over an HMAC secret.
func NewTokenCodec(secret []byte) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session token secret is required")
	}
	return &TokenCodec{secret: secret}, nil
}

// Encode signs a token binding the session id until its expiry.
func (c *TokenCodec) Encode(sessionID string, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token signature and expiry and returns the session id.
func (c *TokenCodec) Decode(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSessionUnauthorized, "invalid session token", err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperrors.New(apperrors.CodeSessionUnauthorized, "session token carries no subject")
	}
	return claims.Subject, nil
}
