// Package identity turns bearer tokens into the ActorContext every repository
// call takes.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/scottring/ParentPulse-sub002/internal/domain"
)

type Claims struct {
	Name   string `json:"name"`
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for actor that expires after ttl.
func Issue(secret []byte, actor domain.ActorContext, ttl time.Duration) (string, error) {
	if err := actor.Validate(); err != nil {
		return "", err
	}
	if len(secret) == 0 {
		return "", errors.New("identity secret is empty")
	}
	now := time.Now()
	claims := Claims{
		Name:   actor.ActorName,
		Tenant: actor.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ActorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies token and returns the actor it names. Every failure is
// NotAuthorized.
func Parse(secret []byte, token string) (domain.ActorContext, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.ActorContext{}, domain.NotAuthorized("TOKEN_EXPIRED", "token has expired")
		}
		return domain.ActorContext{}, domain.NotAuthorized("TOKEN_INVALID", "token is invalid")
	}
	actor := domain.ActorContext{ActorID: claims.Subject, ActorName: claims.Name, TenantID: claims.Tenant}
	if err := actor.Validate(); err != nil {
		return domain.ActorContext{}, domain.NotAuthorized("TOKEN_INVALID", "token is missing actor or tenant")
	}
	return actor, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
