package telephony

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	callTokenAudience   = "call-callback"
	defaultCallTokenTTL = 72 * time.Hour
)

var ErrInvalidCallToken = errors.New("telephony: invalid call token")

// CallTokens signs the internal call id into provider callback URLs so
// callbacks resolve to their call without relying on the provider id.
type CallTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCallTokens(secret string, ttl time.Duration) (*CallTokens, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: call token secret must be at least 16 bytes", ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = defaultCallTokenTTL
	}
	return &CallTokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (t *CallTokens) Sign(callID string) (string, error) {
	if callID == "" {
		return "", fmt.Errorf("%w: call id required", ErrInvalidArgument)
	}
	now := t.now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   callID,
		Audience:  jwt.ClaimStrings{callTokenAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify returns the call id carried by token.
func (t *CallTokens) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidCallToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(callTokenAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCallToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidCallToken
	}
	return claims.Subject, nil
}
