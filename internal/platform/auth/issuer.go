package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Issuer mints HS256 tokens understood by JWTVerifier. Identity is owned by an
// external provider in production; the issuer backs operator tooling and tests.
type Issuer struct {
	Secret []byte
	TTL    time.Duration
}

func (i Issuer) Issue(subject, role string, now time.Time) (string, time.Time, error) {
	if len(i.Secret) == 0 {
		return "", time.Time{}, errors.New("missing jwt secret")
	}
	if subject == "" {
		return "", time.Time{}, errors.New("missing subject")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := i.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
