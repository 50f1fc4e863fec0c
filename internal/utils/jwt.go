// Package utils holds the bearer token helpers shared by the HTTP
// middleware and tests.  Tokens are issued by the identity service; this
// side only needs to verify them (and, for tooling and tests, mint them).
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// Claims is what the API needs from a verified access token.
type Claims struct {
	Subject string
	Role    string
}

// NewAccessToken builds and signs an HS256 JWT carrying sub, role, exp
// and iat.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies raw with secret and extracts its claims.  Only
// HMAC signatures are accepted.  Numeric subjects (older tokens) are
// rendered as decimal strings.
func ParseAccessToken(secret, raw string) (Claims, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	var c Claims
	switch sub := mc["sub"].(type) {
	case string:
		c.Subject = sub
	case float64:
		c.Subject = fmt.Sprintf("%.0f", sub)
	}
	c.Role, _ = mc["role"].(string)
	if c.Subject == "" || c.Role == "" {
		return Claims{}, fmt.Errorf("%w: missing sub or role", ErrInvalidToken)
	}
	return c, nil
}
