package network

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	ErrChangesDisabled = errors.New("change notifications are disabled")
	ErrUnauthorized    = errors.New("unauthorized")
)

// ChangeAuthenticator verifies that a change notification comes from a holder
// of the shared secret. Tokens are HS256 JWTs sent as a Bearer header.
type ChangeAuthenticator struct {
	secret []byte
}

func NewChangeAuthenticator(secret []byte) *ChangeAuthenticator {
	return &ChangeAuthenticator{secret: secret}
}

func (a *ChangeAuthenticator) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// IssueToken signs a token for subject valid for ttl.
func (a *ChangeAuthenticator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", ErrChangesDisabled
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify checks the request's bearer token and returns its subject.
func (a *ChangeAuthenticator) Verify(r *http.Request) (string, error) {
	if !a.Enabled() {
		return "", ErrChangesDisabled
	}
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return claims.Subject, nil
}
