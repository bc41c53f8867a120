package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/fieldsync/internal/fault"
)

// TokenSource supplies the bearer token for every remote call.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token() (string, error) {
	return string(s), nil
}

// bearer returns the token for op, refusing tokens that are already expired.
//
// The signature is not verified here; the server does that. Checking expiry
// locally saves a round-trip and surfaces authorization failures while
// offline, before any intent is sent.
func bearer(src TokenSource, op string, now time.Time) (string, error) {
	if src == nil {
		return "", nil
	}
	tok, err := src.Token()
	if err != nil {
		return "", fault.Wrap(fault.Authorization, op, err)
	}
	if tok == "" {
		return "", fault.New(fault.Authorization, op, "no session token")
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return "", fault.Wrap(fault.Authorization, op, fmt.Errorf("malformed session token: %w", err))
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return "", fault.New(fault.Authorization, op, "session token expired")
	}
	return tok, nil
}

// Subject returns the "sub" claim of tok without verifying it. The operator
// id is taken from here when configuration does not name one.
func Subject(tok string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("session token has no subject")
	}
	return claims.Subject, nil
}
