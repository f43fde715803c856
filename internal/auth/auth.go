// Package auth supplies access tokens to the chat client and verifies them on
// the reference backend.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CredentialProvider returns a short-lived access token on demand. An empty
// token with a nil error means no credential is available.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to CredentialProvider.
type ProviderFunc func(ctx context.Context) (string, error)

// AccessToken calls f.
func (f ProviderFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken always returns the same token.
type StaticToken string

// AccessToken returns the token.
func (t StaticToken) AccessToken(context.Context) (string, error) {
	return string(t), nil
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope,omitempty"`
}

// DevTokenIssuer mints HS256 tokens for a fixed user. It lets the CLI talk to
// a backend sharing the same secret without an identity provider.
type DevTokenIssuer struct {
	Secret string
	UserID string
	TTL    time.Duration
	Now    func() time.Time
}

// AccessToken signs a fresh token for the configured user.
func (d DevTokenIssuer) AccessToken(context.Context) (string, error) {
	if d.Secret == "" || d.UserID == "" {
		return "", nil
	}
	return IssueToken(d.Secret, d.UserID, d.ttl(), d.now())
}

func (d DevTokenIssuer) ttl() time.Duration {
	if d.TTL <= 0 {
		return 15 * time.Minute
	}
	return d.TTL
}

func (d DevTokenIssuer) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// IssueToken signs an HS256 token whose subject is userID.
func IssueToken(secret, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: []string{"chat"},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
