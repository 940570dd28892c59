// Package auth verifies caller credentials and pins the acting group into
// the request context exactly once per request. Handlers read the group from
// the context and never from the payload, which removes group spoofing as a
// bug class.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// PublicGroup is the acting group of unauthenticated discovery requests.
const PublicGroup = "public"

// Verifier checks a credential and returns the group set it grants. The
// first group is the acting group unless a hint selects another.
type Verifier interface {
	Verify(ctx context.Context, token string) ([]string, error)
}

// StaticVerifier maps exact token strings to group sets. Deployments use it
// for development and fixtures; production uses JWTVerifier.
type StaticVerifier map[string][]string

func (v StaticVerifier) Verify(_ context.Context, token string) ([]string, error) {
	groups, ok := v[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return groups, nil
}

// JWTVerifier validates HS256-signed tokens. The groups claim carries the
// caller's group set, either as a JSON array or a single string.
type JWTVerifier struct {
	Secret []byte
}

func (v JWTVerifier) Verify(_ context.Context, token string) ([]string, error) {
	tok, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return v.Secret, nil },
		jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token expired: %w", err)
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token: unexpected claims shape")
	}
	switch groups := claims["groups"].(type) {
	case []any:
		out := make([]string, 0, len(groups))
		for _, g := range groups {
			if s, ok := g.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		if groups != "" {
			return []string{groups}, nil
		}
	}
	return nil, nil
}
