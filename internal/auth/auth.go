// Package auth resolves the calling user's identity from an HTTP request.
package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// UserHeader carries the user ID when header identity is enabled.
const UserHeader = "X-User-ID"

// maxUserIDLength bounds identifiers accepted from headers and tokens.
const maxUserIDLength = 128

// IdentityResolver returns the authenticated user ID for a request.
type IdentityResolver interface {
	Resolve(r *http.Request) (string, error)
}

// ResolverFunc adapts a function to IdentityResolver.
type ResolverFunc func(r *http.Request) (string, error)

// Resolve calls f(r).
func (f ResolverFunc) Resolve(r *http.Request) (string, error) {
	return f(r)
}

// HeaderResolver trusts the X-User-ID header. It exists for local development
// behind a trusted proxy and must not face the internet.
type HeaderResolver struct{}

// Resolve implements IdentityResolver.
func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get(UserHeader))
	if !validUserID(id) {
		return "", ErrUnauthenticated
	}
	return id, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthenticated
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrUnauthenticated
	}
	return parts[1], nil
}

func validUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLength {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
