package auth

import (
	"context"
	"regexp"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidToken is returned when the identity service rejects a token.
	ErrInvalidToken = errors.New("invalid user token")
	// ErrNoPrincipal is returned when the identity service accepts a token
	// but reports no user id.
	ErrNoPrincipal = errors.New("unable to verify user")
)

// Principal is the authenticated caller of one request.
type Principal struct {
	ID string
}

// Verifier resolves a bearer token to a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// AdminDirectory answers whether a principal is an administrator. A lookup
// that fails must return an error, never false.
type AdminDirectory interface {
	IsAdmin(ctx context.Context, principalID string) (bool, error)
}

var bearerPrefix = regexp.MustCompile(`(?i)^Bearer\s+`)

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	return strings.TrimSpace(bearerPrefix.ReplaceAllString(header, ""))
}
