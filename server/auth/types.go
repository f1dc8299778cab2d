// Package auth authenticates CalDAV clients with HTTP Basic credentials.
package auth

import (
	"context"
	"fmt"
)

// Principal is an authenticated user.
type Principal struct {
	ID string
}

// Credentials are the username and password a client sent.
type Credentials struct {
	Username string
	Password string
}

// ErrorType classifies an authentication failure.
type ErrorType string

const (
	ErrInvalidCredentials ErrorType = "invalid_credentials"
	ErrUnauthorized       ErrorType = "unauthorized"
	ErrForbidden          ErrorType = "forbidden"
)

// Error is an authentication or authorization failure.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsForbidden reports whether err denies access to an authenticated principal.
func IsForbidden(err error) bool {
	aerr, ok := err.(*Error)
	return ok && aerr.Type == ErrForbidden
}

// Authenticator checks credentials and resource ownership.
type Authenticator interface {
	// Authenticate validates credentials and returns the principal they belong to.
	Authenticate(ctx context.Context, creds Credentials) (*Principal, error)

	// ValidateAccess checks that principal may access resources owned by ownerID.
	// An empty ownerID names the service root, open to every principal.
	ValidateAccess(ctx context.Context, principal *Principal, ownerID string) error
}

type contextKey string

// PrincipalContextKey is the context key for the authenticated principal.
const PrincipalContextKey contextKey = "principal"

// GetPrincipalFromContext retrieves the authenticated principal from the context.
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}
