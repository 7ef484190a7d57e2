package auth

import (
	"context"
	"errors"
	"fmt"
)

// UnauthenticatedError reports a rejected credential. Handlers map it
// to 401; the reason is safe to return to the caller.
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	return fmt.Sprintf("unauthenticated: %s", e.Reason)
}

// IsUnauthenticated checks if an error is an authentication failure.
func IsUnauthenticated(err error) bool {
	var ue *UnauthenticatedError
	return errors.As(err, &ue)
}

// Authenticator resolves a bearer credential to an actor ID. A bad
// credential returns UnauthenticatedError; any other error is an
// infrastructure failure.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}
