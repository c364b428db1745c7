package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned by the request gate for any rejected credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken is the parent of every token verification failure.
	ErrInvalidToken     = errors.New("invalid token")
	ErrMalformed        = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrInvalidSignature = fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	ErrExpired          = fmt.Errorf("%w: expired", ErrInvalidToken)

	ErrEmptyIdentity = errors.New("identity email is required")
	ErrMissingSecret = errors.New("auth secret is not configured")
)
