package auth

import (
	"errors"
	"fmt"
)

// ValidationError carries a message that is safe to show the user.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(msg string) error { return &ValidationError{Msg: msg} }

var (
	ErrConflict          = errors.New("conflict")
	ErrDuplicateUsername = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrDuplicateEmail    = fmt.Errorf("%w: email already registered", ErrConflict)

	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrChallengeFailed    = errors.New("challenge verification failed")
	ErrUnknownEmail       = errors.New("no account with that email")
)
