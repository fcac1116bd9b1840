package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates the account is temporarily locked out.
	ErrAccountLocked = errors.New("account locked")
	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation failed")
)
