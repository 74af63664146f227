package shared

import "errors"

var (
	// ErrNotFound indicates the target record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken indicates an identity already exists for the email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrExternalIDLinked indicates the record already carries a real provider id.
	ErrExternalIDLinked = errors.New("external id already linked")
	// ErrRetryExhausted indicates a backlog operation reached its retry ceiling.
	ErrRetryExhausted = errors.New("retry ceiling reached")
	// ErrValidation indicates the caller supplied an unusable payload.
	ErrValidation = errors.New("validation failed")
)
