package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrAuthRequired      = errors.New("authentication required")
	ErrTooLarge          = errors.New("file too large")
	ErrRemoteUnavailable = errors.New("remote service unavailable")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrRateLimited        = errors.New("too many attempts, try again later")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("file too large: %d bytes exceeds %d", e.Size, e.Limit)
}

func (e *TooLargeError) Is(target error) bool { return target == ErrTooLarge }

// RemoteError is a transport or provider failure normalized at an adapter boundary.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return e.Op + ": remote unavailable"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *RemoteError) Unwrap() error { return e.Err }

func (e *RemoteError) Is(target error) bool { return target == ErrRemoteUnavailable }

func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}

// FailureReason renders err as the message shown to a shopper.
func FailureReason(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		if ve.Field == "" {
			return ve.Reason
		}
		return ve.Field + " " + ve.Reason
	case errors.Is(err, ErrNotFound):
		return "The requested item no longer exists"
	case errors.Is(err, ErrAuthRequired):
		return "Please sign in to continue"
	case errors.Is(err, ErrTooLarge):
		return "The file is larger than the allowed size"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrEmailTaken):
		return "An account with this email already exists"
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters"
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts, please try again later"
	case errors.Is(err, ErrRemoteUnavailable):
		return "Service temporarily unavailable, please try again"
	}
	return "Something went wrong"
}
