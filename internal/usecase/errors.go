package usecase

import (
	"context"
	"errors"
	"fmt"

	"messenger/internal/domain"
	"messenger/internal/repository"
)

type ErrorCode string

const (
	ErrorInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrorNotFound         ErrorCode = "NOT_FOUND"
	ErrorConflict         ErrorCode = "CONFLICT"
	ErrorTransientStorage ErrorCode = "TRANSIENT_STORAGE"
	ErrorInternal         ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// storageError classifies a store failure into an error kind.
func storageError(reason string, err error) *Error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newError(ErrorNotFound, reason, err)
	case errors.Is(err, domain.ErrConflict):
		return newError(ErrorConflict, reason, err)
	case errors.Is(err, context.Canceled), repository.IsTransient(err):
		return newError(ErrorTransientStorage, reason, err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}

// CodeOf returns the error kind of err, or ErrorInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrorInternal
}

// IsRetryable reports whether the caller may retry the failed operation as is.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrorTransientStorage, ErrorConflict:
		return true
	}
	return false
}
