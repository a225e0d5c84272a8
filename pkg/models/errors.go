package models

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every evaluation stage. Stages wrap these with
// context using fmt.Errorf("...: %w", ...); callers classify with errors.Is.
var (
	ErrInvalidAudio      = errors.New("invalid audio")
	ErrInvalidKey        = errors.New("invalid reference key")
	ErrReferenceNotFound = errors.New("reference not found")
	ErrShapeMismatch     = errors.New("spectrogram shape mismatch")
	ErrInternal          = errors.New("internal error")
)

// Category is the boundary-level classification of a failure.
type Category string

const (
	CategoryNone     Category = ""
	CategoryClient   Category = "client"
	CategoryNotFound Category = "not_found"
	CategoryServer   Category = "server"
	CategoryTimeout  Category = "timeout"
)

// InvalidAudio returns an error wrapping ErrInvalidAudio.
func InvalidAudio(format string, args ...any) error {
	return wrap(ErrInvalidAudio, format, args...)
}

// InvalidKey returns an error wrapping ErrInvalidKey.
func InvalidKey(format string, args ...any) error {
	return wrap(ErrInvalidKey, format, args...)
}

// NotFound returns an error wrapping ErrReferenceNotFound.
func NotFound(format string, args ...any) error {
	return wrap(ErrReferenceNotFound, format, args...)
}

// ShapeMismatch returns an error wrapping ErrShapeMismatch.
func ShapeMismatch(format string, args ...any) error {
	return wrap(ErrShapeMismatch, format, args...)
}

// Internal wraps cause as an ErrInternal while keeping it reachable through
// errors.Is and errors.As for logging.
func Internal(cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, ErrInternal) {
		return cause
	}
	return &internalError{cause: cause}
}

type internalError struct {
	cause error
}

func (e *internalError) Error() string   { return ErrInternal.Error() + ": " + e.cause.Error() }
func (e *internalError) Unwrap() []error { return []error{ErrInternal, e.cause} }

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategoryOf maps an error onto its boundary category. Unknown errors are
// server faults.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrInvalidAudio), errors.Is(err, ErrInvalidKey):
		return CategoryClient
	case errors.Is(err, ErrReferenceNotFound):
		return CategoryNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CategoryTimeout
	default:
		return CategoryServer
	}
}

// PublicMessage returns the text that may be shown to the caller. Client and
// not-found failures expose their message; everything else is generic so that
// internal causes only ever reach the logs.
func PublicMessage(err error) string {
	switch CategoryOf(err) {
	case CategoryNone:
		return ""
	case CategoryClient, CategoryNotFound:
		return err.Error()
	case CategoryTimeout:
		return "evaluation timed out"
	default:
		return "evaluation failed"
	}
}
