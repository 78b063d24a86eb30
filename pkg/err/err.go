package errprocess

import (
	"context"
	"errors"
	"fmt"

	"video_merge_service/pkg/logger"
)

// Kind classifies a failure before it crosses the service boundary.
type Kind string

const (
	// KindValidation bad request: too few inputs or quality fields out of bounds
	KindValidation Kind = "validation"
	// KindEngine the transcoding engine exited non-zero or produced no output
	KindEngine Kind = "engine"
	// KindResource workspace or file materialization failed
	KindResource Kind = "resource"
	// KindCleanup an artifact could not be removed; logged only
	KindCleanup Kind = "cleanup"
)

// Error is a classified failure. Message is safe to show to callers,
// Err keeps the raw cause for server-side logs.
type Error struct {
	Kind    Kind
	Message string
	// Input is the 1-based input position the failure belongs to, 0 when not input specific.
	Input int
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

// Unwrap exposes the raw cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Validation create a validation error
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Engine create an engine error for the given 1-based input (0 for none)
func Engine(input int, msg string, cause error) *Error {
	return &Error{Kind: KindEngine, Message: msg, Input: input, Err: cause}
}

// Resource create a resource error
func Resource(msg string, cause error) *Error {
	return &Error{Kind: KindResource, Message: msg, Err: cause}
}

// Cleanup create a cleanup warning
func Cleanup(path string, cause error) *Error {
	return &Error{Kind: KindCleanup, Message: fmt.Sprintf("remove %s", path), Err: cause}
}

// Classify normalizes any error into a classified *Error. Already classified
// errors pass through; cancellation becomes a resource error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Resource("job aborted before completion", err)
	}
	return Resource("internal error", err)
}

// KindOf returns the classification of err, KindResource for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

// PublicMessage returns the single human-readable message for callers; it never
// contains the raw cause.
func PublicMessage(err error) string {
	e := Classify(err)
	if e == nil {
		return ""
	}
	return e.Message
}

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}
