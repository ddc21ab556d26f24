package upload

import (
	"errors"
	"fmt"
)

// Kind categorizes why the pipeline rejected or failed an upload.
type Kind string

const (
	// Client-caused rejections, reported as HTTP 400.
	KindEmpty               Kind = "empty"
	KindTooLarge            Kind = "too_large"
	KindDisallowedExtension Kind = "disallowed_extension"
	KindDisallowedMime      Kind = "disallowed_mime"
	KindInvalidPath         Kind = "invalid_path"
	KindContentMismatch     Kind = "content_mismatch"

	// Storage failures, not attributable to the caller.
	KindAlreadyExists Kind = "already_exists"
	KindIOError       Kind = "io_error"
)

// Error is the terminal outcome of a failed validation step. It carries the
// Kind for programmatic handling and a message safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// ClientError reports whether the failure was caused by the request itself
// rather than by storage. Client errors terminate only the current request.
func (e *Error) ClientError() bool {
	switch e.Kind {
	case KindAlreadyExists, KindIOError:
		return false
	}
	return true
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf extracts the Kind from err, or KindIOError when err is not a
// pipeline error.
func KindOf(err error) Kind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindIOError
}
