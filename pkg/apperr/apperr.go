// Package apperr defines the failure kinds shared by the codec, the skill
// handlers and the storage adapters.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindMalformedRequest Kind = "malformed_request"
	KindValidationFailed Kind = "validation_failed"
	KindNotFound         Kind = "not_found"
	KindUnauthorized     Kind = "unauthorized"
	KindUpstreamFailure  Kind = "upstream_failure"
)

// Error carries a kind, a message that is safe to read back to a caller and
// the underlying cause, which is never shown to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when the target is one of the bare
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrMalformedRequest = &Error{Kind: KindMalformedRequest}
	ErrValidationFailed = &Error{Kind: KindValidationFailed}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrUpstreamFailure  = &Error{Kind: KindUpstreamFailure}
)

func Malformed(msg string, err error) *Error {
	return &Error{Kind: KindMalformedRequest, Message: msg, Err: err}
}

func Validation(msg string, err error) *Error {
	return &Error{Kind: KindValidationFailed, Message: msg, Err: err}
}

func NotFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

func Unauthorized(msg string, err error) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg, Err: err}
}

func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstreamFailure, Message: msg, Err: err}
}

// KindOf reports the kind of err. Unclassified errors count as upstream
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUpstreamFailure
}

var defaultMessages = map[Kind]string{
	KindMalformedRequest: "I couldn't read that request.",
	KindValidationFailed: "Some required details were missing or invalid.",
	KindNotFound:         "I couldn't find what you were looking for.",
	KindUnauthorized:     "I couldn't verify who you are.",
	KindUpstreamFailure:  "Something went wrong on our side. Please try again.",
}

// SafeMessage returns the caller-facing message for err. The wrapped cause
// is never included.
func SafeMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return defaultMessages[KindOf(err)]
}
