// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Validation          Kind = "validation_error"
	NotFound            Kind = "not_found"
	Forbidden           Kind = "forbidden"
	PriceNotConfigured  Kind = "price_not_configured"
	InsufficientFunds   Kind = "insufficient_funds"
	ProviderRejected    Kind = "provider_rejected"
	ProviderUnavailable Kind = "provider_unavailable"
	MalformedResponse   Kind = "malformed_provider_response"
	UnknownToken        Kind = "unknown_token"
	Internal            Kind = "internal_fault"
	Unauthorized        Kind = "unauthorized"
)

// Error carries a kind, a caller-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// MessageOf returns the caller-safe message. Errors without a kind never leak
// their text.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}
