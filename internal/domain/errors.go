package domain

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an authentication failure. The HTTP layer derives the
// response status from it.
type Kind int

const (
	KindInternal Kind = iota
	KindMissingParameter
	KindTooManyAttempts
	KindInvalidCredential
	KindResourceNotFound
	KindConflict
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindMissingParameter:
		return "MissingParameter"
	case KindTooManyAttempts:
		return "TooManyAttempts"
	case KindInvalidCredential:
		return "InvalidCredential"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindConflict:
		return "Conflict"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Internal"
	}
}

// Error is the error value returned by the auth services.
type Error struct {
	Kind    Kind
	Message string
	// Reason is the machine readable policy reason, e.g. "cooldown".
	Reason string
	// RetryAfter is set for TooManyAttempts when a wait is known.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RetryAfterSeconds returns the wait rounded up to whole seconds.
func (e *Error) RetryAfterSeconds() int64 {
	return CeilSeconds(e.RetryAfter)
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	ok := errors.As(err, &de)
	return de, ok
}

func NewMissingParameter(message string) *Error {
	return &Error{Kind: KindMissingParameter, Message: message}
}

func NewTooManyAttempts(message, reason string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindTooManyAttempts, Message: message, Reason: reason, RetryAfter: retryAfter}
}

func NewInvalidCredential(message string) *Error {
	return &Error{Kind: KindInvalidCredential, Message: message}
}

func NewResourceNotFound(message string) *Error {
	return &Error{Kind: KindResourceNotFound, Message: message}
}

func NewConflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func NewUnauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// NewInternal wraps an infrastructure failure. The message is safe to show.
func NewInternal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// CeilSeconds rounds d up to whole seconds. Negative durations yield 0.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// FormatWait renders a wait as mm:ss.
func FormatWait(d time.Duration) string {
	secs := CeilSeconds(d)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
