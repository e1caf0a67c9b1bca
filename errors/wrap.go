package errors

import (
	"context"
	"errors"
	"fmt"
)

// as pulls the nearest *Error out of a chain.
func as(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Wrap adds a message on top of err while keeping the chain intact.
// A nil err wraps to nil. Wrapping an existing *Error carries its
// code, category, retryability and related ids forward; a context
// deadline or cancellation maps to the matching code; anything else
// becomes an internal error.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	if inner, ok := as(err); ok {
		wrapped := &Error{
			code:      inner.code,
			category:  inner.category,
			message:   message,
			cause:     err,
			metadata:  inner.Metadata(),
			retryable: inner.retryable,
			agentID:   inner.agentID,
			taskID:    inner.taskID,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeCanceled
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// WrapWithCode wraps err under an explicit code, overriding whatever
// the chain would otherwise carry.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Is reports whether the chain carries the given error code.
func Is(err error, code ErrorCode) bool {
	if e, ok := as(err); ok {
		return e.code == code
	}
	return false
}

// IsCategory reports whether the chain carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	if e, ok := as(err); ok {
		return e.category == category
	}
	return false
}

// IsRetryable reports whether the operation may succeed on retry.
// Plain errors are treated as not retryable.
func IsRetryable(err error) bool {
	if e, ok := as(err); ok {
		return e.Retryable()
	}
	return false
}

// IsTransient reports a transient coordination failure.
func IsTransient(err error) bool { return IsCategory(err, CategoryTransient) }

// IsPermanent reports a permanent failure.
func IsPermanent(err error) bool { return IsCategory(err, CategoryPermanent) }

// IsResource reports a resource exhaustion failure, fleet or otherwise.
func IsResource(err error) bool { return IsCategory(err, CategoryResource) }

// Code returns the chain's error code, or "" for a plain error.
func Code(err error) ErrorCode {
	if e, ok := as(err); ok {
		return e.code
	}
	return ""
}

// Category returns the chain's category, or "" for a plain error.
func Category(err error) ErrorCategory {
	if e, ok := as(err); ok {
		return e.category
	}
	return ""
}

// Cause walks to the root of the chain.
func Cause(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		inner := u.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}

// RecoverPanic converts a recovered panic value into a panic-coded
// Error, so agent loops can keep running past a crashing handler.
// Returns nil for a nil recover value.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(ErrCodePanic, message, WithMetadata("panic_value", fmt.Sprintf("%T", recovered)))
}
