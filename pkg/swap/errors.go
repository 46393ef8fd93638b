package swap

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes everything that can end an attempt
type ErrorKind string

const (
	KindUnauthenticated       ErrorKind = "unauthenticated"
	KindValidation            ErrorKind = "validation"
	KindBackendRejected       ErrorKind = "backend_rejected"
	KindBackendUnreachable    ErrorKind = "backend_unreachable"
	KindUserDeclined          ErrorKind = "user_declined_signature"
	KindChainSubmissionFailed ErrorKind = "chain_submission_failed"
	KindConfirmationTimeout   ErrorKind = "confirmation_timeout"
	KindConfirmationReverted  ErrorKind = "confirmation_reverted"
)

// Kinds lists every error kind
var Kinds = []ErrorKind{
	KindUnauthenticated,
	KindValidation,
	KindBackendRejected,
	KindBackendUnreachable,
	KindUserDeclined,
	KindChainSubmissionFailed,
	KindConfirmationTimeout,
	KindConfirmationReverted,
}

// Category returns a human-readable category
func (k ErrorKind) Category() string {
	switch k {
	case KindUnauthenticated:
		return "Not signed in"
	case KindValidation:
		return "Invalid amount"
	case KindBackendRejected:
		return "Order rejected"
	case KindBackendUnreachable:
		return "Backend unreachable"
	case KindUserDeclined:
		return "Signature declined"
	case KindChainSubmissionFailed:
		return "Transaction not sent"
	case KindConfirmationTimeout:
		return "Confirmation pending"
	case KindConfirmationReverted:
		return "Transaction reverted"
	default:
		return string(k)
	}
}

// Ambiguous reports whether the kind leaves the outcome undecided
// rather than failed
func (k ErrorKind) Ambiguous() bool {
	return k == KindConfirmationTimeout
}

// Error is the only error shape an attempt ends with
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError creates an error of the given kind
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// KindOf returns the kind of err, or "" when err is not a classified error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinels for errors.Is checks
var (
	ErrUnauthenticated       = &Error{Kind: KindUnauthenticated}
	ErrValidation            = &Error{Kind: KindValidation}
	ErrBackendRejected       = &Error{Kind: KindBackendRejected}
	ErrBackendUnreachable    = &Error{Kind: KindBackendUnreachable}
	ErrUserDeclined          = &Error{Kind: KindUserDeclined}
	ErrChainSubmissionFailed = &Error{Kind: KindChainSubmissionFailed}
	ErrConfirmationTimeout   = &Error{Kind: KindConfirmationTimeout}
	ErrConfirmationReverted  = &Error{Kind: KindConfirmationReverted}
)

// classify turns whatever a collaborator returned into a *Error,
// falling back to the given kind for unclassified errors
func classify(err error, fallback ErrorKind, what string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(fallback, err, "%s", what)
}
