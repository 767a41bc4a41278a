package auth

import (
	"errors"
	"net/http"
)

// Kind classifies authentication failures
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindValidation
	KindCSRFMismatch
	KindProvider
	KindTransport
	KindAccessDenied
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration_error"
	case KindValidation:
		return "validation_error"
	case KindCSRFMismatch:
		return "csrf_mismatch"
	case KindProvider:
		return "provider_error"
	case KindTransport:
		return "transport_error"
	case KindAccessDenied:
		return "access_denied"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown_error"
	}
}

// Error is returned by every Handlers operation. Message is safe to show to
// the end user; Err carries the underlying cause for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Sentinels for errors.Is; they match any *Error of the same kind
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrValidation      = &Error{Kind: KindValidation}
	ErrCSRFMismatch    = &Error{Kind: KindCSRFMismatch}
	ErrProvider        = &Error{Kind: KindProvider}
	ErrTransport       = &Error{Kind: KindTransport}
	ErrAccessDenied    = &Error{Kind: KindAccessDenied}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
)

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := "auth"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else {
		msg += ": " + e.Kind.String()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A target with an Op also
// requires the same operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the first *Error in err's chain, or 0
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}

// StatusCode maps an error to the HTTP status its response should carry.
// Provider failures during refresh mean the session is gone, so they are
// reported as 401 rather than 502.
func StatusCode(err error) int {
	var authErr *Error
	if !errors.As(err, &authErr) {
		return http.StatusInternalServerError
	}

	switch authErr.Kind {
	case KindValidation, KindCSRFMismatch:
		return http.StatusBadRequest
	case KindProvider:
		if authErr.Op == opRefresh {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	case KindAccessDenied:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
