// Package errors classifies gcpal failures for the CLI and the server.
//
// It is imported as errwrap to avoid shadowing the standard library.
package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Kind is a coarse failure class.
type Kind string

const (
	KindInternal        Kind = "INTERNAL_ERROR"
	KindExternalService Kind = "EXTERNAL_SERVICE_ERROR"
	KindNotFound        Kind = "NOT_FOUND"
	KindAlreadyExists   Kind = "ALREADY_EXISTS"
	KindAccessDenied    Kind = "ACCESS_DENIED"
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	KindConflict        Kind = "FAILED_PRECONDITION"
	KindThrottled       Kind = "THROTTLED"
	KindTimeout         Kind = "TIMEOUT"
	KindCanceled        Kind = "CANCELED"
)

// Error is a classified error carrying a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// WrapInternal wraps err as an internal failure. A cancelled context is
// reported as such instead.
func WrapInternal(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}
	kind := KindInternal
	if ctx != nil && ctx.Err() != nil {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(msg string) error {
	return &Error{Kind: KindExternalService, Message: msg}
}

// Classify returns the kind of err. Errors carrying a gcp sentinel map to
// the matching kind; anything else is internal.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Kind
	}
	switch {
	case gcp.IsNotFound(err):
		return KindNotFound
	case gcp.IsAlreadyExists(err):
		return KindAlreadyExists
	case gcp.IsAccessDenied(err), errors.Is(err, gcp.ErrInvalidCredentials):
		return KindAccessDenied
	case gcp.IsInvalidArgument(err), errors.Is(err, gcp.ErrInvalidPath):
		return KindInvalidArgument
	case errors.Is(err, gcp.ErrFailedPrecondition):
		return KindConflict
	case errors.Is(err, gcp.ErrThrottled):
		return KindThrottled
	case errors.Is(err, gcp.ErrUnavailable):
		return KindExternalService
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

var statusByKind = map[Kind]int{
	KindInternal:        http.StatusInternalServerError,
	KindExternalService: http.StatusBadGateway,
	KindNotFound:        http.StatusNotFound,
	KindAlreadyExists:   http.StatusConflict,
	KindAccessDenied:    http.StatusForbidden,
	KindInvalidArgument: http.StatusBadRequest,
	KindConflict:        http.StatusPreconditionFailed,
	KindThrottled:       http.StatusTooManyRequests,
	KindTimeout:         http.StatusGatewayTimeout,
	KindCanceled:        499,
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	return statusByKind[Classify(err)]
}

// Describe returns the status, code and message the server sends for err.
// Internal errors keep their detail out of the message.
func Describe(err error) (status int, code, message string) {
	kind := Classify(err)
	message = err.Error()
	if kind == KindInternal {
		message = "internal error"
		var e *Error
		if errors.As(err, &e) {
			message = e.Message
		}
	}
	return statusByKind[kind], string(kind), message
}
