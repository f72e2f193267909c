package gcp

import (
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for resource operations.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a create collided with an existing resource.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the service is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")

	// ErrFailedPrecondition indicates the resource is not in a state that allows the operation.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrInvalidArgument indicates the request was rejected as malformed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidPath indicates a path string could not be parsed.
	ErrInvalidPath = errors.New("invalid path")
)

// ResourceError wraps service errors with the operation and resource involved.
type ResourceError struct {
	// Op is the operation that failed (e.g., "Ls", "Create").
	Op string

	// Service is the short service name (e.g., "storage", "pubsub").
	Service string

	// Resource is the resource path, if applicable.
	Resource string

	// Err is the classified error. It is one of the sentinels when the
	// vendor error could be classified.
	Err error

	// Cause is the original vendor error, if Err was replaced by a sentinel.
	Cause error
}

// Error implements the error interface.
func (e *ResourceError) Error() string {
	msg := e.Err.Error()
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Resource != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Service, e.Op, e.Resource, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.Service, e.Op, msg)
}

// Unwrap returns both the classified and the original error for errors.Is/As support.
func (e *ResourceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Wrap classifies a vendor SDK error and attaches operation context.
//
// nil and iterator.Done are returned unchanged. Errors that are already a
// *ResourceError are returned as-is so nested helpers don't double-wrap.
func Wrap(service, op, resource string, err error) error {
	if err == nil || errors.Is(err, iterator.Done) {
		return err
	}
	var re *ResourceError
	if errors.As(err, &re) {
		return err
	}

	sentinel := Classify(err)
	if sentinel == nil {
		return &ResourceError{Op: op, Service: service, Resource: resource, Err: err}
	}
	if errors.Is(err, sentinel) {
		return &ResourceError{Op: op, Service: service, Resource: resource, Err: err}
	}
	return &ResourceError{Op: op, Service: service, Resource: resource, Err: sentinel, Cause: err}
}

// Classify maps a vendor error to one of the package sentinels.
// It returns nil when the error has no known classification.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, s := range []error{
		ErrNotFound, ErrAlreadyExists, ErrAccessDenied, ErrInvalidCredentials,
		ErrUnavailable, ErrThrottled, ErrFailedPrecondition, ErrInvalidArgument, ErrInvalidPath,
	} {
		if errors.Is(err, s) {
			return s
		}
	}

	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return ErrNotFound
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if c := fromGRPCCode(apiErr.GRPCStatus().Code()); c != nil {
			return c
		}
		if c := fromHTTPStatus(apiErr.HTTPCode()); c != nil {
			return c
		}
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if c := fromHTTPStatus(gErr.Code); c != nil {
			return c
		}
	}

	// Only typed errors are classified. Message text is never matched.
	if st, ok := status.FromError(err); ok {
		if c := fromGRPCCode(st.Code()); c != nil {
			return c
		}
	}
	return nil
}

func fromGRPCCode(code codes.Code) error {
	switch code {
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return ErrAlreadyExists
	case codes.PermissionDenied:
		return ErrAccessDenied
	case codes.Unauthenticated:
		return ErrInvalidCredentials
	case codes.Unavailable, codes.Internal:
		return ErrUnavailable
	case codes.ResourceExhausted:
		return ErrThrottled
	case codes.FailedPrecondition:
		return ErrFailedPrecondition
	case codes.InvalidArgument, codes.OutOfRange:
		return ErrInvalidArgument
	}
	return nil
}

func fromHTTPStatus(code int) error {
	switch code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrAlreadyExists
	case http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusUnauthorized:
		return ErrInvalidCredentials
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway:
		return ErrUnavailable
	case http.StatusPreconditionFailed:
		return ErrFailedPrecondition
	case http.StatusBadRequest:
		return ErrInvalidArgument
	}
	return nil
}

// IsNotFound returns true if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists returns true if the error indicates the resource already exists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsUnavailable returns true if the error indicates the service is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsFailedPrecondition returns true if the error indicates a failed precondition.
func IsFailedPrecondition(err error) bool {
	return errors.Is(err, ErrFailedPrecondition)
}

// IsInvalidPath returns true if the error came from path parsing.
func IsInvalidPath(err error) bool {
	return errors.Is(err, ErrInvalidPath)
}

// IsInvalidArgument returns true if the request or its options were rejected as malformed.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}
