package provider

import (
	"errors"
	"fmt"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Backend errors are the gcp sentinels under backend-facing names, so a
// storage caller can test them with gcp.IsNotFound and friends.
var (
	ErrNotFound            = gcp.ErrNotFound
	ErrAlreadyExists       = gcp.ErrAlreadyExists
	ErrAccessDenied        = gcp.ErrAccessDenied
	ErrInvalidCredentials  = gcp.ErrInvalidCredentials
	ErrProviderUnavailable = gcp.ErrUnavailable
	ErrThrottled           = gcp.ErrThrottled

	// ErrBucketNotFound is a not-found error naming the bucket level.
	ErrBucketNotFound = fmt.Errorf("bucket %w", gcp.ErrNotFound)

	// ErrBucketNotEmpty is returned by DeleteBucket while objects remain.
	ErrBucketNotEmpty = fmt.Errorf("bucket not empty: %w", gcp.ErrFailedPrecondition)
)

// ProviderError records which backend call failed on which gs:// path.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

// Path renders the bucket and key as a gs:// path, or "" when the call was
// not bucket scoped.
func (e *ProviderError) Path() string {
	switch {
	case e.Bucket == "":
		return ""
	case e.Key == "":
		return "gs://" + e.Bucket
	}
	return "gs://" + e.Bucket + "/" + e.Key
}

func (e *ProviderError) Error() string {
	if p := e.Path(); p != "" {
		return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, p, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsNotFound reports a missing object or bucket.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBucketNotFound reports a missing bucket only.
func IsBucketNotFound(err error) bool { return errors.Is(err, ErrBucketNotFound) }
