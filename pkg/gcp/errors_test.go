package gcp

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "grpc not found", err: status.Error(codes.NotFound, "no such topic"), want: ErrNotFound},
		{name: "grpc already exists", err: status.Error(codes.AlreadyExists, "dup"), want: ErrAlreadyExists},
		{name: "grpc permission denied", err: status.Error(codes.PermissionDenied, "nope"), want: ErrAccessDenied},
		{name: "grpc unauthenticated", err: status.Error(codes.Unauthenticated, "who"), want: ErrInvalidCredentials},
		{name: "grpc unavailable", err: status.Error(codes.Unavailable, "down"), want: ErrUnavailable},
		{name: "grpc resource exhausted", err: status.Error(codes.ResourceExhausted, "slow"), want: ErrThrottled},
		{name: "grpc failed precondition", err: status.Error(codes.FailedPrecondition, "paused"), want: ErrFailedPrecondition},
		{name: "grpc invalid argument", err: status.Error(codes.InvalidArgument, "bad"), want: ErrInvalidArgument},
		{name: "grpc unknown", err: status.Error(codes.Unknown, "??"), want: nil},
		{name: "http 404", err: &googleapi.Error{Code: http.StatusNotFound}, want: ErrNotFound},
		{name: "http 409", err: &googleapi.Error{Code: http.StatusConflict}, want: ErrAlreadyExists},
		{name: "http 403", err: &googleapi.Error{Code: http.StatusForbidden}, want: ErrAccessDenied},
		{name: "http 429", err: &googleapi.Error{Code: http.StatusTooManyRequests}, want: ErrThrottled},
		{name: "http 503", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, want: ErrUnavailable},
		{name: "wrapped http 404", err: fmt.Errorf("get: %w", &googleapi.Error{Code: 404}), want: ErrNotFound},
		{name: "storage object missing", err: storage.ErrObjectNotExist, want: ErrNotFound},
		{name: "storage bucket missing", err: storage.ErrBucketNotExist, want: ErrNotFound},
		{name: "sentinel passthrough", err: fmt.Errorf("x: %w", ErrInvalidPath), want: ErrInvalidPath},
		{name: "plain error", err: errors.New("boom"), want: nil},
		{name: "not found text only", err: errors.New("Not found in cache"), want: nil},
		{name: "notFound reason text", err: fmt.Errorf("lookup: %w", errors.New("notFound: key")), want: nil},
		{name: "already exists text only", err: errors.New("Already exists: cached"), want: nil},
		{name: "grpc status keeps its code", err: status.Error(codes.Unknown, "Not found"), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap("pubsub", "Get", "t", nil))
	})

	t.Run("iterator done is not wrapped", func(t *testing.T) {
		err := Wrap("pubsub", "Ls", "", iterator.Done)
		assert.Same(t, iterator.Done, err)
	})

	t.Run("classified error keeps cause", func(t *testing.T) {
		cause := status.Error(codes.NotFound, "topic missing")
		err := Wrap("pubsub", "Get", "projects/p/topics/t", cause)

		var re *ResourceError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, "Get", re.Op)
		assert.Equal(t, "pubsub", re.Service)
		assert.Equal(t, "projects/p/topics/t", re.Resource)
		assert.True(t, IsNotFound(err))

		st, ok := status.FromError(re.Cause)
		require.True(t, ok)
		assert.Equal(t, codes.NotFound, st.Code())
		assert.Contains(t, err.Error(), "pubsub Get: projects/p/topics/t: resource not found")
	})

	t.Run("unclassified error is kept as Err", func(t *testing.T) {
		cause := errors.New("boom")
		err := Wrap("storage", "Read", "", cause)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "storage Read: boom", err.Error())
	})

	t.Run("message mentioning not found stays unclassified", func(t *testing.T) {
		err := Wrap("firestore", "Get", "users/u1", errors.New("Not found in cache"))
		assert.False(t, IsNotFound(err))
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("already wrapped is returned as-is", func(t *testing.T) {
		inner := Wrap("storage", "Head", "gs://b/k", storage.ErrObjectNotExist)
		outer := Wrap("storage", "Read", "gs://b/k", inner)
		assert.Same(t, inner, outer)
	})
}

func TestIsHelpers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(error) bool
		err  error
	}{
		{"IsNotFound", IsNotFound, ErrNotFound},
		{"IsAlreadyExists", IsAlreadyExists, ErrAlreadyExists},
		{"IsAccessDenied", IsAccessDenied, ErrAccessDenied},
		{"IsInvalidCredentials", IsInvalidCredentials, ErrInvalidCredentials},
		{"IsUnavailable", IsUnavailable, ErrUnavailable},
		{"IsThrottled", IsThrottled, ErrThrottled},
		{"IsFailedPrecondition", IsFailedPrecondition, ErrFailedPrecondition},
		{"IsInvalidArgument", IsInvalidArgument, ErrInvalidArgument},
		{"IsInvalidPath", IsInvalidPath, ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := &ResourceError{Op: "Op", Service: "svc", Err: tt.err}
			assert.True(t, tt.fn(wrapped))
			assert.False(t, tt.fn(errors.New("other")))
		})
	}
}
