package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3leaps/gcpal/pkg/gcp"
)

func TestProviderError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		wantPath string
		wantMsg  string
	}{
		{
			name:     "object",
			err:      &ProviderError{Op: "Head", Provider: ProviderGCS, Bucket: "raw", Key: "2024/01/events.jsonl", Err: ErrNotFound},
			wantPath: "gs://raw/2024/01/events.jsonl",
			wantMsg:  "gcs Head gs://raw/2024/01/events.jsonl: resource not found",
		},
		{
			name:     "bucket",
			err:      &ProviderError{Op: "List", Provider: ProviderS3, Bucket: "raw", Err: ErrAccessDenied},
			wantPath: "gs://raw",
			wantMsg:  "s3 List gs://raw: access denied",
		},
		{
			name:    "project level",
			err:     &ProviderError{Op: "ListBuckets", Provider: ProviderFile, Err: errors.New("boom")},
			wantMsg: "file ListBuckets: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantPath, tt.err.Path())
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestBucketNotFound_MatchesNotFound(t *testing.T) {
	err := &ProviderError{Op: "List", Provider: ProviderGCS, Bucket: "b", Err: ErrBucketNotFound}

	assert.True(t, IsBucketNotFound(err))
	assert.True(t, IsNotFound(err))
	assert.True(t, gcp.IsNotFound(err))
	assert.False(t, IsBucketNotFound(&ProviderError{Err: ErrNotFound}))
}

func TestSentinelsAreServiceErrors(t *testing.T) {
	assert.True(t, gcp.IsAccessDenied(&ProviderError{Err: ErrAccessDenied}))
	assert.ErrorIs(t, &ProviderError{Err: ErrProviderUnavailable}, gcp.ErrUnavailable)
	assert.ErrorIs(t, &ProviderError{Err: ErrThrottled}, gcp.ErrThrottled)
	assert.True(t, gcp.IsFailedPrecondition(ErrBucketNotEmpty))
	assert.False(t, IsNotFound(ErrBucketNotEmpty))
}

func TestProviderType_String(t *testing.T) {
	assert.Equal(t, "s3", ProviderS3.String())
	assert.Equal(t, "gcs", ProviderGCS.String())
	assert.Equal(t, "file", ProviderFile.String())
}
