package provider

import (
	"context"
	"io"
)

// Backend is the full object store surface pkg/storage drives. Every
// backend in this module implements it; the narrower interfaces below let
// tests and helpers ask for only what they use.
type Backend interface {
	Provider
	ObjectGetter
	ObjectPutter
	ObjectDeleter
	ObjectCopier
	BucketManager
	Type() ProviderType
}

type ObjectGetter interface {
	GetObject(ctx context.Context, bucket, key string) (body io.ReadCloser, contentLength int64, err error)
}

type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) error
}

type ObjectDeleter interface {
	DeleteObject(ctx context.Context, bucket, key string) error
}

type ObjectCopier interface {
	// CopyObject copies within the backend without downloading the body.
	CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
}

// ObjectWriterOpener is implemented by the gcs and file backends. Writers
// for the HMAC backend buffer in memory and call PutObject on Close, since
// the XML API needs the length before the upload starts.
type ObjectWriterOpener interface {
	NewObjectWriter(ctx context.Context, bucket, key, contentType string) (io.WriteCloser, error)
}

// BucketManager operates at the project level, which is what the empty
// gs:// path addresses.
type BucketManager interface {
	ListBuckets(ctx context.Context, project string) ([]BucketInfo, error)
	HeadBucket(ctx context.Context, bucket string) (*BucketInfo, error)
	CreateBucket(ctx context.Context, project, bucket, location string) error
	// DeleteBucket returns ErrBucketNotEmpty while objects remain.
	DeleteBucket(ctx context.Context, bucket string) error
}
