// Package provider defines the object storage backends behind pkg/storage.
//
// A backend addresses objects by (bucket, key) and knows nothing about gs://
// paths, directories or recursion; those live in pkg/storage. Three backends
// exist: the native GCS client, the GCS XML interoperability API reached
// through an S3 client with HMAC keys, and a local directory tree.
// Authentication uses SDK default credential chains unless a backend config
// carries explicit keys.
package provider

import (
	"context"
	"time"
)

// Provider lists and heads objects in one bucket. It is safe for
// concurrent use.
type Provider interface {
	// List returns one page; pass ListResult.ContinuationToken back in
	// ListOptions to fetch the next.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)
	// Head returns ErrNotFound for a missing key and ErrBucketNotFound for
	// a missing bucket.
	Head(ctx context.Context, bucket, key string) (*ObjectMeta, error)
	Close() error
}

// ListOptions selects a page of a bucket listing. An empty Delimiter lists
// recursively; "/" groups keys one level below Prefix into CommonPrefixes,
// which is how gcpal ls shows folders. MaxKeys zero means the backend's
// default page size.
type ListOptions struct {
	Bucket            string
	Prefix            string
	Delimiter         string
	ContinuationToken string
	MaxKeys           int
}

// ListResult is one page. An empty ContinuationToken ends the listing.
type ListResult struct {
	Objects           []ObjectSummary
	CommonPrefixes    []string
	ContinuationToken string
	IsTruncated       bool
}

// ObjectSummary is what a listing knows about an object.
type ObjectSummary struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectMeta is what Head knows about an object.
type ObjectMeta struct {
	ObjectSummary
	Bucket      string
	ContentType string
	Metadata    map[string]string
}

// BucketInfo describes a bucket. Location is empty on backends that have
// no notion of one.
type BucketInfo struct {
	Name     string
	Location string
	Created  time.Time
}

// ProviderType names a backend in errors and storage.backend config.
type ProviderType string

const (
	ProviderGCS  ProviderType = "gcs"
	ProviderS3   ProviderType = "s3"   // GCS XML API with HMAC keys
	ProviderFile ProviderType = "file" // top-level directories are buckets
)

func (p ProviderType) String() string { return string(p) }

// ListAll drains every page of a listing.
func ListAll(ctx context.Context, p Provider, opts ListOptions) (*ListResult, error) {
	all := &ListResult{}
	for {
		page, err := p.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		all.Objects = append(all.Objects, page.Objects...)
		all.CommonPrefixes = append(all.CommonPrefixes, page.CommonPrefixes...)
		if !page.IsTruncated || page.ContinuationToken == "" {
			return all, nil
		}
		opts.ContinuationToken = page.ContinuationToken
	}
}
