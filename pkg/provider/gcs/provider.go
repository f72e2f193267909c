// Package gcs implements the storage backend over the native Cloud Storage client.
package gcs

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/provider"
)

// DefaultMaxKeys is the default page size for List operations.
const DefaultMaxKeys = 1000

// Config configures a GCS provider.
type Config struct {
	// ClientOptions are passed to storage.NewClient. STORAGE_EMULATOR_HOST
	// is honoured by the SDK itself.
	ClientOptions []option.ClientOption

	// MaxKeys is the default page size for List operations.
	MaxKeys int
}

// Provider implements provider.Backend over *storage.Client.
type Provider struct {
	client  *storage.Client
	maxKeys int
	owned   bool
}

// Ensure Provider implements the interfaces.
var (
	_ provider.Backend            = (*Provider)(nil)
	_ provider.ObjectWriterOpener = (*Provider)(nil)
)

// New creates a provider with its own client.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client, err := storage.NewClient(ctx, cfg.ClientOptions...)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderGCS, Err: err}
	}
	p := NewFromClient(client, cfg.MaxKeys)
	p.owned = true
	return p, nil
}

// NewFromClient wraps an existing client. Close does not close it.
func NewFromClient(client *storage.Client, maxKeys int) *Provider {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Provider{client: client, maxKeys: maxKeys}
}

// Client returns the underlying SDK client.
func (p *Provider) Client() *storage.Client { return p.client }

// Type reports provider.ProviderGCS.
func (p *Provider) Type() provider.ProviderType { return provider.ProviderGCS }

// Close releases the client when the provider created it.
func (p *Provider) Close() error {
	if p.owned {
		return p.client.Close()
	}
	return nil
}

// List returns a page of objects and, with a delimiter, common prefixes.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = p.maxKeys
	}

	q := &storage.Query{Prefix: opts.Prefix, Delimiter: opts.Delimiter}
	if err := q.SetAttrSelection([]string{"Name", "Size", "Etag", "Updated"}); err != nil {
		return nil, p.wrapError("List", opts.Bucket, opts.Prefix, err)
	}
	it := p.client.Bucket(opts.Bucket).Objects(ctx, q)
	pager := iterator.NewPager(it, maxKeys, opts.ContinuationToken)

	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, p.wrapError("List", opts.Bucket, opts.Prefix, err)
	}

	res := &provider.ListResult{Objects: make([]provider.ObjectSummary, 0, len(attrs))}
	for _, a := range attrs {
		if a.Prefix != "" {
			res.CommonPrefixes = append(res.CommonPrefixes, a.Prefix)
			continue
		}
		res.Objects = append(res.Objects, summary(a))
	}
	if next != "" {
		res.IsTruncated = true
		res.ContinuationToken = next
	}
	return res, nil
}

// Head returns object attributes.
func (p *Provider) Head(ctx context.Context, bucket, key string) (*provider.ObjectMeta, error) {
	a, err := p.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return nil, p.wrapError("Head", bucket, key, err)
	}
	return &provider.ObjectMeta{
		ObjectSummary: summary(a),
		Bucket:        bucket,
		ContentType:   a.ContentType,
		Metadata:      a.Metadata,
	}, nil
}

// GetObject opens a reader over the object.
func (p *Provider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	r, err := p.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", bucket, key, err)
	}
	return r, r.Attrs.Size, nil
}

// PutObject uploads body as the object.
func (p *Provider) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) error {
	_ = contentLength
	w, err := p.NewObjectWriter(ctx, bucket, key, contentType)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return p.wrapError("PutObject", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return p.wrapError("PutObject", bucket, key, err)
	}
	return nil
}

// NewObjectWriter returns the SDK's resumable writer. Errors surface on Close.
func (p *Provider) NewObjectWriter(ctx context.Context, bucket, key, contentType string) (io.WriteCloser, error) {
	w := p.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return &writer{Writer: w, p: p, bucket: bucket, key: key}, nil
}

type writer struct {
	*storage.Writer
	p           *Provider
	bucket, key string
}

func (w *writer) Close() error {
	if err := w.Writer.Close(); err != nil {
		return w.p.wrapError("PutObject", w.bucket, w.key, err)
	}
	return nil
}

// DeleteObject removes an object.
func (p *Provider) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := p.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		return p.wrapError("DeleteObject", bucket, key, err)
	}
	return nil
}

// CopyObject runs a server-side rewrite.
func (p *Provider) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src := p.client.Bucket(srcBucket).Object(srcKey)
	dst := p.client.Bucket(dstBucket).Object(dstKey)
	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return p.wrapError("CopyObject", srcBucket, srcKey, err)
	}
	return nil
}

// ListBuckets lists every bucket in project.
func (p *Provider) ListBuckets(ctx context.Context, project string) ([]provider.BucketInfo, error) {
	it := p.client.Buckets(ctx, project)
	var out []provider.BucketInfo
	for {
		a, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, p.wrapError("ListBuckets", "", "", err)
		}
		out = append(out, provider.BucketInfo{Name: a.Name, Location: a.Location, Created: a.Created})
	}
}

// HeadBucket returns bucket attributes.
func (p *Provider) HeadBucket(ctx context.Context, bucket string) (*provider.BucketInfo, error) {
	a, err := p.client.Bucket(bucket).Attrs(ctx)
	if err != nil {
		return nil, p.wrapError("HeadBucket", bucket, "", err)
	}
	return &provider.BucketInfo{Name: a.Name, Location: a.Location, Created: a.Created}, nil
}

// CreateBucket creates a bucket in project at location.
func (p *Provider) CreateBucket(ctx context.Context, project, bucket, location string) error {
	attrs := &storage.BucketAttrs{Location: location}
	if err := p.client.Bucket(bucket).Create(ctx, project, attrs); err != nil {
		return p.wrapError("CreateBucket", bucket, "", err)
	}
	return nil
}

// DeleteBucket removes an empty bucket.
func (p *Provider) DeleteBucket(ctx context.Context, bucket string) error {
	if err := p.client.Bucket(bucket).Delete(ctx); err != nil {
		return p.wrapError("DeleteBucket", bucket, "", err)
	}
	return nil
}

func summary(a *storage.ObjectAttrs) provider.ObjectSummary {
	return provider.ObjectSummary{
		Key:          a.Name,
		Size:         a.Size,
		ETag:         a.Etag,
		LastModified: a.Updated,
	}
}

// wrapError converts SDK errors to provider errors with appropriate sentinel errors.
func (p *Provider) wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderGCS,
		Bucket:   bucket,
		Key:      key,
		Err:      err,
	}

	switch {
	case errors.Is(err, storage.ErrBucketNotExist):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case errors.Is(err, storage.ErrObjectNotExist):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	}

	if sentinel := gcp.Classify(err); sentinel != nil {
		// A 409 on bucket delete means objects remain.
		if op == "DeleteBucket" && errors.Is(sentinel, gcp.ErrAlreadyExists) {
			wrapped.Err = provider.ErrBucketNotEmpty
			return wrapped
		}
		wrapped.Err = errors.Join(sentinel, err)
	}
	return wrapped
}
