package s3

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/3leaps/gcpal/pkg/provider"
)

// Provider implements provider.Backend over the GCS XML API.
type Provider struct {
	client    *s3.Client
	projectID string
	maxKeys   int
}

// Ensure Provider implements the interfaces.
var _ provider.Backend = (*Provider)(nil)

// New validates cfg and builds an S3 client against the XML API.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{Op: "New", Provider: provider.ProviderS3, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.ForcePathStyle
		// The XML API rejects the flexible-checksum headers newer SDKs send
		// by default.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Provider{client: client, projectID: cfg.ProjectID, maxKeys: cfg.MaxKeys}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		// HMAC keys carry no session token.
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(creds))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

// withProjectHeader adds x-goog-project-id to a single call. The header is
// set in the build step so it is covered by the request signature.
func withProjectHeader(project string) func(*s3.Options) {
	return func(o *s3.Options) {
		if project == "" {
			return
		}
		o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
			return stack.Build.Add(middleware.BuildMiddlewareFunc("GoogProjectID",
				func(ctx context.Context, in middleware.BuildInput, next middleware.BuildHandler) (middleware.BuildOutput, middleware.Metadata, error) {
					if req, ok := in.Request.(*smithyhttp.Request); ok {
						req.Header.Set("x-goog-project-id", project)
					}
					return next.HandleBuild(ctx, in)
				}), middleware.After)
		})
	}
}

// Type reports provider.ProviderS3.
func (p *Provider) Type() provider.ProviderType { return provider.ProviderS3 }

// List returns a page of objects with the given prefix.
func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	maxKeys := clampMaxKeys(opts.MaxKeys, p.maxKeys)

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(opts.Bucket),
		MaxKeys: aws.Int32(int32(maxKeys)),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	output, err := p.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, p.wrapError("List", opts.Bucket, "", err)
	}

	objects := make([]provider.ObjectSummary, 0, len(output.Contents))
	for _, obj := range output.Contents {
		objects = append(objects, provider.ObjectSummary{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         cleanETag(aws.ToString(obj.ETag)),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}

	result := &provider.ListResult{
		Objects:     objects,
		IsTruncated: aws.ToBool(output.IsTruncated),
	}
	for _, cp := range output.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, aws.ToString(cp.Prefix))
	}
	if output.NextContinuationToken != nil {
		result.ContinuationToken = *output.NextContinuationToken
	}

	return result, nil
}

// Head returns metadata for a single object.
func (p *Provider) Head(ctx context.Context, bucket, key string) (*provider.ObjectMeta, error) {
	output, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, p.wrapError("Head", bucket, key, err)
	}

	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{
			Key:          key,
			Size:         aws.ToInt64(output.ContentLength),
			ETag:         cleanETag(aws.ToString(output.ETag)),
			LastModified: aws.ToTime(output.LastModified),
		},
		Bucket:      bucket,
		ContentType: aws.ToString(output.ContentType),
		Metadata:    output.Metadata,
	}, nil
}

// GetObject downloads an object as a stream.
func (p *Provider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, 0, p.wrapError("GetObject", bucket, key, err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// PutObject uploads an object.
func (p *Provider) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := p.client.PutObject(ctx, input); err != nil {
		return p.wrapError("PutObject", bucket, key, err)
	}
	return nil
}

// DeleteObject deletes an object.
func (p *Provider) DeleteObject(ctx context.Context, bucket, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return p.wrapError("DeleteObject", bucket, key, err)
	}
	return nil
}

// CopyObject performs a server-side copy.
func (p *Provider) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(copySource(srcBucket, srcKey)),
	})
	if err != nil {
		return p.wrapError("CopyObject", srcBucket, srcKey, err)
	}
	return nil
}

// ListBuckets lists the buckets of project. The XML API scopes the listing
// through x-goog-project-id; without it the HMAC key's project is used.
func (p *Provider) ListBuckets(ctx context.Context, project string) ([]provider.BucketInfo, error) {
	if project == "" {
		project = p.projectID
	}
	out, err := p.client.ListBuckets(ctx, &s3.ListBucketsInput{}, withProjectHeader(project))
	if err != nil {
		return nil, p.wrapError("ListBuckets", "", "", err)
	}
	buckets := make([]provider.BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, provider.BucketInfo{
			Name:    aws.ToString(b.Name),
			Created: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

// HeadBucket checks that a bucket exists.
func (p *Provider) HeadBucket(ctx context.Context, bucket string) (*provider.BucketInfo, error) {
	out, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return nil, p.wrapError("HeadBucket", bucket, "", err)
	}
	return &provider.BucketInfo{Name: bucket, Location: aws.ToString(out.BucketRegion)}, nil
}

// CreateBucket creates a bucket at location.
func (p *Provider) CreateBucket(ctx context.Context, project, bucket, location string) error {
	if project == "" {
		project = p.projectID
	}
	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if location != "" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(location),
		}
	}
	if _, err := p.client.CreateBucket(ctx, input, withProjectHeader(project)); err != nil {
		return p.wrapError("CreateBucket", bucket, "", err)
	}
	return nil
}

// DeleteBucket removes an empty bucket.
func (p *Provider) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := p.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return p.wrapError("DeleteBucket", bucket, "", err)
	}
	return nil
}

// Close releases any resources held by the provider.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (p *Provider) Close() error {
	return nil
}

// copySource renders the CopySource header: bucket/key with the key escaped.
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// wrapError converts XML API errors to provider errors with appropriate sentinel errors.
func (p *Provider) wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Bucket:   bucket,
		Key:      key,
		Err:      err,
	}

	// Check for specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists

	switch {
	case errors.As(err, &noSuchBucket):
		wrapped.Err = provider.ErrBucketNotFound
		return wrapped
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		if op == "HeadBucket" {
			wrapped.Err = provider.ErrBucketNotFound
		} else {
			wrapped.Err = provider.ErrNotFound
		}
		return wrapped
	case errors.As(err, &owned), errors.As(err, &exists):
		wrapped.Err = provider.ErrAlreadyExists
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound":
			wrapped.Err = provider.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = provider.ErrBucketNotFound
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			wrapped.Err = provider.ErrAlreadyExists
		case "BucketNotEmpty":
			wrapped.Err = provider.ErrBucketNotEmpty
		case "AccessDenied", "Forbidden":
			wrapped.Err = provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidSecurity":
			wrapped.Err = provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded", "TooManyRequests":
			wrapped.Err = provider.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = provider.ErrProviderUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchBucket"):
		wrapped.Err = provider.ErrBucketNotFound
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		wrapped.Err = provider.ErrNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = provider.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = provider.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = provider.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = provider.ErrProviderUnavailable
	}

	return wrapped
}

// cleanETag removes surrounding quotes from an ETag value.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

