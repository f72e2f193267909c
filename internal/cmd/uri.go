package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/gcpal/pkg/match"
)

// URI parsing errors
var (
	// ErrInvalidURI indicates the URI could not be parsed.
	ErrInvalidURI = errors.New("invalid URI")

	// ErrUnsupportedProvider indicates the URI scheme is not supported.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrMissingBucket indicates the URI is missing a bucket name.
	ErrMissingBucket = errors.New("missing bucket name")
)

// ObjectURI represents a parsed Cloud Storage URI, or a local file:// path.
//
// Example URIs:
//   - gs://bucket/key/path.txt
//   - gs://bucket/prefix/
//   - gs://bucket/prefix/**/*.parquet
//   - bucket/prefix/ (scheme optional)
//   - file:///tmp/out/
type ObjectURI struct {
	// Provider is "gs", or "file" for a local path held in Key.
	Provider string

	Bucket string

	// Key is the object key or prefix. Empty for the bucket root.
	Key string

	// Pattern is set if the key contains glob characters. Key then holds
	// the literal prefix before the first glob character.
	Pattern string
}

// String returns the URI in canonical form.
func (u *ObjectURI) String() string {
	if u.IsLocal() {
		return "file://" + u.Key
	}
	if u.Pattern != "" {
		return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Pattern)
	}
	if u.Key != "" {
		return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Key)
	}
	return fmt.Sprintf("%s://%s/", u.Provider, u.Bucket)
}

// StoragePath is the path handed to storage.New: the literal part of the URI.
// For a local URI it is the file:// form that Storage.Copy downloads to.
func (u *ObjectURI) StoragePath() string {
	if u.IsLocal() {
		return "file://" + u.Key
	}
	return fmt.Sprintf("%s://%s/%s", u.Provider, u.Bucket, u.Key)
}

// IsLocal reports whether the URI is a file:// path.
func (u *ObjectURI) IsLocal() bool {
	return u.Provider == "file"
}

// RelativePattern is the glob pattern relative to StoragePath.
func (u *ObjectURI) RelativePattern() string {
	if u.Pattern == "" {
		return ""
	}
	// Key is unescaped, so skip as many segments as it holds.
	rel := u.Pattern
	for range strings.Count(u.Key, "/") {
		_, rel, _ = strings.Cut(rel, "/")
	}
	return rel
}

// IsPattern returns true if the URI contains glob pattern characters.
func (u *ObjectURI) IsPattern() bool {
	return u.Pattern != ""
}

// IsPrefix returns true if the URI names a prefix (ends with / or is the root).
func (u *ObjectURI) IsPrefix() bool {
	return strings.HasSuffix(u.Key, "/") || u.Key == ""
}

// ParseURI parses a Cloud Storage URI into its components.
//
// Supported formats:
//   - gs://bucket
//   - gs://bucket/key
//   - gs://bucket/prefix/**/*.parquet
//   - gcs://bucket/key (alias)
//   - bucket/key
//   - file:///local/path
//
// bq:// and firestore:// are recognised and rejected with a pointer to the
// command group that takes those paths.
func ParseURI(uri string) (*ObjectURI, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrInvalidURI)
	}

	// Split by hand: url.Parse treats a glob '?' as the query delimiter.
	remainder := uri
	if schemeEnd := strings.Index(uri, "://"); schemeEnd != -1 {
		scheme := strings.ToLower(uri[:schemeEnd])
		remainder = uri[schemeEnd+3:]
		switch scheme {
		case "gs", "gcs":
		case "file":
			if remainder == "" {
				return nil, fmt.Errorf("%w: empty local path", ErrInvalidURI)
			}
			return &ObjectURI{Provider: "file", Key: remainder}, nil
		case "bq":
			return nil, fmt.Errorf("%w: bq (use 'gcpal bq' with dataset.table paths)", ErrUnsupportedProvider)
		case "firestore":
			return nil, fmt.Errorf("%w: firestore (use 'gcpal firestore')", ErrUnsupportedProvider)
		default:
			return nil, fmt.Errorf("%w: %s (supported: gs, file)", ErrUnsupportedProvider, scheme)
		}
	}

	bucket, key, _ := strings.Cut(remainder, "/")
	if bucket == "" {
		return nil, fmt.Errorf("%w: in %s", ErrMissingBucket, uri)
	}
	if strings.ContainsAny(bucket, " \t\n*?[{") {
		return nil, fmt.Errorf("%w: invalid bucket name %q", ErrInvalidURI, bucket)
	}

	result := &ObjectURI{Provider: "gs", Bucket: bucket}
	if match.IsGlobPattern(key) {
		result.Pattern = key
	}
	// DerivePrefix unescapes a literal key ("file\*.txt" -> "file*.txt").
	result.Key = match.DerivePrefix(key)
	return result, nil
}
