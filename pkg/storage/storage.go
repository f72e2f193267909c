// Package storage addresses Cloud Storage with gs:// paths.
//
// A Storage value is bound to a path at one of three levels: the project
// (no bucket), a bucket, or a file inside a bucket. Directories are not
// real objects; a path is a directory when a "name/" placeholder exists or
// when any object sits below it.
//
// Objects are reached through a provider.Backend. The default is the native
// GCS client; WithBackend swaps in the HMAC interop or local file backends.
package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/provider"
	"github.com/3leaps/gcpal/pkg/provider/gcs"
)

// Service is the name used in errors, logs and metrics.
const Service = "storage"

// Scheme prefixes every storage path.
const Scheme = "gs://"

const (
	backendKind    = "storage-backend"
	bucketOverride = "storage.bucket"
)

// Level is the kind of resource a Storage value points at.
type Level int

const (
	LevelProject Level = iota
	LevelBucket
	LevelFile
)

func (l Level) String() string {
	switch l {
	case LevelProject:
		return "project"
	case LevelBucket:
		return "bucket"
	case LevelFile:
		return "file"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// WithBucket fixes the bucket. The path is then read as a key inside it
// unless it carries its own gs:// prefix.
func WithBucket(name string) gcp.Option {
	return gcp.WithOverride(bucketOverride, name)
}

// WithBackend supplies the object backend.
func WithBackend(b provider.Backend) gcp.Option {
	return gcp.WithInjectedClient(backendKind, b)
}

// Storage is a handle on a gs:// path.
type Storage struct {
	bucket string
	file   string
	level  Level

	settings *gcp.Settings
	backend  provider.Backend
	owned    bool
	logger   *zap.Logger
}

// New parses path and resolves the backend.
func New(ctx context.Context, path string, opts ...gcp.Option) (*Storage, error) {
	s, err := gcp.Resolve(ctx, false, opts...)
	if err != nil {
		return nil, err
	}
	bucket, file, err := parsePath(path, s.Override(bucketOverride))
	if err != nil {
		return nil, err
	}
	backend, err := gcp.Client[provider.Backend](ctx, s, backendKind, func(ctx context.Context) (provider.Backend, error) {
		return gcs.New(ctx, gcs.Config{ClientOptions: s.ClientOptions})
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", path, err)
	}
	st := newStorage(bucket, file, s, backend)
	_, injected := s.Injected[backendKind]
	st.owned = !injected && !s.Cacheable()
	return st, nil
}

func newStorage(bucket, file string, s *gcp.Settings, b provider.Backend) *Storage {
	st := &Storage{bucket: bucket, file: file, settings: s, backend: b}
	switch {
	case bucket == "":
		st.level = LevelProject
	case file == "":
		st.level = LevelBucket
	default:
		st.level = LevelFile
	}
	st.logger = s.Logger.With(zap.String("service", Service))
	return st
}

// parsePath splits "gs://bucket/key" into its parts.
func parsePath(path, bucketOverride string) (bucket, file string, err error) {
	hasScheme := strings.HasPrefix(path, Scheme)
	p := strings.TrimPrefix(path, Scheme)

	if bucketOverride != "" && !hasScheme {
		return bucketOverride, strings.TrimLeft(p, "/"), nil
	}
	p = strings.TrimLeft(p, "/")
	bucket, file, _ = strings.Cut(p, "/")
	if bucketOverride != "" {
		bucket = bucketOverride
	}
	if strings.ContainsAny(bucket, " \t\n") {
		return "", "", fmt.Errorf("%w: bucket name %q", gcp.ErrInvalidPath, bucket)
	}
	if bucket == "" && file != "" {
		return "", "", fmt.Errorf("%w: %q has a key but no bucket", gcp.ErrInvalidPath, path)
	}
	return bucket, file, nil
}

// Level returns the resource level.
func (s *Storage) Level() Level { return s.level }

// Bucket returns the bucket name, or "" at project level.
func (s *Storage) Bucket() string { return s.bucket }

// Key returns the object key, or "".
func (s *Storage) Key() string { return s.file }

// Backend returns the object backend.
func (s *Storage) Backend() provider.Backend { return s.backend }

// Path returns the full gs:// path.
func (s *Storage) Path() string {
	switch s.level {
	case LevelProject:
		return Scheme
	case LevelBucket:
		return Scheme + s.bucket
	}
	return Scheme + s.bucket + "/" + s.file
}

// Name returns the key, or the bucket name when there is no key.
func (s *Storage) Name() string {
	if s.file != "" {
		return s.file
	}
	return s.bucket
}

func (s *Storage) String() string { return s.Path() }

// suffixPath resolves sub against the handle's path. An empty sub is the
// path itself and a gs:// sub is taken as-is.
func (s *Storage) suffixPath(sub string) string {
	switch {
	case sub == "":
		return s.Path()
	case strings.HasPrefix(sub, Scheme):
		return sub
	}
	sub = strings.TrimPrefix(sub, "/")
	return strings.TrimSuffix(s.Path(), "/") + "/" + sub
}

// At returns a handle on sub, sharing settings and backend.
func (s *Storage) At(sub string) (*Storage, error) {
	if sub == "" {
		return s, nil
	}
	bucket, file, err := parsePath(s.suffixPath(sub), "")
	if err != nil {
		return nil, err
	}
	return newStorage(bucket, file, s.settings, s.backend), nil
}

// Close releases a backend built for this handle alone. Injected and
// cached backends are left open.
func (s *Storage) Close() error {
	if !s.owned {
		return nil
	}
	return s.backend.Close()
}

func (s *Storage) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, s.Path(), err)
}

func (s *Storage) requireBucket(op string) error {
	if s.level == LevelProject {
		return gcp.Wrap(Service, op, s.Path(), fmt.Errorf("%w: a bucket is required", gcp.ErrInvalidPath))
	}
	return nil
}
