package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/match"
	"github.com/3leaps/gcpal/pkg/provider"
)

func dirPrefix(key string) string {
	if key == "" || strings.HasSuffix(key, "/") {
		return key
	}
	return key + "/"
}

func (s *Storage) objectPath(key string) string {
	return Scheme + s.bucket + "/" + key
}

// project returns the configured project, falling back to the default
// lookup. Backends that do not need one accept "".
func (s *Storage) project(ctx context.Context) string {
	if s.settings.Project != "" {
		return s.settings.Project
	}
	if p, err := gcp.DefaultProject(ctx); err == nil {
		return p
	}
	return ""
}

func (s *Storage) list(ctx context.Context, prefix, delimiter string) (*provider.ListResult, error) {
	return provider.ListAll(ctx, s.backend, provider.ListOptions{
		Bucket:    s.bucket,
		Prefix:    prefix,
		Delimiter: delimiter,
	})
}

// Ls lists bucket names at project level. Elsewhere it lists the objects
// and immediate sub-directories below the path as gs:// paths. A path
// naming a single object lists just that object.
func (s *Storage) Ls(ctx context.Context) (out []string, err error) {
	defer s.settings.Observe(Service, "Ls", time.Now(), &err)

	if s.level == LevelProject {
		buckets, err := s.backend.ListBuckets(ctx, s.project(ctx))
		if err != nil {
			return nil, s.wrap("Ls", err)
		}
		out = make([]string, 0, len(buckets))
		for _, b := range buckets {
			out = append(out, b.Name)
		}
		sort.Strings(out)
		return out, nil
	}

	if s.level == LevelFile && !strings.HasSuffix(s.file, "/") {
		if ok, err := s.isFile(ctx, s.file); err != nil {
			return nil, s.wrap("Ls", err)
		} else if ok {
			return []string{s.Path()}, nil
		}
	}

	prefix := dirPrefix(s.file)
	res, err := s.list(ctx, prefix, "/")
	if err != nil {
		return nil, s.wrap("Ls", err)
	}
	out = make([]string, 0, len(res.Objects)+len(res.CommonPrefixes))
	for _, o := range res.Objects {
		if o.Key == prefix {
			continue
		}
		out = append(out, s.objectPath(o.Key))
	}
	for _, p := range res.CommonPrefixes {
		out = append(out, s.objectPath(p))
	}
	sort.Strings(out)
	return out, nil
}

// Glob matches objects against a doublestar pattern. The pattern is
// resolved against the path like any sub-path; an empty pattern is the
// path itself. Directories whose name matches are returned without a
// trailing slash.
func (s *Storage) Glob(ctx context.Context, pattern string) (out []string, err error) {
	defer s.settings.Observe(Service, "Glob", time.Now(), &err)

	if s.level == LevelProject && pattern == "" {
		return s.Ls(ctx)
	}
	full := s.suffixPath(pattern)
	bucket, key, _ := strings.Cut(strings.TrimPrefix(full, Scheme), "/")
	if match.IsGlobPattern(bucket) {
		return nil, gcp.Wrap(Service, "Glob", full, fmt.Errorf("%w: wildcards are not allowed in bucket names", gcp.ErrInvalidPath))
	}
	t, err := s.At(Scheme + bucket)
	if err != nil {
		return nil, err
	}

	if !match.IsGlobPattern(key) {
		exists, err := t.Exists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			return []string{}, nil
		}
		return []string{strings.TrimSuffix(full, "/")}, nil
	}

	g, err := match.Compile(key)
	if err != nil {
		return nil, gcp.Wrap(Service, "Glob", full, fmt.Errorf("%w: %w", gcp.ErrInvalidPath, err))
	}
	res, err := t.list(ctx, g.Prefix(), "")
	if err != nil {
		return nil, gcp.Wrap(Service, "Glob", full, err)
	}

	seen := map[string]bool{}
	add := func(k string) {
		if !seen[k] && g.Match(k) {
			seen[k] = true
			out = append(out, t.objectPath(k))
		}
	}
	for _, o := range res.Objects {
		k := strings.TrimSuffix(o.Key, "/")
		add(k)
		for dir := path.Dir(k); dir != "." && dir != "/"; dir = path.Dir(dir) {
			add(dir)
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Exists reports whether sub names a bucket, object or directory.
func (s *Storage) Exists(ctx context.Context, sub string) (ok bool, err error) {
	defer s.settings.Observe(Service, "Exists", time.Now(), &err)

	t, err := s.At(sub)
	if err != nil {
		return false, err
	}
	switch t.level {
	case LevelProject:
		return true, nil
	case LevelBucket:
		return t.bucketExists(ctx)
	}
	if ok, err := t.isFile(ctx, t.file); err != nil || ok {
		return ok, t.wrap("Exists", err)
	}
	ok, err = t.isDir(ctx, t.file)
	return ok, t.wrap("Exists", err)
}

// IsDir reports whether sub is a bucket or a directory.
func (s *Storage) IsDir(ctx context.Context, sub string) (ok bool, err error) {
	defer s.settings.Observe(Service, "IsDir", time.Now(), &err)

	t, err := s.At(sub)
	if err != nil {
		return false, err
	}
	switch t.level {
	case LevelProject:
		return true, nil
	case LevelBucket:
		return t.bucketExists(ctx)
	}
	ok, err = t.isDir(ctx, t.file)
	return ok, t.wrap("IsDir", err)
}

// IsFile reports whether sub is an object that is not a directory placeholder.
func (s *Storage) IsFile(ctx context.Context, sub string) (ok bool, err error) {
	defer s.settings.Observe(Service, "IsFile", time.Now(), &err)

	t, err := s.At(sub)
	if err != nil {
		return false, err
	}
	if t.level != LevelFile {
		return false, nil
	}
	ok, err = t.isFile(ctx, t.file)
	return ok, t.wrap("IsFile", err)
}

func (s *Storage) bucketExists(ctx context.Context) (bool, error) {
	_, err := s.backend.HeadBucket(ctx, s.bucket)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, s.wrap("Exists", err)
}

func (s *Storage) isFile(ctx context.Context, key string) (bool, error) {
	if key == "" || strings.HasSuffix(key, "/") {
		return false, nil
	}
	_, err := s.backend.Head(ctx, s.bucket, key)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Storage) isDir(ctx context.Context, key string) (bool, error) {
	prefix := dirPrefix(key)
	if prefix == "" {
		return s.bucketExists(ctx)
	}
	if _, err := s.backend.Head(ctx, s.bucket, prefix); err == nil {
		return true, nil
	} else if !gcp.IsNotFound(err) {
		return false, err
	}
	page, err := s.backend.List(ctx, provider.ListOptions{Bucket: s.bucket, Prefix: prefix, MaxKeys: 1})
	if err != nil {
		if gcp.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return len(page.Objects) > 0 || len(page.CommonPrefixes) > 0, nil
}

// Object returns metadata for the object at sub.
func (s *Storage) Object(ctx context.Context, sub string) (meta *provider.ObjectMeta, err error) {
	defer s.settings.Observe(Service, "Object", time.Now(), &err)

	t, err := s.At(sub)
	if err != nil {
		return nil, err
	}
	if t.level != LevelFile {
		return nil, t.wrap("Object", fmt.Errorf("%w: not an object path", gcp.ErrInvalidPath))
	}
	meta, err = t.backend.Head(ctx, t.bucket, t.file)
	if err != nil {
		return nil, t.wrap("Object", err)
	}
	return meta, nil
}

// BucketInfo returns the bucket's metadata.
func (s *Storage) BucketInfo(ctx context.Context) (info *provider.BucketInfo, err error) {
	defer s.settings.Observe(Service, "BucketInfo", time.Now(), &err)
	if err := s.requireBucket("BucketInfo"); err != nil {
		return nil, err
	}
	info, err = s.backend.HeadBucket(ctx, s.bucket)
	return info, s.wrap("BucketInfo", err)
}

// Mkdir creates a "name/" placeholder object for sub.
func (s *Storage) Mkdir(ctx context.Context, sub string) (err error) {
	defer s.settings.Observe(Service, "Mkdir", time.Now(), &err)

	t, err := s.At(sub)
	if err != nil {
		return err
	}
	if t.level != LevelFile {
		return t.wrap("Mkdir", fmt.Errorf("%w: a directory path is required", gcp.ErrInvalidPath))
	}
	key := dirPrefix(t.file)
	err = t.withBucketRetry(ctx, func() error {
		return t.backend.PutObject(ctx, t.bucket, key, bytes.NewReader(nil), 0, "")
	})
	if err != nil {
		return t.wrap("Mkdir", err)
	}
	t.logger.Info("Storage - Created directory", zap.String("path", t.objectPath(key)))
	return nil
}

// CreateBucket creates a bucket in the project and location. An empty
// name uses the handle's bucket. With existOK an existing bucket is not an
// error.
func (s *Storage) CreateBucket(ctx context.Context, name string, existOK bool) (err error) {
	defer s.settings.Observe(Service, "CreateBucket", time.Now(), &err)

	if name == "" {
		name = s.bucket
	}
	if name == "" {
		return gcp.Wrap(Service, "CreateBucket", "", fmt.Errorf("%w: a bucket name is required", gcp.ErrInvalidPath))
	}
	err = s.backend.CreateBucket(ctx, s.project(ctx), name, s.settings.Location)
	if err != nil {
		if existOK && gcp.IsAlreadyExists(err) {
			return nil
		}
		return gcp.Wrap(Service, "CreateBucket", Scheme+name, err)
	}
	s.logger.Info("Storage - Created bucket", zap.String("bucket", name), zap.String("location", s.settings.Location))
	return nil
}

// Create creates the bucket at bucket level and a directory placeholder
// at file level.
func (s *Storage) Create(ctx context.Context) error {
	switch s.level {
	case LevelBucket:
		return s.CreateBucket(ctx, "", false)
	case LevelFile:
		return s.Mkdir(ctx, "")
	}
	return s.wrap("Create", fmt.Errorf("%w: nothing to create at project level", gcp.ErrInvalidPath))
}

// withBucketRetry runs fn and, if it failed because the bucket is
// missing, creates the bucket and runs fn once more.
func (s *Storage) withBucketRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !provider.IsBucketNotFound(err) {
		return err
	}
	if cerr := s.CreateBucket(ctx, "", true); cerr != nil {
		return cerr
	}
	return fn()
}

// Rm removes the object at the path. A directory needs recursive, which
// removes everything below it.
func (s *Storage) Rm(ctx context.Context, recursive bool) (err error) {
	defer s.settings.Observe(Service, "Rm", time.Now(), &err)

	if s.level != LevelFile {
		return s.wrap("Rm", fmt.Errorf("%w: use Delete for buckets", gcp.ErrInvalidPath))
	}
	isFile, err := s.isFile(ctx, s.file)
	if err != nil {
		return s.wrap("Rm", err)
	}
	if isFile {
		if err := s.backend.DeleteObject(ctx, s.bucket, s.file); err != nil {
			return s.wrap("Rm", err)
		}
		s.logger.Info("Storage - Removed", zap.String("path", s.Path()))
		return nil
	}

	isDir, err := s.isDir(ctx, s.file)
	if err != nil {
		return s.wrap("Rm", err)
	}
	if !isDir {
		return s.wrap("Rm", gcp.ErrNotFound)
	}
	if !recursive {
		return s.wrap("Rm", fmt.Errorf("%w: is a directory, remove it recursively", gcp.ErrFailedPrecondition))
	}
	n, err := s.deleteTree(ctx, dirPrefix(s.file))
	if err != nil {
		return s.wrap("Rm", err)
	}
	s.logger.Info("Storage - Removed", zap.String("path", s.Path()), zap.Int("objects", n))
	return nil
}

// Rmdir removes the directory at sub and everything below it.
func (s *Storage) Rmdir(ctx context.Context, sub string) (err error) {
	defer s.settings.Observe(Service, "Rmdir", time.Now(), &err)

	t, err := s.At(sub)
	if err != nil {
		return err
	}
	if t.level != LevelFile {
		return t.wrap("Rmdir", fmt.Errorf("%w: a directory path is required", gcp.ErrInvalidPath))
	}
	n, err := t.deleteTree(ctx, dirPrefix(t.file))
	if err != nil {
		return t.wrap("Rmdir", err)
	}
	if n == 0 {
		return t.wrap("Rmdir", gcp.ErrNotFound)
	}
	t.logger.Info("Storage - Removed directory", zap.String("path", t.Path()), zap.Int("objects", n))
	return nil
}

// Delete removes the bucket at bucket level, emptying it first when
// recursive. At file level it is Rm.
func (s *Storage) Delete(ctx context.Context, recursive bool) (err error) {
	switch s.level {
	case LevelFile:
		return s.Rm(ctx, recursive)
	case LevelProject:
		return s.wrap("Delete", fmt.Errorf("%w: nothing to delete at project level", gcp.ErrInvalidPath))
	}

	defer s.settings.Observe(Service, "Delete", time.Now(), &err)
	if recursive {
		if _, err := s.deleteTree(ctx, ""); err != nil {
			return s.wrap("Delete", err)
		}
	}
	if err := s.backend.DeleteBucket(ctx, s.bucket); err != nil {
		return s.wrap("Delete", err)
	}
	s.logger.Info("Storage - Deleted bucket", zap.String("bucket", s.bucket))
	return nil
}

// deleteTree removes every object under prefix, fanning out over the
// configured worker count. Placeholders go last so a directory does not
// briefly vanish while its children remain.
func (s *Storage) deleteTree(ctx context.Context, prefix string) (int, error) {
	res, err := s.list(ctx, prefix, "")
	if err != nil {
		if provider.IsBucketNotFound(err) || !gcp.IsNotFound(err) {
			return 0, err
		}
		return 0, nil
	}

	var files, dirs []string
	for _, o := range res.Objects {
		if strings.HasSuffix(o.Key, "/") {
			dirs = append(dirs, o.Key)
		} else {
			files = append(files, o.Key)
		}
	}
	if err := s.deleteKeys(ctx, files); err != nil {
		return 0, err
	}
	// Deepest placeholders first.
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		if err := s.backend.DeleteObject(ctx, s.bucket, d); err != nil && !gcp.IsNotFound(err) {
			return 0, err
		}
	}
	return len(files) + len(dirs), nil
}

func (s *Storage) deleteKeys(ctx context.Context, keys []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	for _, k := range keys {
		g.Go(func() error {
			err := s.backend.DeleteObject(ctx, s.bucket, k)
			if gcp.IsNotFound(err) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
