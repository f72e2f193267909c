// Package file implements a storage backend over a local directory tree.
//
// Each top-level directory under the root is a bucket and keys are slash
// paths below it. An empty directory is reported as a "name/" placeholder
// object, which is how GCS represents folders created with Mkdir.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/3leaps/gcpal/pkg/provider"
)

// Provider implements provider.Backend for local filesystem paths.
type Provider struct {
	root string
}

// Ensure Provider implements provider capability interfaces.
var (
	_ provider.Backend            = (*Provider)(nil)
	_ provider.ObjectWriterOpener = (*Provider)(nil)
)

// Config configures a file provider.
type Config struct {
	// Root is the directory holding one sub-directory per bucket.
	Root string
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("file root is required")
	}
	return nil
}

// New creates a file provider rooted at cfg.Root, creating it if needed.
func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root := filepath.Clean(cfg.Root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create file root: %w", err)
	}
	return &Provider{root: root}, nil
}

// Type reports provider.ProviderFile.
func (p *Provider) Type() provider.ProviderType { return provider.ProviderFile }

// Root returns the directory backing the provider.
func (p *Provider) Root() string { return p.root }

func (p *Provider) Close() error { return nil }

func (p *Provider) List(ctx context.Context, opts provider.ListOptions) (*provider.ListResult, error) {
	if err := p.requireBucket(opts.Bucket); err != nil {
		return nil, p.wrapError("List", opts.Bucket, "", err)
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	keys, err := p.collectKeys(ctx, opts.Bucket, opts.Prefix)
	if err != nil {
		return nil, p.wrapError("List", opts.Bucket, opts.Prefix, err)
	}

	// Fold keys below the delimiter into common prefixes. Objects and
	// prefixes share one ordered sequence for paging.
	type entry struct {
		key    string
		prefix bool
	}
	var entries []entry
	seen := map[string]bool{}
	for _, k := range keys {
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(k, opts.Prefix)
			if i := strings.Index(rest, opts.Delimiter); i >= 0 {
				cp := opts.Prefix + rest[:i+len(opts.Delimiter)]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{key: cp, prefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{key: k})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	start := 0
	if opts.ContinuationToken != "" {
		// Start strictly after the last returned key.
		start = sort.Search(len(entries), func(i int) bool { return entries[i].key > opts.ContinuationToken })
	}
	end := start + maxKeys
	if end > len(entries) {
		end = len(entries)
	}

	res := &provider.ListResult{Objects: []provider.ObjectSummary{}}
	for _, e := range entries[start:end] {
		if e.prefix {
			res.CommonPrefixes = append(res.CommonPrefixes, e.key)
			continue
		}
		st, err := os.Stat(p.fullPath(opts.Bucket, e.key))
		if err != nil {
			continue
		}
		size := st.Size()
		if st.IsDir() {
			size = 0
		}
		res.Objects = append(res.Objects, provider.ObjectSummary{Key: e.key, Size: size, LastModified: st.ModTime()})
	}
	if end < len(entries) {
		res.IsTruncated = true
		res.ContinuationToken = entries[end-1].key
	}
	return res, nil
}

func (p *Provider) Head(ctx context.Context, bucket, key string) (*provider.ObjectMeta, error) {
	_ = ctx
	if err := p.requireBucket(bucket); err != nil {
		return nil, p.wrapError("Head", bucket, key, err)
	}
	full, err := p.objectPath(bucket, key)
	if err != nil {
		return nil, p.wrapError("Head", bucket, key, err)
	}
	st, err := os.Stat(full)
	if err != nil {
		return nil, p.wrapError("Head", bucket, key, err)
	}
	// Directories only answer to their placeholder spelling.
	if st.IsDir() != strings.HasSuffix(key, "/") {
		return nil, p.wrapError("Head", bucket, key, provider.ErrNotFound)
	}
	size := st.Size()
	if st.IsDir() {
		size = 0
	}
	return &provider.ObjectMeta{
		ObjectSummary: provider.ObjectSummary{Key: strings.TrimPrefix(key, "/"), Size: size, LastModified: st.ModTime()},
		Bucket:        bucket,
	}, nil
}

func (p *Provider) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	_ = ctx
	full, err := p.objectPath(bucket, key)
	if err != nil {
		return nil, 0, p.wrapError("GetObject", bucket, key, err)
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			if berr := p.requireBucket(bucket); berr != nil {
				err = berr
			}
		}
		return nil, 0, p.wrapError("GetObject", bucket, key, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, p.wrapError("GetObject", bucket, key, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return io.NopCloser(strings.NewReader("")), 0, nil
	}
	return f, st.Size(), nil
}

func (p *Provider) PutObject(ctx context.Context, bucket, key string, body io.Reader, contentLength int64, contentType string) error {
	_ = contentLength
	w, err := p.NewObjectWriter(ctx, bucket, key, contentType)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, body); err != nil {
		if fw, ok := w.(*fileWriter); ok {
			_ = fw.abort()
		}
		return p.wrapError("PutObject", bucket, key, err)
	}
	return w.Close()
}

// NewObjectWriter writes to a temp file that is renamed into place on Close.
func (p *Provider) NewObjectWriter(ctx context.Context, bucket, key, contentType string) (io.WriteCloser, error) {
	_ = ctx
	_ = contentType
	if err := p.requireBucket(bucket); err != nil {
		return nil, p.wrapError("PutObject", bucket, key, err)
	}
	full, err := p.objectPath(bucket, key)
	if err != nil {
		return nil, p.wrapError("PutObject", bucket, key, err)
	}
	if strings.HasSuffix(key, "/") {
		if err := os.MkdirAll(full, 0o755); err != nil {
			return nil, p.wrapError("PutObject", bucket, key, err)
		}
		return nopWriteCloser{io.Discard}, nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, p.wrapError("PutObject", bucket, key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".gcpal-put-*")
	if err != nil {
		return nil, p.wrapError("PutObject", bucket, key, err)
	}
	return &fileWriter{p: p, bucket: bucket, key: key, tmp: tmp, dst: full}, nil
}

type fileWriter struct {
	p           *Provider
	bucket, key string
	tmp         *os.File
	dst         string
}

func (w *fileWriter) Write(b []byte) (int, error) { return w.tmp.Write(b) }

func (w *fileWriter) Close() error {
	name := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(name)
		return w.p.wrapError("PutObject", w.bucket, w.key, err)
	}
	if err := os.Rename(name, w.dst); err != nil {
		_ = os.Remove(name)
		return w.p.wrapError("PutObject", w.bucket, w.key, err)
	}
	return nil
}

func (w *fileWriter) abort() error {
	_ = w.tmp.Close()
	return os.Remove(w.tmp.Name())
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (p *Provider) DeleteObject(ctx context.Context, bucket, key string) error {
	_ = ctx
	full, err := p.objectPath(bucket, key)
	if err != nil {
		return p.wrapError("DeleteObject", bucket, key, err)
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return p.wrapError("DeleteObject", bucket, key, provider.ErrNotFound)
		}
		// A placeholder whose directory gained children stays as a prefix.
		if strings.HasSuffix(key, "/") && errors.Is(err, syscall.ENOTEMPTY) {
			return nil
		}
		return p.wrapError("DeleteObject", bucket, key, err)
	}
	p.pruneEmptyParents(bucket, filepath.Dir(full))
	return nil
}

func (p *Provider) CopyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	body, size, err := p.GetObject(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	return p.PutObject(ctx, dstBucket, dstKey, body, size, "")
}

func (p *Provider) ListBuckets(ctx context.Context, project string) ([]provider.BucketInfo, error) {
	_ = ctx
	_ = project
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, p.wrapError("ListBuckets", "", "", err)
	}
	var out []provider.BucketInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info := provider.BucketInfo{Name: e.Name(), Location: "local"}
		if fi, err := e.Info(); err == nil {
			info.Created = fi.ModTime()
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *Provider) HeadBucket(ctx context.Context, bucket string) (*provider.BucketInfo, error) {
	_ = ctx
	if err := p.requireBucket(bucket); err != nil {
		return nil, p.wrapError("HeadBucket", bucket, "", err)
	}
	st, err := os.Stat(filepath.Join(p.root, bucket))
	if err != nil {
		return nil, p.wrapError("HeadBucket", bucket, "", err)
	}
	return &provider.BucketInfo{Name: bucket, Location: "local", Created: st.ModTime()}, nil
}

func (p *Provider) CreateBucket(ctx context.Context, project, bucket, location string) error {
	_ = ctx
	_ = project
	_ = location
	if err := validBucketName(bucket); err != nil {
		return p.wrapError("CreateBucket", bucket, "", err)
	}
	if err := os.Mkdir(filepath.Join(p.root, bucket), 0o755); err != nil {
		if os.IsExist(err) {
			return p.wrapError("CreateBucket", bucket, "", provider.ErrAlreadyExists)
		}
		return p.wrapError("CreateBucket", bucket, "", err)
	}
	return nil
}

func (p *Provider) DeleteBucket(ctx context.Context, bucket string) error {
	_ = ctx
	if err := p.requireBucket(bucket); err != nil {
		return p.wrapError("DeleteBucket", bucket, "", err)
	}
	if err := os.Remove(filepath.Join(p.root, bucket)); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return p.wrapError("DeleteBucket", bucket, "", provider.ErrBucketNotEmpty)
		}
		return p.wrapError("DeleteBucket", bucket, "", err)
	}
	return nil
}

func validBucketName(bucket string) error {
	if bucket == "" || bucket == "." || bucket == ".." || strings.ContainsAny(bucket, `/\`) {
		return fmt.Errorf("invalid bucket name %q", bucket)
	}
	return nil
}

func (p *Provider) requireBucket(bucket string) error {
	if err := validBucketName(bucket); err != nil {
		return err
	}
	st, err := os.Stat(filepath.Join(p.root, bucket))
	if err != nil || !st.IsDir() {
		return provider.ErrBucketNotFound
	}
	return nil
}

func (p *Provider) fullPath(bucket, key string) string {
	full, err := p.objectPath(bucket, key)
	if err != nil {
		return filepath.Join(p.root, bucket)
	}
	return full
}

func (p *Provider) objectPath(bucket, key string) (string, error) {
	if err := validBucketName(bucket); err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(key, "/")
	// Prevent path traversal.
	clean := filepath.Clean("/" + key)
	clean = strings.TrimPrefix(clean, "/")
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.root, bucket, filepath.FromSlash(clean)), nil
}

// collectKeys walks the bucket and returns every key starting with prefix.
// Empty directories produce "dir/" placeholder keys.
func (p *Provider) collectKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	base := filepath.Join(p.root, bucket)

	// Walk from the deepest directory fully named by the prefix.
	walkFrom := base
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dir, err := p.objectPath(bucket, prefix[:i])
		if err != nil {
			return nil, err
		}
		walkFrom = dir
	}
	if _, err := os.Stat(walkFrom); err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(walkFrom, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.HasPrefix(d.Name(), ".gcpal-put-") {
			return nil
		}
		rel, rerr := filepath.Rel(base, path)
		if rerr != nil || rel == "." {
			return nil
		}
		key := filepath.ToSlash(rel)
		if d.IsDir() {
			entries, _ := os.ReadDir(path)
			if len(entries) > 0 {
				return nil
			}
			key += "/"
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// pruneEmptyParents removes directories left empty by a delete, up to the
// bucket root. GCS has no implicit directories, so an emptied prefix must
// not linger as a placeholder.
func (p *Provider) pruneEmptyParents(bucket, dir string) {
	base := filepath.Join(p.root, bucket)
	for dir != base && strings.HasPrefix(dir, base+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (p *Provider) wrapError(op, bucket, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: bucket, Key: key, Err: err}
	if err == nil {
		wrapped.Err = fmt.Errorf("unknown error")
	}
	// Normalize common filesystem errors to provider sentinels.
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
