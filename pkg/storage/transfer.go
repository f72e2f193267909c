package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/gcpal/pkg/gcp"
)

func contentTypeFor(key string) string {
	return mime.TypeByExtension(path.Ext(key))
}

// Copy copies the path to dst. A gs:// dst is a server-side copy; any
// other dst is a local path and the object (or directory, when recursive)
// is downloaded there. Copying into an existing directory or a path
// ending in "/" keeps the source file name.
func (s *Storage) Copy(ctx context.Context, dst string, recursive bool) (err error) {
	defer s.settings.Observe(Service, "Copy", time.Now(), &err)

	if !strings.HasPrefix(dst, Scheme) {
		return s.downloadTo(ctx, localPath(dst), recursive)
	}
	d, err := s.At(dst)
	if err != nil {
		return err
	}
	if d.level == LevelProject || s.level == LevelProject {
		return s.wrap("Copy", fmt.Errorf("%w: copy needs a bucket on both sides", gcp.ErrInvalidPath))
	}

	isFile, err := s.isFile(ctx, s.file)
	if err != nil {
		return s.wrap("Copy", err)
	}
	if isFile {
		dstKey := d.file
		dstIsDir, err := d.isDir(ctx, d.file)
		if err != nil && !gcp.IsNotFound(err) {
			return s.wrap("Copy", err)
		}
		if dstKey == "" || strings.HasSuffix(dstKey, "/") || dstIsDir {
			dstKey = dirPrefix(dstKey) + path.Base(s.file)
		}
		err = d.withBucketRetry(ctx, func() error {
			return s.backend.CopyObject(ctx, s.bucket, s.file, d.bucket, dstKey)
		})
		if err != nil {
			return s.wrap("Copy", err)
		}
		s.logger.Info("Storage - Copied", zap.String("src", s.Path()), zap.String("dst", d.objectPath(dstKey)))
		return nil
	}

	if !recursive {
		isDir, err := s.isDir(ctx, s.file)
		if err != nil {
			return s.wrap("Copy", err)
		}
		if isDir {
			return s.wrap("Copy", fmt.Errorf("%w: is a directory, copy it recursively", gcp.ErrFailedPrecondition))
		}
		return s.wrap("Copy", gcp.ErrNotFound)
	}

	srcPrefix := dirPrefix(s.file)
	res, err := s.list(ctx, srcPrefix, "")
	if err != nil {
		return s.wrap("Copy", err)
	}
	if len(res.Objects) == 0 {
		return s.wrap("Copy", gcp.ErrNotFound)
	}
	dstPrefix := dirPrefix(d.file)
	if ok, err := d.bucketExists(ctx); err != nil {
		return err
	} else if !ok {
		if err := d.CreateBucket(ctx, "", true); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	for _, o := range res.Objects {
		g.Go(func() error {
			return s.backend.CopyObject(gctx, s.bucket, o.Key, d.bucket, dstPrefix+strings.TrimPrefix(o.Key, srcPrefix))
		})
	}
	if err := g.Wait(); err != nil {
		return s.wrap("Copy", err)
	}
	s.logger.Info("Storage - Copied", zap.String("src", s.Path()), zap.String("dst", d.Path()), zap.Int("objects", len(res.Objects)))
	return nil
}

// Move copies the path to dst and then removes the source.
func (s *Storage) Move(ctx context.Context, dst string, recursive bool) (err error) {
	defer s.settings.Observe(Service, "Move", time.Now(), &err)

	if err := s.Copy(ctx, dst, recursive); err != nil {
		return err
	}
	if err := s.Rm(ctx, recursive); err != nil {
		return err
	}
	s.logger.Info("Storage - Moved", zap.String("src", s.Path()), zap.String("dst", dst))
	return nil
}

func localPath(p string) string {
	return filepath.FromSlash(strings.TrimPrefix(p, "file://"))
}

// Upload copies a local file to the path. A directory is uploaded
// file by file when recursive. Uploading into a bucket, a path ending in
// "/" or an existing directory keeps the local file name.
func (s *Storage) Upload(ctx context.Context, local string, recursive bool) (err error) {
	defer s.settings.Observe(Service, "Upload", time.Now(), &err)

	if err := s.requireBucket("Upload"); err != nil {
		return err
	}
	local = localPath(local)
	info, err := os.Stat(local)
	if err != nil {
		return s.wrap("Upload", err)
	}

	if !info.IsDir() {
		key := s.file
		isDir, err := s.isDir(ctx, key)
		if err != nil && !gcp.IsNotFound(err) {
			return s.wrap("Upload", err)
		}
		if key == "" || strings.HasSuffix(key, "/") || (isDir && s.level == LevelFile) {
			key = dirPrefix(key) + filepath.Base(local)
		}
		if err := s.uploadFile(ctx, local, key); err != nil {
			return s.wrap("Upload", err)
		}
		s.logger.Info("Storage - Uploaded", zap.String("src", local), zap.String("dst", s.objectPath(key)))
		return nil
	}

	if !recursive {
		return s.wrap("Upload", fmt.Errorf("%w: %s is a directory, upload it recursively", gcp.ErrFailedPrecondition, local))
	}
	var files []string
	err = filepath.WalkDir(local, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return s.wrap("Upload", err)
	}

	// Make sure the bucket exists before fanning out.
	if ok, err := s.bucketExists(ctx); err != nil {
		return err
	} else if !ok {
		if err := s.CreateBucket(ctx, "", true); err != nil {
			return err
		}
	}

	prefix := dirPrefix(s.file)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	for _, f := range files {
		g.Go(func() error {
			rel, err := filepath.Rel(local, f)
			if err != nil {
				return err
			}
			return s.uploadFile(gctx, f, prefix+filepath.ToSlash(rel))
		})
	}
	if err := g.Wait(); err != nil {
		return s.wrap("Upload", err)
	}
	s.logger.Info("Storage - Uploaded", zap.String("src", local), zap.String("dst", s.Path()), zap.Int("files", len(files)))
	return nil
}

func (s *Storage) uploadFile(ctx context.Context, local, key string) error {
	return s.withBucketRetry(ctx, func() error {
		f, err := os.Open(local)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		return s.backend.PutObject(ctx, s.bucket, key, f, info.Size(), contentTypeFor(key))
	})
}

// UploadContents writes data to the object at the path.
func (s *Storage) UploadContents(ctx context.Context, data []byte) (err error) {
	defer s.settings.Observe(Service, "UploadContents", time.Now(), &err)

	if s.level != LevelFile {
		return s.wrap("UploadContents", fmt.Errorf("%w: an object path is required", gcp.ErrInvalidPath))
	}
	if err := s.putBytes(ctx, s.file, data); err != nil {
		return s.wrap("UploadContents", err)
	}
	s.logger.Info("Storage - Uploaded", zap.String("dst", s.Path()), zap.Int("bytes", len(data)))
	return nil
}

// Download saves the object (or, recursively, every object below a
// directory) to local. With an empty local path nothing is written and
// the object's bytes are returned, as Read does.
func (s *Storage) Download(ctx context.Context, local string, recursive bool) (data []byte, err error) {
	if local == "" {
		return s.Read(ctx, "")
	}
	defer s.settings.Observe(Service, "Download", time.Now(), &err)
	return nil, s.downloadTo(ctx, localPath(local), recursive)
}

func (s *Storage) downloadTo(ctx context.Context, local string, recursive bool) error {
	if s.level == LevelProject {
		return s.wrap("Download", fmt.Errorf("%w: a bucket is required", gcp.ErrInvalidPath))
	}
	isFile, err := s.isFile(ctx, s.file)
	if err != nil {
		return s.wrap("Download", err)
	}
	if isFile {
		target := local
		if info, err := os.Stat(local); (err == nil && info.IsDir()) || strings.HasSuffix(local, string(filepath.Separator)) {
			target = filepath.Join(local, path.Base(s.file))
		}
		if err := s.downloadFile(ctx, s.file, target); err != nil {
			return s.wrap("Download", err)
		}
		s.logger.Info("Storage - Downloaded", zap.String("src", s.Path()), zap.String("dst", target))
		return nil
	}

	if !recursive {
		isDir, err := s.isDir(ctx, s.file)
		if err != nil {
			return s.wrap("Download", err)
		}
		if isDir {
			return s.wrap("Download", fmt.Errorf("%w: is a directory, download it recursively", gcp.ErrFailedPrecondition))
		}
		return s.wrap("Download", gcp.ErrNotFound)
	}

	prefix := dirPrefix(s.file)
	res, err := s.list(ctx, prefix, "")
	if err != nil {
		return s.wrap("Download", err)
	}
	if len(res.Objects) == 0 {
		return s.wrap("Download", gcp.ErrNotFound)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.Workers)
	for _, o := range res.Objects {
		rel := strings.TrimPrefix(o.Key, prefix)
		target := filepath.Join(local, filepath.FromSlash(rel))
		if strings.HasSuffix(o.Key, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return s.wrap("Download", err)
			}
			continue
		}
		g.Go(func() error { return s.downloadFile(gctx, o.Key, target) })
	}
	if err := g.Wait(); err != nil {
		return s.wrap("Download", err)
	}
	s.logger.Info("Storage - Downloaded", zap.String("src", s.Path()), zap.String("dst", local), zap.Int("objects", len(res.Objects)))
	return nil
}

func (s *Storage) downloadFile(ctx context.Context, key, target string) error {
	body, _, err := s.backend.GetObject(ctx, s.bucket, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
