package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/parquet"
	"github.com/3leaps/gcpal/pkg/provider"
)

// IsParquet reports whether p names a Parquet file or dataset.
func IsParquet(p string) bool {
	return strings.HasSuffix(strings.TrimSuffix(p, "/"), ".parquet")
}

func (s *Storage) putBytes(ctx context.Context, key string, data []byte) error {
	return s.withBucketRetry(ctx, func() error {
		return s.backend.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), contentTypeFor(key))
	})
}

func (s *Storage) objectAt(op, sub string) (*Storage, error) {
	t, err := s.At(sub)
	if err != nil {
		return nil, err
	}
	if t.level != LevelFile {
		return nil, t.wrap(op, fmt.Errorf("%w: an object path is required", gcp.ErrInvalidPath))
	}
	return t, nil
}

// Read returns the bytes of the object at sub.
func (s *Storage) Read(ctx context.Context, sub string) (data []byte, err error) {
	defer s.settings.Observe(Service, "Read", time.Now(), &err)

	t, err := s.objectAt("Read", sub)
	if err != nil {
		return nil, err
	}
	body, _, err := t.backend.GetObject(ctx, t.bucket, t.file)
	if err != nil {
		return nil, t.wrap("Read", err)
	}
	defer func() { _ = body.Close() }()
	data, err = io.ReadAll(body)
	if err != nil {
		return nil, t.wrap("Read", err)
	}
	return data, nil
}

// ReadRows reads a Parquet file or hive-partitioned Parquet directory.
func (s *Storage) ReadRows(ctx context.Context, sub string, opts parquet.ReadOptions) (rows []map[string]any, err error) {
	defer s.settings.Observe(Service, "ReadRows", time.Now(), &err)

	t, err := s.objectAt("ReadRows", sub)
	if err != nil {
		return nil, err
	}
	if !IsParquet(t.file) {
		return nil, t.wrap("ReadRows", fmt.Errorf("%w: only .parquet paths hold rows", gcp.ErrInvalidArgument))
	}
	rows, err = parquet.Read(ctx, parquetStore{t}, t.file, opts)
	if err != nil {
		return nil, t.wrap("ReadRows", err)
	}
	return rows, nil
}

// Write stores data at sub.
//
// []byte, string and io.Reader are written as-is. Rows
// ([]map[string]any) need a .parquet path and are written as Parquet. Any
// other value is written as JSON. A missing bucket is created.
func (s *Storage) Write(ctx context.Context, data any, sub string) (err error) {
	defer s.settings.Observe(Service, "Write", time.Now(), &err)

	t, err := s.objectAt("Write", sub)
	if err != nil {
		return err
	}

	var payload []byte
	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	case io.Reader:
		if payload, err = io.ReadAll(v); err != nil {
			return t.wrap("Write", err)
		}
	case []map[string]any:
		if !IsParquet(t.file) {
			return t.wrap("Write", fmt.Errorf("%w: rows need a .parquet path", gcp.ErrInvalidArgument))
		}
		return t.WriteRows(ctx, v, "", parquet.WriteOptions{})
	default:
		if payload, err = json.Marshal(v); err != nil {
			return t.wrap("Write", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
	}

	if err := t.putBytes(ctx, t.file, payload); err != nil {
		return t.wrap("Write", err)
	}
	t.logger.Info("Storage - Written", zap.String("dst", t.Path()), zap.Int("bytes", len(payload)))
	return nil
}

// WriteRows writes rows as Parquet at sub, partitioned per opts.
func (s *Storage) WriteRows(ctx context.Context, rows []map[string]any, sub string, opts parquet.WriteOptions) (err error) {
	defer s.settings.Observe(Service, "WriteRows", time.Now(), &err)

	t, err := s.objectAt("WriteRows", sub)
	if err != nil {
		return err
	}
	if err := parquet.Write(ctx, parquetStore{t}, t.file, rows, opts); err != nil {
		return t.wrap("WriteRows", err)
	}
	t.logger.Info("Storage - Written", zap.String("dst", t.Path()), zap.Int("rows", len(rows)),
		zap.Strings("partition_cols", opts.PartitionCols))
	return nil
}

// Open streams the object at sub. The caller closes the reader.
func (s *Storage) Open(ctx context.Context, sub string) (rc io.ReadCloser, err error) {
	defer s.settings.Observe(Service, "Open", time.Now(), &err)

	t, err := s.objectAt("Open", sub)
	if err != nil {
		return nil, err
	}
	rc, _, err = t.backend.GetObject(ctx, t.bucket, t.file)
	if err != nil {
		return nil, t.wrap("Open", err)
	}
	return rc, nil
}

// OpenWriter returns a writer for the object at sub. The object is only
// committed when Close returns nil.
func (s *Storage) OpenWriter(ctx context.Context, sub string) (wc io.WriteCloser, err error) {
	defer s.settings.Observe(Service, "OpenWriter", time.Now(), &err)

	t, err := s.objectAt("OpenWriter", sub)
	if err != nil {
		return nil, err
	}
	if o, ok := t.backend.(provider.ObjectWriterOpener); ok {
		wc, err = o.NewObjectWriter(ctx, t.bucket, t.file, contentTypeFor(t.file))
		if err != nil {
			return nil, t.wrap("OpenWriter", err)
		}
		return wc, nil
	}
	return &bufferedWriter{ctx: ctx, s: t}, nil
}

// bufferedWriter collects the object in memory and uploads it on Close.
type bufferedWriter struct {
	ctx    context.Context
	s      *Storage
	buf    bytes.Buffer
	closed bool
}

func (w *bufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("storage: write to closed writer")
	}
	return w.buf.Write(p)
}

func (w *bufferedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.s.putBytes(w.ctx, w.s.file, w.buf.Bytes()); err != nil {
		return w.s.wrap("OpenWriter", err)
	}
	return nil
}

// parquetStore exposes one bucket to the parquet package.
type parquetStore struct{ s *Storage }

func (p parquetStore) IsFile(ctx context.Context, key string) (bool, error) {
	return p.s.isFile(ctx, key)
}

func (p parquetStore) ListFiles(ctx context.Context, dir string) ([]string, error) {
	res, err := p.s.list(ctx, dirPrefix(dir), "")
	if err != nil {
		if gcp.IsNotFound(err) && !provider.IsBucketNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]string, 0, len(res.Objects))
	for _, o := range res.Objects {
		if !strings.HasSuffix(o.Key, "/") {
			out = append(out, o.Key)
		}
	}
	return out, nil
}

func (p parquetStore) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	body, _, err := p.s.backend.GetObject(ctx, p.s.bucket, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()
	return io.ReadAll(body)
}

func (p parquetStore) WriteBytes(ctx context.Context, key string, data []byte) error {
	return p.s.putBytes(ctx, key, data)
}
