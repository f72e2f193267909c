package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/parquet"
	"github.com/3leaps/gcpal/pkg/provider/file"
)

type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) Observe(service, op string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, service+"."+op)
}

func newBackend(t *testing.T) *file.Provider {
	t.Helper()
	b, err := file.New(file.Config{Root: t.TempDir()})
	require.NoError(t, err)
	return b
}

func newTestStorage(t *testing.T, b *file.Provider, path string, opts ...gcp.Option) *Storage {
	t.Helper()
	opts = append([]gcp.Option{WithBackend(b), gcp.WithProject("test-project")}, opts...)
	s, err := New(context.Background(), path, opts...)
	require.NoError(t, err)
	return s
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		override   string
		wantBucket string
		wantFile   string
		wantErr    bool
	}{
		{name: "scheme bucket", path: "gs://bkt", wantBucket: "bkt"},
		{name: "no scheme", path: "bkt/a/b.txt", wantBucket: "bkt", wantFile: "a/b.txt"},
		{name: "trailing slash kept", path: "gs://bkt/dir/", wantBucket: "bkt", wantFile: "dir/"},
		{name: "project", path: "", wantBucket: ""},
		{name: "scheme only", path: "gs://", wantBucket: ""},
		{name: "override makes key", path: "a/b.txt", override: "other", wantBucket: "other", wantFile: "a/b.txt"},
		{name: "override replaces bucket", path: "gs://bkt/a", override: "other", wantBucket: "other", wantFile: "a"},
		{name: "override leading slash", path: "/a", override: "other", wantBucket: "other", wantFile: "a"},
		{name: "space in bucket", path: "gs://b kt/a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, file, err := parsePath(tt.path, tt.override)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, gcp.IsInvalidPath(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantFile, file)
		})
	}
}

func TestStorage_LevelPathName(t *testing.T) {
	b := newBackend(t)

	tests := []struct {
		path      string
		wantLevel Level
		wantPath  string
		wantName  string
	}{
		{"", LevelProject, "gs://", ""},
		{"gs://bkt", LevelBucket, "gs://bkt", "bkt"},
		{"bkt/dir/file.csv", LevelFile, "gs://bkt/dir/file.csv", "dir/file.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s := newTestStorage(t, b, tt.path)
			assert.Equal(t, tt.wantLevel, s.Level())
			assert.Equal(t, tt.wantPath, s.Path())
			assert.Equal(t, tt.wantName, s.Name())
		})
	}
	assert.Equal(t, "bucket", LevelBucket.String())
}

func TestStorage_SuffixPath(t *testing.T) {
	s := newTestStorage(t, newBackend(t), "gs://bkt/dir/")

	assert.Equal(t, "gs://bkt/dir/", s.suffixPath(""))
	assert.Equal(t, "gs://other/x", s.suffixPath("gs://other/x"))
	assert.Equal(t, "gs://bkt/dir/a.txt", s.suffixPath("/a.txt"))
	assert.Equal(t, "gs://bkt/dir/a.txt", s.suffixPath("a.txt"))

	s2 := newTestStorage(t, newBackend(t), "gs://bkt/dir")
	assert.Equal(t, "gs://bkt/dir/a.txt", s2.suffixPath("a.txt"))
}

func seed(t *testing.T, s *Storage, files map[string]string) {
	t.Helper()
	for k, v := range files {
		require.NoError(t, s.Write(context.Background(), v, k))
	}
}

func TestStorage_WriteCreatesMissingBucket(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	s := newTestStorage(t, newBackend(t), "gs://fresh", gcp.WithLogger(zap.New(core)))

	require.NoError(t, s.Write(ctx, "hello", "a.txt"))

	got, err := s.Read(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	assert.Equal(t, 1, logs.FilterMessage("Storage - Created bucket").Len())
	assert.Equal(t, 1, logs.FilterMessage("Storage - Written").Len())
}

func TestStorage_Ls(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	s := newTestStorage(t, b, "gs://bkt")
	seed(t, s, map[string]string{"dir/a.txt": "a", "dir/sub/b.txt": "b", "top.txt": "t"})
	require.NoError(t, s.Mkdir(ctx, "empty"))

	got, err := s.Ls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bkt/dir/", "gs://bkt/empty/", "gs://bkt/top.txt"}, got)

	dir, err := s.At("dir")
	require.NoError(t, err)
	got, err = dir.Ls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bkt/dir/a.txt", "gs://bkt/dir/sub/"}, got)

	one, err := s.At("top.txt")
	require.NoError(t, err)
	got, err = one.Ls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bkt/top.txt"}, got)

	emptyDir, err := s.At("empty/")
	require.NoError(t, err)
	got, err = emptyDir.Ls(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	project := newTestStorage(t, b, "")
	got, err = project.Ls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bkt"}, got)
}

func TestStorage_Glob(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"dir/a.txt": "a", "dir/b.csv": "b", "dir/sub/c.csv": "c"})

	got, err := s.Glob(ctx, "dir/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bkt/dir/a.txt", "gs://bkt/dir/b.csv", "gs://bkt/dir/sub"}, got)

	got, err = s.Glob(ctx, "**/*.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bkt/dir/b.csv", "gs://bkt/dir/sub/c.csv"}, got)

	got, err = s.Glob(ctx, "dir/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://bkt/dir/a.txt"}, got)

	got, err = s.Glob(ctx, "dir/missing.txt")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Glob(ctx, "gs://bk*/x")
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestStorage_ExistsIsDirIsFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"dir/a.txt": "a"})
	require.NoError(t, s.Mkdir(ctx, "placeholder"))

	tests := []struct {
		sub                  string
		exists, isDir, isFile bool
	}{
		{"", true, true, false},
		{"dir", true, true, false},
		{"dir/", true, true, false},
		{"dir/a.txt", true, false, true},
		{"placeholder", true, true, false},
		{"nope", false, false, false},
		{"gs://missing-bucket", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.sub, func(t *testing.T) {
			ok, err := s.Exists(ctx, tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.exists, ok, "exists")

			ok, err = s.IsDir(ctx, tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.isDir, ok, "isDir")

			ok, err = s.IsFile(ctx, tt.sub)
			require.NoError(t, err)
			assert.Equal(t, tt.isFile, ok, "isFile")
		})
	}
}

func TestStorage_ObjectAndBucketInfo(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"a.txt": "abc"})

	meta, err := s.Object(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Size)
	assert.Equal(t, "a.txt", meta.Key)

	_, err = s.Object(ctx, "missing.txt")
	assert.True(t, gcp.IsNotFound(err))

	_, err = s.Object(ctx, "")
	assert.True(t, gcp.IsInvalidPath(err))

	info, err := s.BucketInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bkt", info.Name)
}

func TestStorage_CreateAndDelete(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)
	s := newTestStorage(t, b, "gs://bkt")

	require.NoError(t, s.Create(ctx))
	err := s.Create(ctx)
	assert.True(t, gcp.IsAlreadyExists(err))
	require.NoError(t, s.CreateBucket(ctx, "", true))

	seed(t, s, map[string]string{"x/y.txt": "y"})
	err = s.Delete(ctx, false)
	require.Error(t, err)

	require.NoError(t, s.Delete(ctx, true))
	ok, err := s.Exists(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	dir := newTestStorage(t, b, "gs://other/newdir")
	require.NoError(t, dir.Create(ctx))
	ok, err = dir.IsDir(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = New(ctx, "", WithBackend(b))
	require.NoError(t, err)
	assert.Error(t, newTestStorage(t, b, "").Create(ctx))
}

func TestStorage_Rm(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"dir/a.txt": "a", "dir/sub/b.txt": "b", "keep.txt": "k"})

	file, err := s.At("keep.txt")
	require.NoError(t, err)
	require.NoError(t, file.Rm(ctx, false))
	ok, _ := s.Exists(ctx, "keep.txt")
	assert.False(t, ok)

	dir, err := s.At("dir")
	require.NoError(t, err)
	err = dir.Rm(ctx, false)
	assert.True(t, gcp.IsFailedPrecondition(err))

	require.NoError(t, dir.Rm(ctx, true))
	ok, _ = s.Exists(ctx, "dir")
	assert.False(t, ok)

	missing, err := s.At("missing")
	require.NoError(t, err)
	assert.True(t, gcp.IsNotFound(missing.Rm(ctx, true)))

	assert.True(t, gcp.IsInvalidPath(s.Rm(ctx, true)))
}

func TestStorage_Rmdir(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"dir/a.txt": "a"})
	require.NoError(t, s.Mkdir(ctx, "dir/empty"))

	require.NoError(t, s.Rmdir(ctx, "dir"))
	ok, _ := s.Exists(ctx, "dir")
	assert.False(t, ok)

	assert.True(t, gcp.IsNotFound(s.Rmdir(ctx, "dir")))
}

func TestStorage_CopyAndMove(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"dir/a.txt": "a", "dir/sub/b.txt": "b"})

	a, err := s.At("dir/a.txt")
	require.NoError(t, err)
	require.NoError(t, a.Copy(ctx, "gs://bkt/other/", false))
	got, err := s.Read(ctx, "other/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	require.NoError(t, a.Copy(ctx, "gs://bkt/renamed.txt", false))
	ok, _ := s.IsFile(ctx, "renamed.txt")
	assert.True(t, ok)

	dir, err := s.At("dir")
	require.NoError(t, err)
	assert.True(t, gcp.IsFailedPrecondition(dir.Copy(ctx, "gs://bkt2/copy", false)))

	require.NoError(t, dir.Copy(ctx, "gs://bkt2/copy", true))
	got, err = s.Read(ctx, "gs://bkt2/copy/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "b", string(got))

	renamed, err := s.At("renamed.txt")
	require.NoError(t, err)
	require.NoError(t, renamed.Move(ctx, "gs://bkt/moved.txt", false))
	ok, _ = s.Exists(ctx, "renamed.txt")
	assert.False(t, ok)
	ok, _ = s.IsFile(ctx, "moved.txt")
	assert.True(t, ok)
}

func TestStorage_UploadDownload(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "x.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(local, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "nested", "y.txt"), []byte("y"), 0o644))

	require.NoError(t, s.Upload(ctx, filepath.Join(local, "x.txt"), false))
	ok, _ := s.IsFile(ctx, "x.txt")
	assert.True(t, ok)

	up, err := s.At("up")
	require.NoError(t, err)
	assert.True(t, gcp.IsFailedPrecondition(up.Upload(ctx, local, false)))
	require.NoError(t, up.Upload(ctx, local, true))
	got, err := s.Read(ctx, "up/nested/y.txt")
	require.NoError(t, err)
	assert.Equal(t, "y", string(got))

	x, err := s.At("x.txt")
	require.NoError(t, err)
	data, err := x.Download(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	out := t.TempDir()
	_, err = x.Download(ctx, out, false)
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(out, "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))

	tree := filepath.Join(t.TempDir(), "tree")
	_, err = up.Download(ctx, tree, true)
	require.NoError(t, err)
	b, err = os.ReadFile(filepath.Join(tree, "nested", "y.txt"))
	require.NoError(t, err)
	assert.Equal(t, "y", string(b))

	// Copy to a local path is a download.
	dst := filepath.Join(t.TempDir(), "copy.txt")
	require.NoError(t, x.Copy(ctx, dst, false))
	b, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "x", string(b))
}

func TestStorage_UploadContents(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt/blob.bin")

	require.NoError(t, s.UploadContents(ctx, []byte{1, 2, 3}))
	got, err := s.Read(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	bucket := newTestStorage(t, newBackend(t), "gs://bkt")
	assert.True(t, gcp.IsInvalidPath(bucket.UploadContents(ctx, nil)))
}

func TestStorage_WriteValues(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")

	require.NoError(t, s.Write(ctx, map[string]int{"a": 1}, "doc.json"))
	got, err := s.Read(ctx, "doc.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	err = s.Write(ctx, []map[string]any{{"a": 1}}, "rows.csv")
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
}

func TestStorage_OpenWriter(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	require.NoError(t, s.CreateBucket(ctx, "", false))

	w, err := s.OpenWriter(ctx, "stream.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("part1 "))
	require.NoError(t, err)
	_, err = w.Write([]byte("part2"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := s.Open(ctx, "stream.txt")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	assert.Equal(t, "part1 part2", string(buf[:n]))
}

func TestBufferedWriter(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt/buffered.txt")

	w := &bufferedWriter{ctx: ctx, s: s}
	_, err := w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("late"))
	assert.Error(t, err)

	got, err := s.Read(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}

func TestStorage_Walk(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")
	seed(t, s, map[string]string{"a.txt": "a", "d1/b.txt": "b", "d1/d2/c.txt": "c", "skip/x.txt": "x"})

	type visit struct {
		dir          string
		dirs, files []string
	}
	var visits []visit
	err := s.Walk(ctx, func(dir string, dirs, files []string) error {
		visits = append(visits, visit{dir, dirs, files})
		if dir == "gs://bkt/skip" {
			return fs.SkipDir
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, visits, 4)
	assert.Equal(t, visit{"gs://bkt", []string{"d1", "skip"}, []string{"a.txt"}}, visits[0])
	assert.Equal(t, visit{"gs://bkt/d1", []string{"d2"}, []string{"b.txt"}}, visits[1])
	assert.Equal(t, visit{"gs://bkt/d1/d2", nil, []string{"c.txt"}}, visits[2])
	assert.Equal(t, "gs://bkt/skip", visits[3].dir)

	stop := errors.New("stop")
	err = s.Walk(ctx, func(string, []string, []string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestStorage_ParquetRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, newBackend(t), "gs://bkt")

	rows := []map[string]any{
		{"id": int64(1), "region": "eu"},
		{"id": int64(2), "region": "us"},
		{"id": int64(3), "region": "eu"},
	}
	require.NoError(t, s.Write(ctx, rows, "single.parquet"))
	got, err := s.ReadRows(ctx, "single.parquet", parquet.ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	require.NoError(t, s.WriteRows(ctx, rows, "ds.parquet", parquet.WriteOptions{PartitionCols: []string{"region"}}))
	ok, err := s.IsFile(ctx, "ds.parquet/region=eu/0.parquet")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.ReadRows(ctx, "ds.parquet/", parquet.ReadOptions{
		Filters: parquet.GenerateFilters(map[string]any{"region": "eu"}),
		Columns: []string{"id", "region"},
	})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "region": "eu"},
		{"id": int64(3), "region": "eu"},
	}, got)

	_, err = s.ReadRows(ctx, "data.csv", parquet.ReadOptions{})
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
}

func TestStorage_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	s := newTestStorage(t, newBackend(t), "gs://bkt", gcp.WithRecorder(rec))

	require.NoError(t, s.Write(ctx, "x", "a.txt"))
	_, err := s.Read(ctx, "a.txt")
	require.NoError(t, err)

	assert.Contains(t, rec.ops, "storage.Write")
	assert.Contains(t, rec.ops, "storage.Read")
}

func TestIsParquet(t *testing.T) {
	assert.True(t, IsParquet("a/b.parquet"))
	assert.True(t, IsParquet("a/b.parquet/"))
	assert.False(t, IsParquet("a/b.csv"))
}
