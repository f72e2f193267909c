package file

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcpal/pkg/provider"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{Root: t.TempDir()})
	require.NoError(t, err)
	return p
}

func put(t *testing.T, p *Provider, bucket, key, body string) {
	t.Helper()
	require.NoError(t, p.PutObject(context.Background(), bucket, key, strings.NewReader(body), int64(len(body)), ""))
}

func keysOf(objs []provider.ObjectSummary) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Key)
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Root: "  "}.Validate())
	assert.NoError(t, Config{Root: "/tmp/x"}.Validate())
}

func TestProvider_Buckets(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)

	require.NoError(t, p.CreateBucket(ctx, "proj", "alpha", "EU"))
	require.NoError(t, p.CreateBucket(ctx, "proj", "beta", "EU"))

	err := p.CreateBucket(ctx, "proj", "alpha", "EU")
	assert.ErrorIs(t, err, provider.ErrAlreadyExists)

	buckets, err := p.ListBuckets(ctx, "proj")
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "alpha", buckets[0].Name)
	assert.Equal(t, "beta", buckets[1].Name)

	_, err = p.HeadBucket(ctx, "gamma")
	assert.True(t, provider.IsBucketNotFound(err))

	put(t, p, "alpha", "x.txt", "x")
	assert.ErrorIs(t, p.DeleteBucket(ctx, "alpha"), provider.ErrBucketNotEmpty)
	require.NoError(t, p.DeleteBucket(ctx, "beta"))
}

func TestProvider_PutGetHead(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	require.NoError(t, p.CreateBucket(ctx, "", "b", ""))

	put(t, p, "b", "dir/file.txt", "hello")

	body, size, err := p.GetObject(ctx, "b", "dir/file.txt")
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), size)

	meta, err := p.Head(ctx, "b", "dir/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "b", meta.Bucket)

	_, err = p.Head(ctx, "b", "dir")
	assert.True(t, provider.IsNotFound(err), "a directory is not an object")

	_, err = p.Head(ctx, "b", "missing")
	assert.True(t, provider.IsNotFound(err))

	_, _, err = p.GetObject(ctx, "nobucket", "k")
	assert.True(t, provider.IsBucketNotFound(err))

	err = p.PutObject(ctx, "nobucket", "k", strings.NewReader(""), 0, "")
	assert.True(t, provider.IsBucketNotFound(err))
}

func TestProvider_ListWithDelimiter(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	require.NoError(t, p.CreateBucket(ctx, "", "b", ""))

	put(t, p, "b", "top.txt", "1")
	put(t, p, "b", "data/a.txt", "1")
	put(t, p, "b", "data/sub/b.txt", "1")
	put(t, p, "b", "empty/", "")

	res, err := p.List(ctx, provider.ListOptions{Bucket: "b", Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"top.txt"}, keysOf(res.Objects))
	assert.Equal(t, []string{"data/", "empty/"}, res.CommonPrefixes)

	res, err = p.List(ctx, provider.ListOptions{Bucket: "b", Prefix: "data/", Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a.txt"}, keysOf(res.Objects))
	assert.Equal(t, []string{"data/sub/"}, res.CommonPrefixes)

	res, err = p.List(ctx, provider.ListOptions{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a.txt", "data/sub/b.txt", "empty/", "top.txt"}, keysOf(res.Objects))

	res, err = p.List(ctx, provider.ListOptions{Bucket: "b", Prefix: "da"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data/a.txt", "data/sub/b.txt"}, keysOf(res.Objects))
}

func TestProvider_ListPaging(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	require.NoError(t, p.CreateBucket(ctx, "", "b", ""))
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		put(t, p, "b", k, k)
	}

	res, err := provider.ListAll(ctx, p, provider.ListOptions{Bucket: "b", MaxKeys: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keysOf(res.Objects))

	page, err := p.List(ctx, provider.ListOptions{Bucket: "b", MaxKeys: 2})
	require.NoError(t, err)
	assert.True(t, page.IsTruncated)
	assert.Equal(t, "b", page.ContinuationToken)
}

func TestProvider_DeleteAndCopy(t *testing.T) {
	ctx := context.Background()
	p := newTestProvider(t)
	require.NoError(t, p.CreateBucket(ctx, "", "src", ""))
	require.NoError(t, p.CreateBucket(ctx, "", "dst", ""))

	put(t, p, "src", "a/b/c.txt", "payload")
	require.NoError(t, p.CopyObject(ctx, "src", "a/b/c.txt", "dst", "copy.txt"))

	body, _, err := p.GetObject(ctx, "dst", "copy.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	_ = body.Close()
	assert.Equal(t, "payload", string(data))

	require.NoError(t, p.DeleteObject(ctx, "src", "a/b/c.txt"))
	res, err := p.List(ctx, provider.ListOptions{Bucket: "src"})
	require.NoError(t, err)
	assert.Empty(t, res.Objects, "emptied directories are pruned")

	assert.True(t, provider.IsNotFound(p.DeleteObject(ctx, "src", "a/b/c.txt")))
}

func TestProvider_RejectsTraversal(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.objectPath("b", "../../etc/passwd")
	require.NoError(t, err, "cleaned under the bucket")

	_, err = p.objectPath("../x", "k")
	assert.Error(t, err)
}
