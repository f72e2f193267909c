//go:build cloudintegration

package gcs_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcpal/pkg/provider"
	"github.com/3leaps/gcpal/pkg/provider/gcs"
	"github.com/3leaps/gcpal/test/cloudtest"
)

func TestProvider_Emulator_CloudIntegration(t *testing.T) {
	ctx := context.Background()
	client := cloudtest.GCSClient(t, ctx)
	bucket := cloudtest.CreateGCSBucket(t, ctx, client)
	p := gcs.NewFromClient(client, 2)

	for _, key := range []string{"data/a.txt", "data/b.txt", "data/c.txt", "top.txt"} {
		require.NoError(t, p.PutObject(ctx, bucket, key, strings.NewReader(key), int64(len(key)), "text/plain"))
	}

	t.Run("list with delimiter", func(t *testing.T) {
		res, err := p.List(ctx, provider.ListOptions{Bucket: bucket, Delimiter: "/", MaxKeys: 100})
		require.NoError(t, err)
		require.Len(t, res.Objects, 1)
		assert.Equal(t, "top.txt", res.Objects[0].Key)
		assert.Equal(t, []string{"data/"}, res.CommonPrefixes)
	})

	t.Run("list pages", func(t *testing.T) {
		all, err := provider.ListAll(ctx, p, provider.ListOptions{Bucket: bucket, Prefix: "data/"})
		require.NoError(t, err)
		assert.Len(t, all.Objects, 3)
	})

	t.Run("head copy read delete", func(t *testing.T) {
		meta, err := p.Head(ctx, bucket, "top.txt")
		require.NoError(t, err)
		assert.Equal(t, int64(len("top.txt")), meta.Size)

		require.NoError(t, p.CopyObject(ctx, bucket, "top.txt", bucket, "copy/top.txt"))
		rc, _, err := p.GetObject(ctx, bucket, "copy/top.txt")
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "top.txt", string(data))

		require.NoError(t, p.DeleteObject(ctx, bucket, "copy/top.txt"))
		_, err = p.Head(ctx, bucket, "copy/top.txt")
		assert.True(t, provider.IsNotFound(err))
	})

	t.Run("missing bucket", func(t *testing.T) {
		_, err := p.HeadBucket(ctx, "gcpal-missing-bucket-12345")
		assert.True(t, provider.IsNotFound(err))
	})
}
