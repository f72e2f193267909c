package docker

import (
	"archive/tar"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/3leaps/gcpal/pkg/gcp"
)

type fakeAPI struct {
	files     []string
	buildOpts types.ImageBuildOptions
	pushRef   string
	pushAuth  string
	stream    string
}

func (f *fakeAPI) ImageBuild(_ context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.buildOpts = options
	tr := tar.NewReader(buildContext)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.ImageBuildResponse{}, err
		}
		f.files = append(f.files, hdr.Name)
	}
	sort.Strings(f.files)
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.stream))}, nil
}

func (f *fakeAPI) ImagePush(_ context.Context, ref string, options image.PushOptions) (io.ReadCloser, error) {
	f.pushRef = ref
	f.pushAuth = options.RegistryAuth
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeAPI) Close() error { return nil }

func newTestDocker(t *testing.T, f *fakeAPI, imageName string, opts ...gcp.Option) *Docker {
	t.Helper()
	opts = append([]gcp.Option{
		gcp.WithProject("p"),
		gcp.WithInjectedClient(apiKind, f),
		gcp.WithInjectedClient(tokenKind, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "ya29.token"})),
	}, opts...)
	d, err := New(context.Background(), imageName, opts...)
	require.NoError(t, err)
	return d
}

func writeContext(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"Dockerfile":    "FROM scratch\n",
		"main.go":       "package main\n",
		"secret.env":    "TOKEN=x\n",
		".dockerignore": "*.env\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	return dir
}

func TestNew_Destination(t *testing.T) {
	f := &fakeAPI{}
	assert.Equal(t, "gcr.io/p/app:latest", newTestDocker(t, f, "app").Destination())
	assert.Equal(t, "gcr.io/p/app:v2", newTestDocker(t, f, "app", WithTag("v2")).Destination())
	assert.Equal(t,
		"europe-west2-docker.pkg.dev/p/docker/app:1",
		newTestDocker(t, f, "app", WithDestination("europe-west2-docker.pkg.dev/p/docker/app:1")).Destination())

	_, err := New(context.Background(), "App", gcp.WithProject("p"))
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestDocker_BuildHonoursDockerignore(t *testing.T) {
	f := &fakeAPI{stream: `{"stream":"Step 1/1 : FROM scratch\n"}` + "\n"}
	d := newTestDocker(t, f, "app")

	var out strings.Builder
	require.NoError(t, d.Build(context.Background(), writeContext(t), BuildOptions{Output: &out}))
	assert.Equal(t, []string{".dockerignore", "Dockerfile", "main.go"}, f.files)
	assert.Equal(t, []string{"gcr.io/p/app:latest"}, f.buildOpts.Tags)
	assert.Equal(t, DefaultDockerfile, f.buildOpts.Dockerfile)
	assert.Contains(t, out.String(), "FROM scratch")
}

func TestDocker_BuildReportsDaemonErrors(t *testing.T) {
	f := &fakeAPI{stream: `{"errorDetail":{"message":"no such file"},"error":"no such file"}` + "\n"}
	d := newTestDocker(t, f, "app")
	err := d.Build(context.Background(), writeContext(t), BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file")

	err = d.Build(context.Background(), filepath.Join(t.TempDir(), "missing"), BuildOptions{})
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestDocker_PushUsesAccessToken(t *testing.T) {
	f := &fakeAPI{stream: `{"status":"Pushed"}` + "\n"}
	d := newTestDocker(t, f, "app")

	dest, err := d.Push(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "gcr.io/p/app:latest", dest)
	assert.Equal(t, dest, f.pushRef)

	raw, err := base64.URLEncoding.DecodeString(f.pushAuth)
	require.NoError(t, err)
	var auth registry.AuthConfig
	require.NoError(t, json.Unmarshal(raw, &auth))
	assert.Equal(t, registryUser, auth.Username)
	assert.Equal(t, "ya29.token", auth.Password)
	assert.Equal(t, "gcr.io", auth.ServerAddress)
}

func TestDocker_BuildAndPush(t *testing.T) {
	f := &fakeAPI{stream: "{}\n"}
	dest, err := newTestDocker(t, f, "svc", WithTag("abc")).BuildAndPush(context.Background(), writeContext(t), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, "gcr.io/p/svc:abc", dest)
	assert.Equal(t, dest, f.pushRef)
}
